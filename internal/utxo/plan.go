package utxo

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// HexBytes marshals to JSON as unprefixed lowercase hex.
type HexBytes []byte

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("hex bytes: %w", err)
	}
	*b = raw
	return nil
}

// OutRef points at one transaction output.
type OutRef struct {
	TxHash string `json:"txHash"`
	Index  uint32 `json:"index"`
}

func (r OutRef) String() string {
	return fmt.Sprintf("%s#%d", r.TxHash, r.Index)
}

type Value struct {
	Lovelace int64            `json:"lovelace"`
	Assets   map[string]int64 `json:"assets,omitempty"`
}

func (v Value) Quantity(unit string) int64 {
	return v.Assets[unit]
}

type UTxO struct {
	Ref         OutRef   `json:"ref"`
	Address     string   `json:"address"`
	Value       Value    `json:"value"`
	InlineDatum HexBytes `json:"inlineDatum,omitempty"`
}

type Output struct {
	Address     string   `json:"address"`
	Value       Value    `json:"value"`
	InlineDatum HexBytes `json:"inlineDatum,omitempty"`
}

// ScriptInput is a script-locked output spent under a validator.
type ScriptInput struct {
	UTxO      UTxO     `json:"utxo"`
	Redeemer  HexBytes `json:"redeemer"`
	Validator HexBytes `json:"validator"`
}

// TxPlan describes every leg of one atomic transaction. The wallet adds the
// fee-covering inputs and change when it balances and signs the plan.
type TxPlan struct {
	ScriptInputs  []ScriptInput    `json:"scriptInputs,omitempty"`
	Mint          map[string]int64 `json:"mint,omitempty"`
	MintRedeemer  HexBytes         `json:"mintRedeemer,omitempty"`
	MintingPolicy HexBytes         `json:"mintingPolicy,omitempty"`
	Outputs       []Output         `json:"outputs"`
	ValidTo       time.Time        `json:"validTo"`
}

// Ledger is the UTxO ledger as seen by the lock protocol.
type Ledger interface {
	UTxOsAt(ctx context.Context, address string) ([]UTxO, error)
	// Submit balances, signs and submits plan, returning the transaction hash.
	Submit(ctx context.Context, plan TxPlan) (string, error)
	// AwaitTx blocks until the transaction is on chain or ctx ends.
	AwaitTx(ctx context.Context, txHash string) error
}
