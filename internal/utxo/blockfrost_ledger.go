package utxo

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ghost-Capital/lendex-catalyst/internal/blockfrost"
)

// Indexer is the subset of the Blockfrost API the ledger adapter uses.
type Indexer interface {
	AddressUTxOs(ctx context.Context, address string) ([]blockfrost.AddressUTxO, error)
	Tx(ctx context.Context, txHash string) (*blockfrost.Transaction, error)
	SubmitTx(ctx context.Context, signed []byte) (string, error)
}

// Signer balances a plan with wallet inputs, signs it and returns the signed
// transaction CBOR. Key custody lives behind this port.
type Signer interface {
	Sign(ctx context.Context, plan TxPlan) ([]byte, error)
}

// BlockfrostLedger reads and submits through the indexer.
type BlockfrostLedger struct {
	indexer      Indexer
	signer       Signer
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewBlockfrostLedger(indexer Indexer, signer Signer, pollInterval time.Duration, logger *slog.Logger) *BlockfrostLedger {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockfrostLedger{indexer: indexer, signer: signer, pollInterval: pollInterval, logger: logger}
}

func (l *BlockfrostLedger) UTxOsAt(ctx context.Context, address string) ([]UTxO, error) {
	raw, err := l.indexer.AddressUTxOs(ctx, address)
	if err != nil {
		return nil, err
	}
	out := make([]UTxO, 0, len(raw))
	for _, r := range raw {
		value, err := toValue(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("utxo %s#%d: %w", r.TxHash, r.OutputIndex, err)
		}
		u := UTxO{
			Ref:     OutRef{TxHash: r.TxHash, Index: r.OutputIndex},
			Address: r.Address,
			Value:   value,
		}
		if r.InlineDatum != nil && *r.InlineDatum != "" {
			datum, err := hex.DecodeString(*r.InlineDatum)
			if err != nil {
				return nil, fmt.Errorf("utxo %s#%d: inline datum: %w", r.TxHash, r.OutputIndex, err)
			}
			u.InlineDatum = datum
		}
		out = append(out, u)
	}
	return out, nil
}

func (l *BlockfrostLedger) Submit(ctx context.Context, plan TxPlan) (string, error) {
	if l.signer == nil {
		return "", errors.New("no signer configured")
	}
	signed, err := l.signer.Sign(ctx, plan)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	hash, err := l.indexer.SubmitTx(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	l.logger.Info("transaction submitted", "tx", hash)
	return hash, nil
}

// AwaitTx polls until the indexer reports the transaction in a block. There is
// no timeout of its own; ctx bounds the wait.
func (l *BlockfrostLedger) AwaitTx(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		tx, err := l.indexer.Tx(ctx, txHash)
		if err == nil && tx.Block != "" {
			l.logger.Info("transaction confirmed", "tx", txHash, "block_height", tx.BlockHeight)
			return nil
		}
		if err != nil && !errors.Is(err, blockfrost.ErrNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func toValue(amounts []blockfrost.Amount) (Value, error) {
	var v Value
	for _, a := range amounts {
		qty, err := strconv.ParseInt(strings.TrimSpace(a.Quantity), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("quantity of %s: %w", a.Unit, err)
		}
		if a.Unit == "lovelace" {
			v.Lovelace += qty
			continue
		}
		if v.Assets == nil {
			v.Assets = make(map[string]int64)
		}
		v.Assets[a.Unit] += qty
	}
	return v, nil
}

// RemoteSigner hands plans to an external wallet service over HTTP.
type RemoteSigner struct {
	URL        string
	HTTPClient *http.Client
}

func (s RemoteSigner) Sign(ctx context.Context, plan TxPlan) ([]byte, error) {
	if strings.TrimSpace(s.URL) == "" {
		return nil, errors.New("wallet signer url is empty")
	}
	body, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wallet signer status %d", resp.StatusCode)
	}

	var payload struct {
		CBORHex HexBytes `json:"cborHex"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode signer response: %w", err)
	}
	if len(payload.CBORHex) == 0 {
		return nil, errors.New("wallet signer returned empty transaction")
	}
	return payload.CBORHex, nil
}
