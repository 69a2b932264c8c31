package utxo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var errUnknownTx = errors.New("unknown transaction")

// MemoryLedger is an in-process UTxO ledger. A plan is validated as a whole
// and either applied completely or rejected without any effect. It pays
// wallet-side lovelace from a single funded wallet balance.
type MemoryLedger struct {
	mu      sync.Mutex
	utxos   map[OutRef]UTxO
	supply  map[string]int64
	wallet  int64
	txs     map[string]TxPlan
	counter uint64
	reject  error
}

func NewMemoryLedger(walletLovelace int64) *MemoryLedger {
	return &MemoryLedger{
		utxos:  make(map[OutRef]UTxO),
		supply: make(map[string]int64),
		wallet: walletLovelace,
		txs:    make(map[string]TxPlan),
	}
}

// RejectNext makes the next submission fail with err.
func (m *MemoryLedger) RejectNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reject = err
}

func (m *MemoryLedger) UTxOsAt(_ context.Context, address string) ([]UTxO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UTxO
	for _, u := range m.utxos {
		if u.Address == address {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.String() < out[j].Ref.String() })
	return out, nil
}

func (m *MemoryLedger) Submit(_ context.Context, plan TxPlan) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reject != nil {
		err := m.reject
		m.reject = nil
		return "", err
	}

	spentLovelace := int64(0)
	assetsIn := make(map[string]int64)
	seen := make(map[OutRef]bool)
	for _, in := range plan.ScriptInputs {
		u, ok := m.utxos[in.UTxO.Ref]
		if !ok || seen[in.UTxO.Ref] {
			return "", fmt.Errorf("input %s is not spendable", in.UTxO.Ref)
		}
		if len(in.Redeemer) == 0 || len(in.Validator) == 0 {
			return "", fmt.Errorf("input %s is missing redeemer or validator", in.UTxO.Ref)
		}
		seen[in.UTxO.Ref] = true
		spentLovelace += u.Value.Lovelace
		for unit, qty := range u.Value.Assets {
			assetsIn[unit] += qty
		}
	}

	if len(plan.Mint) > 0 && (len(plan.MintRedeemer) == 0 || len(plan.MintingPolicy) == 0) {
		return "", fmt.Errorf("mint without policy or redeemer")
	}
	for unit, delta := range plan.Mint {
		if next := m.supply[unit] + delta; next < 0 || next > 1 {
			return "", fmt.Errorf("mint of %s would leave supply %d", unit, next)
		}
	}

	outLovelace := int64(0)
	assetsOut := make(map[string]int64)
	for i, out := range plan.Outputs {
		if out.Value.Lovelace <= 0 {
			return "", fmt.Errorf("output %d carries no lovelace", i)
		}
		outLovelace += out.Value.Lovelace
		for unit, qty := range out.Value.Assets {
			assetsOut[unit] += qty
		}
	}
	for unit := range union(assetsIn, assetsOut, plan.Mint) {
		if assetsIn[unit]+plan.Mint[unit] != assetsOut[unit] {
			return "", fmt.Errorf("asset %s is not balanced", unit)
		}
	}

	fromWallet := outLovelace - spentLovelace
	if fromWallet > m.wallet {
		return "", fmt.Errorf("insufficient wallet funds: need %d have %d", fromWallet, m.wallet)
	}

	m.counter++
	sum := sha256.Sum256([]byte(fmt.Sprintf("memory-ledger-%d", m.counter)))
	txHash := hex.EncodeToString(sum[:])

	for _, in := range plan.ScriptInputs {
		delete(m.utxos, in.UTxO.Ref)
	}
	for unit, delta := range plan.Mint {
		m.supply[unit] += delta
	}
	for i, out := range plan.Outputs {
		ref := OutRef{TxHash: txHash, Index: uint32(i)}
		m.utxos[ref] = UTxO{Ref: ref, Address: out.Address, Value: copyValue(out.Value), InlineDatum: out.InlineDatum}
	}
	m.wallet -= fromWallet
	m.txs[txHash] = plan
	return txHash, nil
}

func (m *MemoryLedger) AwaitTx(_ context.Context, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[txHash]; !ok {
		return fmt.Errorf("%w: %s", errUnknownTx, txHash)
	}
	return nil
}

// Balance sums the lovelace held at address.
func (m *MemoryLedger) Balance(address string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, u := range m.utxos {
		if u.Address == address {
			total += u.Value.Lovelace
		}
	}
	return total
}

func (m *MemoryLedger) Supply(unit string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply[unit]
}

func (m *MemoryLedger) Wallet() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallet
}

func copyValue(v Value) Value {
	out := Value{Lovelace: v.Lovelace}
	if len(v.Assets) > 0 {
		out.Assets = make(map[string]int64, len(v.Assets))
		for k, q := range v.Assets {
			out.Assets[k] = q
		}
	}
	return out
}

func union(maps ...map[string]int64) map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			out[k] = struct{}{}
		}
	}
	return out
}
