package utxo

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/blake2b"

	"github.com/Ghost-Capital/lendex-catalyst/internal/plutusdata"
)

type Network uint8

const (
	Testnet Network = 0
	Mainnet Network = 1
)

func (n Network) hrp() string {
	if n == Mainnet {
		return "addr"
	}
	return "addr_test"
}

const (
	plutusV2Tag = 0x02
	// enterprise address whose payment credential is a script
	scriptEnterpriseHeader = 0x70
)

// Applied is one deployment instance of the lending validators.
type Applied struct {
	PayScript    []byte
	BorrowScript []byte
	PayHash      string
	PolicyID     string
	LockAddress  string
	// MintParams is the Plutus data the minting policy is parameterized with.
	// It is empty when the blueprint ships the policy already applied.
	MintParams []byte
	// Preapplied is set when the minting policy came applied from the
	// blueprint and the nonce played no part.
	Preapplied bool
}

// Apply derives the spending validator and nonce-parameterized minting policy
// for namespace. The same catalog, nonce and network always yield the same
// policy id and lock address; a different nonce yields different ones.
//
// A borrow validator with no parameters left is used as is, with its
// blueprint hash as the policy id. Otherwise the policy is derived here by
// appending the encoded parameters to the compiled code, which is only
// stable within this service: deployments that must agree with an on-chain
// policy should ship the applied blueprint.
func Apply(cat *Catalog, namespace string, nonce []byte, network Network) (Applied, error) {
	pay, err := cat.Lookup(namespace + ".pay")
	if err != nil {
		return Applied{}, err
	}
	borrow, err := cat.Lookup(namespace + ".borrow")
	if err != nil {
		return Applied{}, err
	}
	if pay.Parameterized() {
		return Applied{}, ErrBadValidator.Withf("%s expects parameters %v", pay.Title, pay.Parameters)
	}

	payHash := pay.Hash
	if payHash == nil {
		payHash = scriptHash(pay.CompiledCode)
	}
	lockAddress, err := scriptAddress(payHash, network)
	if err != nil {
		return Applied{}, err
	}
	applied := Applied{
		PayScript:   pay.CompiledCode,
		PayHash:     hex.EncodeToString(payHash),
		LockAddress: lockAddress,
	}

	if !borrow.Parameterized() {
		policy := borrow.Hash
		if policy == nil {
			policy = scriptHash(borrow.CompiledCode)
		}
		applied.BorrowScript = borrow.CompiledCode
		applied.PolicyID = hex.EncodeToString(policy)
		applied.Preapplied = true
		return applied, nil
	}

	if len(nonce) == 0 {
		return Applied{}, ErrMissingNonce
	}
	// Mint { script: ScriptCredential(payHash), nonce }
	params, err := plutusdata.Encode(plutusdata.Constr{Fields: []any{
		plutusdata.Constr{Index: 1, Fields: []any{payHash}},
		nonce,
	}})
	if err != nil {
		return Applied{}, fmt.Errorf("encode mint params: %w", err)
	}

	borrowScript := make([]byte, 0, len(borrow.CompiledCode)+len(params))
	borrowScript = append(borrowScript, borrow.CompiledCode...)
	borrowScript = append(borrowScript, params...)

	applied.BorrowScript = borrowScript
	applied.PolicyID = hex.EncodeToString(scriptHash(borrowScript))
	applied.MintParams = params
	return applied, nil
}

// scriptHash is blake2b-224 over the language tag and the script bytes.
func scriptHash(script []byte) []byte {
	h, err := blake2b.New(28, nil)
	if err != nil {
		panic(err)
	}
	h.Write([]byte{plutusV2Tag})
	h.Write(script)
	return h.Sum(nil)
}

func scriptAddress(hash []byte, network Network) (string, error) {
	raw := make([]byte, 0, 1+len(hash))
	raw = append(raw, scriptEnterpriseHeader|byte(network))
	raw = append(raw, hash...)
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert address bits: %w", err)
	}
	addr, err := bech32.Encode(network.hrp(), conv)
	if err != nil {
		return "", fmt.Errorf("encode address: %w", err)
	}
	return addr, nil
}
