package utxo

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ghost-Capital/lendex-catalyst/internal/apperr"
	"github.com/Ghost-Capital/lendex-catalyst/internal/plutusdata"
)

const testBlueprint = `{
  "preamble": {"title": "ghost/lendex", "plutusVersion": "v2"},
  "validators": [
    {"title": "lendex.pay", "compiledCode": "4e4d01000033222220051200120011"},
    {"title": "lendex.borrow", "compiledCode": "59012a010000323232323232",
     "parameters": [{"title": "mint", "schema": {"$ref": "#/definitions/lendex~1Mint"}}]}
  ]
}`

// appliedBlueprint is what `aiken blueprint apply` leaves behind: no
// parameters and a recorded hash per validator.
const appliedBlueprint = `{
  "preamble": {"title": "ghost/lendex", "plutusVersion": "v2"},
  "validators": [
    {"title": "lendex.pay", "compiledCode": "4e4d01000033222220051200120011",
     "hash": "0a0b0c0d0e0f101112131415161718191a1b1c1d1e1f202122232425"},
    {"title": "lendex.borrow", "compiledCode": "59012a0100003232323232320001",
     "hash": "f1f2f3f4f5f6f7f8f9fafbfcfdfeff000102030405060708090a0b0c"}
  ]
}`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := ParseCatalog([]byte(testBlueprint))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return cat
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plutus.json")
	if err := os.WriteFile(path, []byte(testBlueprint), 0o600); err != nil {
		t.Fatalf("write blueprint: %v", err)
	}
	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, err := cat.Lookup("lendex.pay")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(s.CompiledCode) != 15 {
		t.Fatalf("unexpected compiled code length %d", len(s.CompiledCode))
	}

	_, err = cat.Lookup("lendex.missing")
	if !errors.Is(err, ErrValidatorNotFound) || apperr.KindOf(err) != apperr.KindConfiguration {
		t.Fatalf("expected validator not found, got %v", err)
	}
}

func TestParseCatalogRejectsBadCode(t *testing.T) {
	for _, raw := range []string{
		`{"validators":[{"title":"x","compiledCode":"zz"}]}`,
		`{"validators":[{"title":"x","compiledCode":""}]}`,
		`not json`,
		`{"validators":[{"title":"x","compiledCode":"01","hash":"abcd"}]}`,
	} {
		if _, err := ParseCatalog([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestApplyIsDeterministicPerNonce(t *testing.T) {
	cat := testCatalog(t)

	a, err := Apply(cat, "lendex", []byte("nonce-1"), Testnet)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	again, err := Apply(cat, "lendex", []byte("nonce-1"), Testnet)
	if err != nil {
		t.Fatalf("apply again: %v", err)
	}
	if a.PolicyID != again.PolicyID || a.LockAddress != again.LockAddress {
		t.Fatalf("same inputs produced different validators")
	}
	if len(a.PolicyID) != 56 || len(a.PayHash) != 56 {
		t.Fatalf("unexpected hash lengths %q %q", a.PolicyID, a.PayHash)
	}
	if !strings.HasPrefix(a.LockAddress, "addr_test1") {
		t.Fatalf("unexpected lock address %s", a.LockAddress)
	}

	other, err := Apply(cat, "lendex", []byte("nonce-2"), Testnet)
	if err != nil {
		t.Fatalf("apply other nonce: %v", err)
	}
	if other.PolicyID == a.PolicyID {
		t.Fatalf("different nonce must change the policy id")
	}
	if other.LockAddress != a.LockAddress {
		t.Fatalf("nonce must not move the lock address")
	}

	mainnet, err := Apply(cat, "lendex", []byte("nonce-1"), Mainnet)
	if err != nil {
		t.Fatalf("apply mainnet: %v", err)
	}
	if !strings.HasPrefix(mainnet.LockAddress, "addr1") {
		t.Fatalf("unexpected mainnet address %s", mainnet.LockAddress)
	}
}

func TestApplyEncodesMintParams(t *testing.T) {
	a, err := Apply(testCatalog(t), "lendex", []byte{0xca, 0xfe}, Testnet)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	tree, err := plutusdata.Decode(a.MintParams)
	if err != nil {
		t.Fatalf("decode params: %v", err)
	}
	fields, ok := plutusdata.List(tree)
	if !ok || len(fields) != 2 {
		t.Fatalf("unexpected params %#v", tree)
	}
	if nonce, _ := plutusdata.Bytes(fields[1]); nonce != "cafe" {
		t.Fatalf("unexpected nonce %v", fields[1])
	}
	cred, ok := fields[0].(map[string]any)
	if !ok {
		t.Fatalf("script credential should keep its constructor, got %#v", fields[0])
	}
	hashes, _ := cred["fields"].([]any)
	if len(hashes) != 1 {
		t.Fatalf("unexpected credential %#v", cred)
	}
	if h, _ := plutusdata.Bytes(hashes[0]); h != a.PayHash {
		t.Fatalf("credential hash %s, want %s", h, a.PayHash)
	}
}

func TestApplyFailures(t *testing.T) {
	cat := testCatalog(t)
	if _, err := Apply(cat, "lendex", nil, Testnet); !errors.Is(err, ErrMissingNonce) {
		t.Fatalf("expected missing nonce, got %v", err)
	}
	if _, err := Apply(cat, "other", []byte("n"), Testnet); !errors.Is(err, ErrValidatorNotFound) {
		t.Fatalf("expected validator not found, got %v", err)
	}
}

func TestApplyUsesPreappliedBlueprint(t *testing.T) {
	cat, err := ParseCatalog([]byte(appliedBlueprint))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	a, err := Apply(cat, "lendex", nil, Testnet)
	if err != nil {
		t.Fatalf("apply without nonce: %v", err)
	}
	if !a.Preapplied || a.MintParams != nil {
		t.Fatalf("expected the blueprint policy to be used as is: %+v", a)
	}
	if a.PolicyID != "f1f2f3f4f5f6f7f8f9fafbfcfdfeff000102030405060708090a0b0c" {
		t.Fatalf("policy id %s does not come from the blueprint", a.PolicyID)
	}
	if a.PayHash != "0a0b0c0d0e0f101112131415161718191a1b1c1d1e1f202122232425" {
		t.Fatalf("pay hash %s does not come from the blueprint", a.PayHash)
	}
	if got, _ := cat.Lookup("lendex.borrow"); string(a.BorrowScript) != string(got.CompiledCode) {
		t.Fatalf("borrow script was modified")
	}

	withNonce, err := Apply(cat, "lendex", []byte("ignored"), Testnet)
	if err != nil || withNonce.PolicyID != a.PolicyID {
		t.Fatalf("nonce must not affect an applied policy: %v", err)
	}
}

func TestPreapplyOverridesParameterizedPolicy(t *testing.T) {
	cat := testCatalog(t)
	derived, err := Apply(cat, "lendex", []byte("nonce-1"), Testnet)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if derived.Preapplied {
		t.Fatalf("parameterized policy reported as applied")
	}

	code := []byte{0x59, 0x01, 0x2a, 0x01, 0xff}
	if err := cat.Preapply("lendex.borrow", code); err != nil {
		t.Fatalf("preapply: %v", err)
	}
	a, err := Apply(cat, "lendex", nil, Testnet)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !a.Preapplied || string(a.BorrowScript) != string(code) {
		t.Fatalf("expected supplied code to be used: %+v", a)
	}
	if a.PolicyID == derived.PolicyID || len(a.PolicyID) != 56 {
		t.Fatalf("unexpected policy id %s", a.PolicyID)
	}
	if a.LockAddress != derived.LockAddress {
		t.Fatalf("lock address moved")
	}

	if err := cat.Preapply("lendex.missing", code); !errors.Is(err, ErrValidatorNotFound) {
		t.Fatalf("expected validator not found, got %v", err)
	}
	if err := cat.Preapply("lendex.borrow", nil); !errors.Is(err, ErrBadValidator) {
		t.Fatalf("expected bad validator, got %v", err)
	}
}

func TestApplyRejectsParameterizedSpendingValidator(t *testing.T) {
	cat, err := ParseCatalog([]byte(`{"validators":[
		{"title":"lendex.pay","compiledCode":"4e4d01","parameters":[{"title":"owner"}]},
		{"title":"lendex.borrow","compiledCode":"59012a"}
	]}`))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	if _, err := Apply(cat, "lendex", []byte("n"), Testnet); !errors.Is(err, ErrBadValidator) {
		t.Fatalf("expected bad validator, got %v", err)
	}
}

func TestSettlement(t *testing.T) {
	cases := []struct {
		amount int64
		fee    Fee
		want   int64
	}{
		{1_000_000, Fee{N: 1, D: 2}, 1_500_000},
		{3, Fee{N: 1, D: 3}, 4},
		{10, Fee{N: 1, D: 3}, 14},
		{5_000_000, Fee{N: 0, D: 1}, 5_000_000},
		{1_000_000_000, Fee{N: 5, D: 100}, 1_050_000_000},
		// any non-zero interest fraction rounds up
		{1, Fee{N: 1, D: 1_000_000_000_000_000_000}, 2},
		{math.MaxInt64 / 2, Fee{N: 1, D: math.MaxInt64}, math.MaxInt64/2 + 1},
	}
	for _, tc := range cases {
		got, err := Settlement(tc.amount, tc.fee)
		if err != nil {
			t.Fatalf("settlement %d %v: %v", tc.amount, tc.fee, err)
		}
		if got != tc.want {
			t.Fatalf("settlement %d %v = %d, want %d", tc.amount, tc.fee, got, tc.want)
		}
	}

	if _, err := Settlement(10, Fee{N: 1, D: 0}); !errors.Is(err, ErrInvalidLoan) {
		t.Fatalf("expected invalid fee, got %v", err)
	}
	for _, tc := range []struct {
		amount int64
		fee    Fee
	}{
		{math.MaxInt64 / 2, Fee{N: 3, D: 1}},
		{math.MaxInt64, Fee{N: 1, D: math.MaxInt64}},
	} {
		if got, err := Settlement(tc.amount, tc.fee); !errors.Is(err, ErrInvalidLoan) {
			t.Fatalf("settlement %d %v: expected out of range, got %d %v", tc.amount, tc.fee, got, err)
		}
	}
	if got, err := Settlement(math.MaxInt64, Fee{N: 0, D: 1}); err != nil || got != math.MaxInt64 {
		t.Fatalf("zero fee at the top of the range: %d %v", got, err)
	}
}

func TestDatumRoundTrip(t *testing.T) {
	d := Datum{
		Lender:   hashOf(0x11),
		Borrower: hashOf(0x22),
		Amount:   25_000_000,
		Deadline: 1_700_000_000_000,
		Fee:      Fee{N: 1, D: 20},
	}
	raw, err := d.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeDatum(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != d {
		t.Fatalf("round trip mismatch: %+v != %+v", got, d)
	}
}

func TestDecodeDatumRejectsOtherShapes(t *testing.T) {
	short, _ := plutusdata.Encode(plutusdata.Constr{Fields: []any{[]byte{1}, int64(2)}})
	if _, err := DecodeDatum(short); !errors.Is(err, plutusdata.ErrMalformedRecord) {
		t.Fatalf("expected malformed record, got %v", err)
	}
	shortHash, _ := plutusdata.Encode(plutusdata.Constr{Fields: []any{
		[]byte{1, 2}, []byte{3, 4}, int64(1), int64(2), plutusdata.Constr{Fields: []any{int64(1), int64(2)}},
	}})
	if _, err := DecodeDatum(shortHash); !errors.Is(err, plutusdata.ErrMalformedRecord) {
		t.Fatalf("expected malformed record for short hash, got %v", err)
	}
}

func hashOf(b byte) Hash28 {
	var h Hash28
	for i := range h {
		h[i] = b
	}
	return h
}
