package utxo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ghost-Capital/lendex-catalyst/internal/blockfrost"
)

const (
	borrowerAddr = "addr_test1vborrower"
	lenderAddr   = "addr_test1vlender"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProtocol(t *testing.T, ledger Ledger) *Protocol {
	t.Helper()
	applied, err := Apply(testCatalog(t), "lendex", []byte("nonce-1"), Testnet)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewProtocol(ledger, applied,
		WithClock(func() time.Time { return fixed }),
		WithLogger(quietLogger()),
	)
}

func openRequest(seq string) OpenLoanRequest {
	return OpenLoanRequest{
		Sequence:        seq,
		Lender:          hashOf(0xaa),
		Borrower:        hashOf(0xbb),
		Amount:          5_000_000,
		Deadline:        1_710_000_000_000,
		Fee:             Fee{N: 1, D: 2},
		BorrowerAddress: borrowerAddr,
	}
}

func TestOpenAndCloseLoan(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(100_000_000)
	p := newTestProtocol(t, ledger)
	lock := p.Validators().LockAddress

	opened, err := p.OpenLoan(ctx, openRequest("1"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened.Unit != p.Unit("1") || opened.Paid != 5_000_000 || opened.TxHash == "" {
		t.Fatalf("unexpected receipt %+v", opened)
	}
	if ledger.Supply(opened.Unit) != 1 {
		t.Fatalf("loan asset not minted")
	}
	if got := ledger.Balance(borrowerAddr); got != 5_000_000 {
		t.Fatalf("borrower balance %d", got)
	}
	if got := ledger.Balance(lock); got != defaultMinUTxO {
		t.Fatalf("lock balance %d", got)
	}
	utxos, _ := ledger.UTxOsAt(ctx, lock)
	if len(utxos) != 1 {
		t.Fatalf("expected one locked output, got %d", len(utxos))
	}
	datum, err := DecodeDatum(utxos[0].InlineDatum)
	if err != nil {
		t.Fatalf("locked datum: %v", err)
	}
	if datum.Amount != 5_000_000 || datum.Lender != hashOf(0xaa) || datum.Fee != (Fee{N: 1, D: 2}) {
		t.Fatalf("unexpected datum %+v", datum)
	}

	closed, err := p.CloseLoan(ctx, CloseLoanRequest{Sequence: "1", LenderAddress: lenderAddr, Fee: Fee{N: 1, D: 2}})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Paid != 7_500_000 {
		t.Fatalf("settlement %d, want 7500000", closed.Paid)
	}
	if ledger.Supply(opened.Unit) != 0 {
		t.Fatalf("loan asset not burned")
	}
	if got := ledger.Balance(lenderAddr); got != 7_500_000 {
		t.Fatalf("lender balance %d", got)
	}
	if got := ledger.Balance(lock); got != 0 {
		t.Fatalf("lock address still holds %d", got)
	}
	// wallet paid principal + min utxo on open and settlement - min utxo on close
	if got := ledger.Wallet(); got != 100_000_000-6_500_000-6_000_000 {
		t.Fatalf("wallet %d", got)
	}
}

func TestOpenLoanRejectsExistingAsset(t *testing.T) {
	ctx := context.Background()
	p := newTestProtocol(t, NewMemoryLedger(100_000_000))

	if _, err := p.OpenLoan(ctx, openRequest("7")); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := p.OpenLoan(ctx, openRequest("7"))
	if !errors.Is(err, ErrLoanAssetExists) {
		t.Fatalf("expected loan asset exists, got %v", err)
	}
	if _, err := p.OpenLoan(ctx, openRequest("8")); err != nil {
		t.Fatalf("other sequence should open: %v", err)
	}
}

func TestOpenLoanIsAtomic(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(1_000_000)
	p := newTestProtocol(t, ledger)

	_, err := p.OpenLoan(ctx, openRequest("1"))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if ledger.Supply(p.Unit("1")) != 0 || ledger.Balance(borrowerAddr) != 0 || ledger.Balance(p.Validators().LockAddress) != 0 {
		t.Fatalf("rejected transaction left effects behind")
	}
	if ledger.Wallet() != 1_000_000 {
		t.Fatalf("wallet changed to %d", ledger.Wallet())
	}
}

func TestCloseLoanFailures(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(100_000_000)
	p := newTestProtocol(t, ledger)

	_, err := p.CloseLoan(ctx, CloseLoanRequest{Sequence: "1", LenderAddress: lenderAddr, Fee: Fee{N: 1, D: 2}})
	if !errors.Is(err, ErrMissingLoan) {
		t.Fatalf("expected missing loan, got %v", err)
	}

	if _, err := p.OpenLoan(ctx, openRequest("1")); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = p.CloseLoan(ctx, CloseLoanRequest{Sequence: "1", LenderAddress: lenderAddr, Fee: Fee{N: 1, D: 3}})
	if !errors.Is(err, ErrFeeMismatch) {
		t.Fatalf("expected fee mismatch, got %v", err)
	}

	ledger.RejectNext(errors.New("script failure"))
	_, err = p.CloseLoan(ctx, CloseLoanRequest{Sequence: "1", LenderAddress: lenderAddr, Fee: Fee{N: 1, D: 2}})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if ledger.Supply(p.Unit("1")) != 1 || ledger.Balance(lenderAddr) != 0 {
		t.Fatalf("rejected close changed the ledger")
	}

	if _, err := p.CloseLoan(ctx, CloseLoanRequest{Sequence: "1", LenderAddress: lenderAddr, Fee: Fee{N: 1, D: 2}}); err != nil {
		t.Fatalf("close after rejection: %v", err)
	}
	_, err = p.CloseLoan(ctx, CloseLoanRequest{Sequence: "1", LenderAddress: lenderAddr, Fee: Fee{N: 1, D: 2}})
	if !errors.Is(err, ErrMissingLoan) {
		t.Fatalf("second close should find nothing, got %v", err)
	}
}

func TestOpenLoanValidatesTerms(t *testing.T) {
	p := newTestProtocol(t, NewMemoryLedger(100_000_000))
	cases := map[string]func(*OpenLoanRequest){
		"no sequence":  func(r *OpenLoanRequest) { r.Sequence = " " },
		"zero amount":  func(r *OpenLoanRequest) { r.Amount = 0 },
		"no lender":    func(r *OpenLoanRequest) { r.Lender = Hash28{} },
		"bad fee":      func(r *OpenLoanRequest) { r.Fee = Fee{N: 1, D: 0} },
		"no recipient": func(r *OpenLoanRequest) { r.BorrowerAddress = "" },
		"unsettleable": func(r *OpenLoanRequest) {
			r.Amount = math.MaxInt64 / 2
			r.Fee = Fee{N: 3, D: 1}
		},
	}
	for name, mutate := range cases {
		req := openRequest("1")
		mutate(&req)
		if _, err := p.OpenLoan(context.Background(), req); !errors.Is(err, ErrInvalidLoan) {
			t.Fatalf("%s: expected invalid loan, got %v", name, err)
		}
	}
}

type stubSigner struct {
	plans []TxPlan
}

func (s *stubSigner) Sign(_ context.Context, plan TxPlan) ([]byte, error) {
	s.plans = append(s.plans, plan)
	return []byte{0x84, 0xa0}, nil
}

func TestBlockfrostLedger(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/addresses/"):
			_, _ = io.WriteString(w, `[{"tx_hash":"aa","output_index":1,"address":"addr_test1lock",
				"amount":[{"unit":"lovelace","quantity":"1500000"},{"unit":"policy4c656e646578233031","quantity":"1"}],
				"inline_datum":"d87980"}]`)
		case r.URL.Path == "/tx/submit":
			if r.Header.Get("Content-Type") != "application/cbor" {
				t.Errorf("unexpected content type %s", r.Header.Get("Content-Type"))
			}
			_, _ = io.WriteString(w, `"bb"`)
		case r.URL.Path == "/txs/bb":
			if polls.Add(1) < 2 {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"status_code":404,"error":"Not Found","message":"The requested component has not been found."}`)
				return
			}
			_, _ = io.WriteString(w, `{"hash":"bb","block":"blk","block_height":42}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client, err := blockfrost.NewClient(srv.URL, "key")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	signer := &stubSigner{}
	ledger := NewBlockfrostLedger(client, signer, 10*time.Millisecond, quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	utxos, err := ledger.UTxOsAt(ctx, "addr_test1lock")
	if err != nil {
		t.Fatalf("utxos: %v", err)
	}
	if len(utxos) != 1 || utxos[0].Value.Lovelace != 1_500_000 || utxos[0].Value.Quantity("policy4c656e646578233031") != 1 {
		t.Fatalf("unexpected utxos %+v", utxos)
	}
	if fmt.Sprintf("%x", []byte(utxos[0].InlineDatum)) != "d87980" || utxos[0].Ref.String() != "aa#1" {
		t.Fatalf("unexpected utxo %+v", utxos[0])
	}

	hash, err := ledger.Submit(ctx, TxPlan{Outputs: []Output{{Address: "x", Value: Value{Lovelace: 1}}}})
	if err != nil || hash != "bb" {
		t.Fatalf("submit: %q %v", hash, err)
	}
	if len(signer.plans) != 1 {
		t.Fatalf("signer not called")
	}
	if err := ledger.AwaitTx(ctx, hash); err != nil {
		t.Fatalf("await: %v", err)
	}
	if n := polls.Load(); n < 2 {
		t.Fatalf("expected polling, got %d", n)
	}
}

func TestCloseLoanFindsLoanPastFirstIndexerPage(t *testing.T) {
	p := newTestProtocol(t, NewMemoryLedger(0))
	unit := p.Unit("9")
	datum, err := Datum{Lender: hashOf(0xaa), Borrower: hashOf(0xbb), Amount: 4_000_000, Deadline: 1, Fee: Fee{N: 1, D: 4}}.Encode()
	if err != nil {
		t.Fatalf("encode datum: %v", err)
	}

	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/addresses/"):
			pages.Add(1)
			items := []string{}
			switch r.URL.Query().Get("page") {
			case "", "1":
				for i := 0; i < 100; i++ {
					items = append(items, fmt.Sprintf(`{"tx_hash":"filler%d","output_index":0,
						"amount":[{"unit":"lovelace","quantity":"2000000"}]}`, i))
				}
			case "2":
				items = append(items, fmt.Sprintf(`{"tx_hash":"loan","output_index":0,
					"amount":[{"unit":"lovelace","quantity":"2000000"},{"unit":"%s","quantity":"1"}],
					"inline_datum":"%x"}`, unit, datum))
			}
			_, _ = io.WriteString(w, "["+strings.Join(items, ",")+"]")
		case r.URL.Path == "/tx/submit":
			_, _ = io.WriteString(w, `"cc"`)
		case r.URL.Path == "/txs/cc":
			_, _ = io.WriteString(w, `{"hash":"cc","block":"blk","block_height":43}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client, err := blockfrost.NewClient(srv.URL, "key")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	signer := &stubSigner{}
	p.ledger = NewBlockfrostLedger(client, signer, 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	receipt, err := p.CloseLoan(ctx, CloseLoanRequest{Sequence: "9", LenderAddress: lenderAddr, Fee: Fee{N: 1, D: 4}})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if receipt.TxHash != "cc" || receipt.Paid != 5_000_000 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if n := pages.Load(); n < 2 {
		t.Fatalf("expected the second page to be read, got %d requests", n)
	}
	if len(signer.plans) != 1 || signer.plans[0].ScriptInputs[0].UTxO.Ref.TxHash != "loan" {
		t.Fatalf("unexpected plan %+v", signer.plans)
	}
}

func TestAwaitTxHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"status_code":404,"error":"Not Found","message":"The requested component has not been found."}`)
	}))
	defer srv.Close()

	client, _ := blockfrost.NewClient(srv.URL, "key")
	ledger := NewBlockfrostLedger(client, &stubSigner{}, 5*time.Millisecond, quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	if err := ledger.AwaitTx(ctx, "never"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRemoteSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var plan TxPlan
		if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
			t.Errorf("decode plan: %v", err)
		}
		if len(plan.Outputs) != 1 || plan.Outputs[0].Address != "addr_test1vlender" {
			t.Errorf("unexpected plan %+v", plan)
		}
		_, _ = io.WriteString(w, `{"cborHex":"84a0"}`)
	}))
	defer srv.Close()

	signed, err := RemoteSigner{URL: srv.URL}.Sign(context.Background(), TxPlan{
		Outputs: []Output{{Address: lenderAddr, Value: Value{Lovelace: 2_000_000}}},
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if fmt.Sprintf("%x", signed) != "84a0" {
		t.Fatalf("unexpected signed tx %x", signed)
	}

	if _, err := (RemoteSigner{}).Sign(context.Background(), TxPlan{}); err == nil {
		t.Fatalf("expected error without url")
	}
}
