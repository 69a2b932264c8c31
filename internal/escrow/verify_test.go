package escrow

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Ghost-Capital/lendex-catalyst/internal/oracle"
)

type stubVerifier struct {
	fact oracle.Fact
	err  error
	reqs []oracle.Request
}

func (s *stubVerifier) VerifyLoan(_ context.Context, req oracle.Request) (oracle.Fact, error) {
	s.reqs = append(s.reqs, req)
	return s.fact, s.err
}

var loanAsset = oracle.AssetIdentity{PolicyID: "f4c9f9c4252d86702c2f4c2e49e6648c7cffe3c8f2b6b7d779788f50", Sequence: "12"}

func TestVerifiedBorrow(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t)
	key := tokenKey(123)
	mustLock(t, m, key)

	v := &stubVerifier{fact: oracle.Fact{LenderIdentity: "aa", DebtAmount: big.NewInt(5_000_000)}}
	fact, err := VerifiedBorrow(ctx, m, v, BorrowRequest{Caller: stranger, Key: key, Lender: lender, Asset: loanAsset})
	if err != nil {
		t.Fatalf("verified borrow: %v", err)
	}
	if fact.LenderIdentity != "aa" {
		t.Fatalf("unexpected fact %+v", fact)
	}
	if len(v.reqs) != 1 || v.reqs[0].Kind != oracle.KindBorrowCheck || v.reqs[0].Asset != loanAsset {
		t.Fatalf("unexpected oracle requests %+v", v.reqs)
	}
	pos, status, _ := m.GetToken(ctx, borrower, key)
	if status != StatusWaitingPayment || pos.Lender != lender {
		t.Fatalf("borrow not applied: %+v %s", pos, status)
	}
}

func TestVerifiedBorrowRejectsMismatchedDebt(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t)
	key := tokenKey(123)
	mustLock(t, m, key)

	v := &stubVerifier{fact: oracle.Fact{LenderIdentity: "aa", DebtAmount: big.NewInt(4_999_999)}}
	_, err := VerifiedBorrow(ctx, m, v, BorrowRequest{Caller: stranger, Key: key, Lender: lender, Asset: loanAsset})
	if !errors.Is(err, ErrDebtMismatch) {
		t.Fatalf("expected debt mismatch, got %v", err)
	}
	if _, status, _ := m.GetToken(ctx, borrower, key); status != StatusLocked {
		t.Fatalf("status changed to %s", status)
	}
}

func TestVerifiedBorrowPropagatesOracleFailure(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t)
	key := tokenKey(123)
	mustLock(t, m, key)

	v := &stubVerifier{err: oracle.ErrMissingToken}
	_, err := VerifiedBorrow(ctx, m, v, BorrowRequest{Caller: stranger, Key: key, Lender: lender, Asset: loanAsset})
	if !errors.Is(err, oracle.ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, status, _ := m.GetToken(ctx, borrower, key); status != StatusLocked {
		t.Fatalf("status changed to %s", status)
	}
}

func TestVerifiedBorrowSkipsOracleWhenNotLocked(t *testing.T) {
	m, _ := newTestMachine(t)
	v := &stubVerifier{}
	_, err := VerifiedBorrow(context.Background(), m, v, BorrowRequest{Caller: stranger, Key: tokenKey(1), Lender: lender, Asset: loanAsset})
	if !errors.Is(err, ErrUnexpectedBorrowToken) {
		t.Fatalf("expected unexpected borrow, got %v", err)
	}
	if len(v.reqs) != 0 {
		t.Fatalf("oracle should not be asked")
	}
}
