package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Ghost-Capital/lendex-catalyst/internal/oracle"
)

// Verifier attests loan records from the UTxO ledger. *oracle.Bridge
// satisfies it.
type Verifier interface {
	VerifyLoan(ctx context.Context, req oracle.Request) (oracle.Fact, error)
}

type BorrowRequest struct {
	Caller common.Address
	Key    Key
	Lender common.Address
	// Asset is the loan asset minted on the UTxO ledger for this position.
	Asset oracle.AssetIdentity
}

// VerifiedBorrow asks the verifier for a borrow_check fact and only moves the
// position to WAITING_PAYMENT when the attested debt equals the locked amount.
func VerifiedBorrow(ctx context.Context, c Client, v Verifier, req BorrowRequest) (oracle.Fact, error) {
	owner, err := c.GetTokenOwner(ctx, req.Key)
	if err != nil {
		return oracle.Fact{}, err
	}
	pos, status, err := c.GetToken(ctx, owner, req.Key)
	if err != nil {
		return oracle.Fact{}, err
	}
	if status != StatusLocked {
		return oracle.Fact{}, ErrUnexpectedBorrowToken.Withf("%s is %s", req.Key, status)
	}

	fact, err := v.VerifyLoan(ctx, oracle.Request{Kind: oracle.KindBorrowCheck, Asset: req.Asset})
	if err != nil {
		return oracle.Fact{}, err
	}
	if fact.DebtAmount == nil || fact.DebtAmount.Cmp(big.NewInt(pos.Amount)) != 0 {
		return oracle.Fact{}, ErrDebtMismatch.Withf("attested %v, locked %d", fact.DebtAmount, pos.Amount)
	}

	if err := c.BorrowToken(ctx, req.Caller, req.Key, req.Lender); err != nil {
		return oracle.Fact{}, err
	}
	return fact, nil
}
