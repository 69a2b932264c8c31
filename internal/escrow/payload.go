package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LockPayload is the data attached to the custody transfer.
type LockPayload struct {
	DeadlineOffset *big.Int
	Amount         *big.Int
	CurrencyCode   string
}

var lockPayloadArgs = abi.Arguments{
	{Type: mustType("uint256")},
	{Type: mustType("int256")},
	{Type: mustType("string")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// DecodeLockPayload unpacks the ABI tuple sent along with safeTransferFrom.
func DecodeLockPayload(data []byte) (LockPayload, error) {
	values, err := lockPayloadArgs.Unpack(data)
	if err != nil {
		return LockPayload{}, ErrInvalidPayload.With(err)
	}
	offset, ok1 := values[0].(*big.Int)
	amount, ok2 := values[1].(*big.Int)
	currency, ok3 := values[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return LockPayload{}, ErrInvalidPayload
	}
	return LockPayload{DeadlineOffset: offset, Amount: amount, CurrencyCode: currency}, nil
}

func (p LockPayload) Encode() ([]byte, error) {
	offset, amount := p.DeadlineOffset, p.Amount
	if offset == nil {
		offset = new(big.Int)
	}
	if amount == nil {
		amount = new(big.Int)
	}
	return lockPayloadArgs.Pack(offset, amount, p.CurrencyCode)
}

// validate applies the lock policy in order: currency, amount, deadline. It
// returns the values narrowed to int64.
func (p LockPayload) validate() (offset, amount int64, err error) {
	if p.CurrencyCode != SupportedCurrency {
		return 0, 0, ErrUnsupportedCurrency.Withf("got %q", p.CurrencyCode)
	}
	if p.Amount == nil || p.Amount.Cmp(big.NewInt(MinimumAmount)) < 0 {
		return 0, 0, ErrBelowMinimumAmount
	}
	if !p.Amount.IsInt64() {
		return 0, 0, ErrInvalidPayload.Withf("amount %s out of range", p.Amount)
	}
	if p.DeadlineOffset == nil || p.DeadlineOffset.Cmp(big.NewInt(MinimumDeadlineOffset)) < 0 {
		return 0, 0, ErrDeadlineTooSoon
	}
	if !p.DeadlineOffset.IsInt64() {
		return 0, 0, ErrInvalidPayload.Withf("deadline offset %s out of range", p.DeadlineOffset)
	}
	return p.DeadlineOffset.Int64(), p.Amount.Int64(), nil
}
