package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	SupportedCurrency = "ADA"
	// CurrencyDecimals is the number of minor units in one ADA.
	CurrencyDecimals int64 = 1_000_000
	MinimumAmount          = CurrencyDecimals
	// MinimumDeadlineOffset is one day, in seconds.
	MinimumDeadlineOffset int64 = 86_400
)

// Key identifies one NFT held in escrow.
type Key struct {
	Collection common.Address
	TokenID    *big.Int
}

func NewKey(collection common.Address, tokenID *big.Int) Key {
	return Key{Collection: collection, TokenID: tokenID}
}

func (k Key) tokenID() *big.Int {
	if k.TokenID == nil {
		return new(big.Int)
	}
	return k.TokenID
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", strings.ToLower(k.Collection.Hex()), k.tokenID().String())
}

type Status uint8

const (
	StatusUnknown Status = iota
	StatusLocked
	StatusWaitingPayment
	StatusDebtPaid
)

func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "LOCKED"
	case StatusWaitingPayment:
		return "WAITING_PAYMENT"
	case StatusDebtPaid:
		return "DEBT_PAID"
	default:
		return "UNKNOWN"
	}
}

// Position holds the loan terms attached to a locked token. Deadline is unix
// seconds; Amount is in minor units of CurrencyCode.
type Position struct {
	Lender       common.Address `json:"lender"`
	Deadline     int64          `json:"deadline"`
	Amount       int64          `json:"amount"`
	Decimals     int64          `json:"decimals"`
	CurrencyCode string         `json:"currencyCode"`
}

func (p Position) IsZero() bool {
	return p == Position{}
}

// Custody records who deposited a token and who holds it now.
type Custody struct {
	Depositor common.Address `json:"depositor"`
	Holder    common.Address `json:"holder"`
}

// Entry is everything stored for one key. An entry with StatusUnknown is
// always the zero Entry.
type Entry struct {
	Position Position
	Status   Status
	Custody  Custody
}

func (e Entry) IsZero() bool {
	return e == Entry{}
}
