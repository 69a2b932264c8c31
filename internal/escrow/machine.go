// Package escrow holds NFTs deposited as loan collateral and enforces the
// lock, borrow, pay and claim lifecycle of each position.
package escrow

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Client is the escrow as seen by callers. Machine runs it in process;
// EthClient drives the deployed contract.
type Client interface {
	// OnCustodyReceived is the hook fired when depositor transfers the token
	// into escrow with the ABI-encoded lock payload.
	OnCustodyReceived(ctx context.Context, depositor common.Address, key Key, payload []byte) error
	BorrowToken(ctx context.Context, caller common.Address, key Key, lender common.Address) error
	PayTokenDebt(ctx context.Context, caller common.Address, key Key) error
	// ClaimToken releases the token and returns who received it.
	ClaimToken(ctx context.Context, caller common.Address, key Key) (common.Address, error)
	GetToken(ctx context.Context, caller common.Address, key Key) (Position, Status, error)
	GetTokenOwner(ctx context.Context, key Key) (common.Address, error)
}

var (
	_ Client = (*Machine)(nil)
	_ Client = (*EthClient)(nil)
)

type Machine struct {
	store  Store
	holder common.Address
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// NewMachine builds the state machine. holder is the escrow's own address,
// recorded as the custodian of every locked token.
func NewMachine(store Store, holder common.Address, opts ...Option) *Machine {
	m := &Machine{
		store:  store,
		holder: holder,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) OnCustodyReceived(ctx context.Context, depositor common.Address, key Key, payload []byte) error {
	lp, err := DecodeLockPayload(payload)
	if err != nil {
		return err
	}
	return m.Lock(ctx, depositor, key, lp)
}

// Lock opens a position for a token that has just entered custody.
func (m *Machine) Lock(ctx context.Context, depositor common.Address, key Key, payload LockPayload) error {
	offset, amount, err := payload.validate()
	if err != nil {
		return err
	}
	now := m.now().Unix()
	if offset > math.MaxInt64-now {
		return ErrInvalidPayload.Withf("deadline offset %d overflows", offset)
	}
	deadline := now + offset

	err = m.store.Update(ctx, key, func(e *Entry) error {
		if !e.IsZero() {
			return ErrUnexpectedLockToken.Withf("%s is %s", key, e.Status)
		}
		*e = Entry{
			Position: Position{
				Deadline:     deadline,
				Amount:       amount,
				Decimals:     CurrencyDecimals,
				CurrencyCode: payload.CurrencyCode,
			},
			Status:  StatusLocked,
			Custody: Custody{Depositor: depositor, Holder: m.holder},
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("token locked", "key", key.String(), "depositor", depositor.Hex(), "amount", amount, "deadline", deadline)
	return nil
}

func (m *Machine) BorrowToken(ctx context.Context, caller common.Address, key Key, lender common.Address) error {
	if lender == (common.Address{}) {
		return ErrInvalidLender
	}
	err := m.store.Update(ctx, key, func(e *Entry) error {
		if e.Status != StatusLocked {
			return ErrUnexpectedBorrowToken.Withf("%s is %s", key, e.Status)
		}
		e.Position.Lender = lender
		e.Status = StatusWaitingPayment
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("token borrowed", "key", key.String(), "lender", lender.Hex(), "caller", caller.Hex())
	return nil
}

func (m *Machine) PayTokenDebt(ctx context.Context, caller common.Address, key Key) error {
	now := m.now().Unix()
	err := m.store.Update(ctx, key, func(e *Entry) error {
		if caller != e.Custody.Depositor {
			return ErrNotDepositor
		}
		if e.Status != StatusWaitingPayment || now > e.Position.Deadline {
			return ErrUnexpectedPaidTokenDebt.Withf("%s is %s", key, e.Status)
		}
		e.Status = StatusDebtPaid
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("token debt paid", "key", key.String())
	return nil
}

// ClaimToken returns the token to the depositor while it is locked or paid,
// or to the lender once an unpaid loan is past its deadline.
func (m *Machine) ClaimToken(ctx context.Context, caller common.Address, key Key) (common.Address, error) {
	now := m.now().Unix()
	var recipient common.Address
	err := m.store.Update(ctx, key, func(e *Entry) error {
		switch e.Status {
		case StatusLocked, StatusDebtPaid:
			if caller != e.Custody.Depositor {
				return ErrClaimLockedOrPaid
			}
			recipient = e.Custody.Depositor
		case StatusWaitingPayment:
			if caller != e.Position.Lender {
				return ErrClaimBeforeDefault
			}
			if now <= e.Position.Deadline {
				return ErrUnexpectedClaimToken.Withf("deadline %d", e.Position.Deadline)
			}
			recipient = e.Position.Lender
		default:
			return ErrClaimWithoutLoan
		}
		*e = Entry{}
		return nil
	})
	if err != nil {
		return common.Address{}, err
	}
	m.logger.Info("token claimed", "key", key.String(), "recipient", recipient.Hex())
	return recipient, nil
}

// GetToken shows the position to its depositor; anyone else sees the zero
// position.
func (m *Machine) GetToken(ctx context.Context, caller common.Address, key Key) (Position, Status, error) {
	e, err := m.store.Get(ctx, key)
	if err != nil {
		return Position{}, StatusUnknown, err
	}
	if e.IsZero() || caller != e.Custody.Depositor {
		return Position{}, StatusUnknown, nil
	}
	return e.Position, e.Status, nil
}

func (m *Machine) GetTokenOwner(ctx context.Context, key Key) (common.Address, error) {
	e, err := m.store.Get(ctx, key)
	if err != nil {
		return common.Address{}, err
	}
	return e.Custody.Depositor, nil
}

// Custody reports the custody record of key, zero when nothing is held.
func (m *Machine) Custody(ctx context.Context, key Key) (Custody, error) {
	e, err := m.store.Get(ctx, key)
	if err != nil {
		return Custody{}, err
	}
	return e.Custody, nil
}
