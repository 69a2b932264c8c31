// Package utxo builds the loan-open and loan-close transactions on the UTxO
// ledger.
package utxo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ghost-Capital/lendex-catalyst/internal/oracle"
)

const (
	defaultMinUTxO  = 1_500_000
	defaultValidity = time.Hour
)

type Protocol struct {
	ledger     Ledger
	validators Applied
	minUTxO    int64
	validity   time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Protocol)

// WithMinUTxO sets the lovelace locked next to the loan asset.
func WithMinUTxO(lovelace int64) Option {
	return func(p *Protocol) { p.minUTxO = lovelace }
}

func WithValidity(d time.Duration) Option {
	return func(p *Protocol) { p.validity = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Protocol) { p.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Protocol) { p.logger = l }
}

func NewProtocol(ledger Ledger, validators Applied, opts ...Option) *Protocol {
	p := &Protocol{
		ledger:     ledger,
		validators: validators,
		minUTxO:    defaultMinUTxO,
		validity:   defaultValidity,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Protocol) Validators() Applied {
	return p.validators
}

// Unit returns the ledger unit of the loan asset for sequence.
func (p *Protocol) Unit(sequence string) string {
	return oracle.AssetIdentity{PolicyID: p.validators.PolicyID, Sequence: sequence}.Fingerprint()
}

type OpenLoanRequest struct {
	Sequence        string
	Lender          Hash28
	Borrower        Hash28
	Amount          int64
	Deadline        int64
	Fee             Fee
	BorrowerAddress string
}

func (r OpenLoanRequest) validate() error {
	if strings.TrimSpace(r.Sequence) == "" {
		return ErrInvalidLoan.Withf("sequence is required")
	}
	if r.Lender.IsZero() || r.Borrower.IsZero() {
		return ErrInvalidLoan.Withf("lender and borrower credentials are required")
	}
	if r.Amount <= 0 {
		return ErrInvalidLoan.Withf("amount must be positive")
	}
	if r.Deadline <= 0 {
		return ErrInvalidLoan.Withf("deadline is required")
	}
	if strings.TrimSpace(r.BorrowerAddress) == "" {
		return ErrInvalidLoan.Withf("borrower address is required")
	}
	// a loan that cannot be settled is never opened
	_, err := Settlement(r.Amount, r.Fee)
	return err
}

type Receipt struct {
	TxHash string
	Unit   string
	// Paid is the lovelace sent to the counterparty: the principal on open,
	// the settlement on close.
	Paid int64
}

// OpenLoan mints the loan asset, locks it with the loan datum and disburses
// the principal to the borrower, all in one transaction.
func (p *Protocol) OpenLoan(ctx context.Context, req OpenLoanRequest) (Receipt, error) {
	if err := req.validate(); err != nil {
		return Receipt{}, err
	}
	unit := p.Unit(req.Sequence)
	log := p.logger.With("op", "open_loan", "unit", unit)

	if _, err := p.findLoan(ctx, unit); err == nil {
		return Receipt{}, ErrLoanAssetExists.Withf("unit %s", unit)
	} else if !isMissingLoan(err) {
		return Receipt{}, err
	}

	datum, err := Datum{
		Lender:   req.Lender,
		Borrower: req.Borrower,
		Amount:   req.Amount,
		Deadline: req.Deadline,
		Fee:      req.Fee,
	}.Encode()
	if err != nil {
		return Receipt{}, fmt.Errorf("encode datum: %w", err)
	}

	plan := TxPlan{
		Mint:          map[string]int64{unit: 1},
		MintRedeemer:  RedeemerBorrow,
		MintingPolicy: p.validators.BorrowScript,
		Outputs: []Output{
			{
				Address:     p.validators.LockAddress,
				Value:       Value{Lovelace: p.minUTxO, Assets: map[string]int64{unit: 1}},
				InlineDatum: datum,
			},
			{
				Address: req.BorrowerAddress,
				Value:   Value{Lovelace: req.Amount},
			},
		},
		ValidTo: p.now().Add(p.validity),
	}

	txHash, err := p.submit(ctx, plan)
	if err != nil {
		return Receipt{}, err
	}
	log.Info("loan opened", "tx", txHash, "amount", req.Amount, "deadline", req.Deadline)
	return Receipt{TxHash: txHash, Unit: unit, Paid: req.Amount}, nil
}

type CloseLoanRequest struct {
	Sequence      string
	LenderAddress string
	Fee           Fee
}

// CloseLoan spends the locked loan output, burns the loan asset and pays the
// lender principal plus fee, all in one transaction.
func (p *Protocol) CloseLoan(ctx context.Context, req CloseLoanRequest) (Receipt, error) {
	if strings.TrimSpace(req.Sequence) == "" || strings.TrimSpace(req.LenderAddress) == "" {
		return Receipt{}, ErrInvalidLoan.Withf("sequence and lender address are required")
	}
	if err := req.Fee.Validate(); err != nil {
		return Receipt{}, err
	}
	unit := p.Unit(req.Sequence)
	log := p.logger.With("op", "close_loan", "unit", unit)

	locked, err := p.findLoan(ctx, unit)
	if err != nil {
		return Receipt{}, err
	}
	datum, err := DecodeDatum(locked.InlineDatum)
	if err != nil {
		return Receipt{}, fmt.Errorf("locked output %s: %w", locked.Ref, err)
	}
	if datum.Fee != req.Fee {
		return Receipt{}, ErrFeeMismatch.Withf("datum %d/%d, request %d/%d", datum.Fee.N, datum.Fee.D, req.Fee.N, req.Fee.D)
	}
	settlement, err := Settlement(datum.Amount, datum.Fee)
	if err != nil {
		return Receipt{}, err
	}

	plan := TxPlan{
		ScriptInputs: []ScriptInput{{
			UTxO:      locked,
			Redeemer:  RedeemerPay,
			Validator: p.validators.PayScript,
		}},
		Mint:          map[string]int64{unit: -1},
		MintRedeemer:  RedeemerPay,
		MintingPolicy: p.validators.BorrowScript,
		Outputs: []Output{{
			Address: req.LenderAddress,
			Value:   Value{Lovelace: settlement},
		}},
		ValidTo: p.now().Add(p.validity),
	}

	txHash, err := p.submit(ctx, plan)
	if err != nil {
		return Receipt{}, err
	}
	log.Info("loan closed", "tx", txHash, "settlement", settlement)
	return Receipt{TxHash: txHash, Unit: unit, Paid: settlement}, nil
}

// submit is strictly sequential: submit, then wait for the ledger. Nothing is
// retried and nothing is compensated.
func (p *Protocol) submit(ctx context.Context, plan TxPlan) (string, error) {
	txHash, err := p.ledger.Submit(ctx, plan)
	if err != nil {
		return "", ErrRejected.With(err)
	}
	if err := p.ledger.AwaitTx(ctx, txHash); err != nil {
		return "", ErrLedger.With(fmt.Errorf("await tx %s: %w", txHash, err))
	}
	return txHash, nil
}

func (p *Protocol) findLoan(ctx context.Context, unit string) (UTxO, error) {
	utxos, err := p.ledger.UTxOsAt(ctx, p.validators.LockAddress)
	if err != nil {
		return UTxO{}, ErrLedger.With(fmt.Errorf("utxos at lock address: %w", err))
	}
	var found []UTxO
	for _, u := range utxos {
		if u.Value.Quantity(unit) == 1 {
			found = append(found, u)
		}
	}
	switch len(found) {
	case 0:
		return UTxO{}, ErrMissingLoan.Withf("unit %s", unit)
	case 1:
		return found[0], nil
	default:
		return UTxO{}, ErrLedger.Withf("%d locked outputs hold unit %s", len(found), unit)
	}
}

func isMissingLoan(err error) bool {
	return errors.Is(err, ErrMissingLoan)
}
