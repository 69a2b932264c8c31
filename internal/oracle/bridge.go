// Package oracle reads loan records from the UTxO ledger indexer and turns
// them into compact facts for the EVM escrow.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/Ghost-Capital/lendex-catalyst/internal/apperr"
	"github.com/Ghost-Capital/lendex-catalyst/internal/blockfrost"
	"github.com/Ghost-Capital/lendex-catalyst/internal/plutusdata"
)

const KindBorrowCheck = "borrow_check"

var (
	ErrMissingSecret          = apperr.Configuration("MissingSecret", "oracle secrets apiKey, apiUrl and contractAddress are required")
	ErrMissingArguments       = apperr.Validation("MissingArguments", "input not provided")
	ErrUnsupportedRequestKind = apperr.Validation("UnsupportedRequestKind", "valid values are: 'borrow_check'")
	ErrInvalidAsset           = apperr.Validation("InvalidAssetIdentity", "policy id and token sequence are required")
	ErrMissingToken           = apperr.NotFound("MissingToken", "no minted transaction with quantity 1")
	ErrIndexer                = apperr.ExternalService("IndexerFailure", "indexer request failed")
	ErrLockedOutput           = apperr.ExternalService("LockedOutputMismatch", "expected exactly one locked output holding the asset")
	ErrMissingDatum           = apperr.ExternalService("MissingInlineDatum", "locked output has no inline datum")
)

// Indexer is the subset of the ledger indexer the bridge reads from.
type Indexer interface {
	AssetHistory(ctx context.Context, unit string) ([]blockfrost.AssetHistoryEntry, error)
	TxUTxOs(ctx context.Context, txHash string) (*blockfrost.TxUTxOs, error)
}

// Config holds the oracle secrets.
type Config struct {
	APIKey          string
	APIURL          string
	ContractAddress string
}

func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "apiKey")
	}
	if strings.TrimSpace(c.APIURL) == "" {
		missing = append(missing, "apiUrl")
	}
	if strings.TrimSpace(c.ContractAddress) == "" {
		missing = append(missing, "contractAddress")
	}
	if len(missing) > 0 {
		return ErrMissingSecret.Withf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Request is one oracle invocation.
type Request struct {
	Kind  string
	Asset AssetIdentity
}

type Bridge struct {
	cfg     Config
	indexer Indexer
	logger  *slog.Logger
}

type Option func(*Bridge)

func WithIndexer(idx Indexer) Option {
	return func(b *Bridge) { b.indexer = idx }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// NewBridge validates the configuration up front. Without WithIndexer a
// Blockfrost client is built from the configured URL and key.
func NewBridge(cfg Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bridge{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	if b.indexer == nil {
		client, err := blockfrost.NewClient(cfg.APIURL, cfg.APIKey)
		if err != nil {
			return nil, ErrMissingSecret.With(err)
		}
		b.indexer = client
	}
	return b, nil
}

// Handle runs a request in the external argument form
// [requestKind, policyId, tokenSequence] and returns the ABI payload.
func (b *Bridge) Handle(ctx context.Context, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, ErrMissingArguments
	}
	req := Request{Kind: args[0]}
	if len(args) > 1 {
		req.Asset.PolicyID = args[1]
	}
	if len(args) > 2 {
		req.Asset.Sequence = args[2]
	}
	fact, err := b.VerifyLoan(ctx, req)
	if err != nil {
		return nil, err
	}
	return fact.Payload, nil
}

// VerifyLoan resolves the loan record minted for req.Asset and returns the
// lender identity and debt it carries. Every failure aborts the request.
func (b *Bridge) VerifyLoan(ctx context.Context, req Request) (Fact, error) {
	if err := b.cfg.Validate(); err != nil {
		return Fact{}, err
	}
	if b.indexer == nil {
		return Fact{}, ErrMissingSecret.Withf("indexer not configured")
	}
	if req.Kind != KindBorrowCheck {
		return Fact{}, ErrUnsupportedRequestKind.Withf("got %q", req.Kind)
	}
	if err := req.Asset.validate(); err != nil {
		return Fact{}, err
	}
	return b.borrowCheck(ctx, req.Asset)
}

func (b *Bridge) borrowCheck(ctx context.Context, asset AssetIdentity) (Fact, error) {
	unit := asset.Fingerprint()
	log := b.logger.With("asset", unit)

	txHash, err := b.mintTx(ctx, unit)
	if err != nil {
		return Fact{}, err
	}

	utxos, err := b.indexer.TxUTxOs(ctx, txHash)
	if err != nil {
		return Fact{}, ErrIndexer.With(fmt.Errorf("tx %s utxos: %w", txHash, err))
	}

	out, err := b.lockedOutput(utxos.Outputs, unit)
	if err != nil {
		return Fact{}, err
	}
	if out.InlineDatum == nil || strings.TrimSpace(*out.InlineDatum) == "" {
		return Fact{}, ErrMissingDatum.Withf("tx %s output %d", txHash, out.OutputIndex)
	}

	lender, debt, err := projectLoanRecord(*out.InlineDatum)
	if err != nil {
		return Fact{}, err
	}

	payload, err := EncodeFact(lender, debt)
	if err != nil {
		return Fact{}, fmt.Errorf("encode fact: %w", err)
	}
	log.Info("loan verified", "tx", txHash, "lender", lender, "debt", debt.String())
	return Fact{LenderIdentity: lender, DebtAmount: debt, Payload: payload}, nil
}

func (b *Bridge) mintTx(ctx context.Context, unit string) (string, error) {
	history, err := b.indexer.AssetHistory(ctx, unit)
	if errors.Is(err, blockfrost.ErrNotFound) {
		return "", ErrMissingToken.Withf("asset %s", unit)
	}
	if err != nil {
		return "", ErrIndexer.With(fmt.Errorf("asset %s history: %w", unit, err))
	}

	var minted []string
	for _, entry := range history {
		if entry.Action != "minted" {
			continue
		}
		qty, err := strconv.ParseInt(strings.TrimSpace(entry.Amount), 10, 64)
		if err != nil || qty != 1 {
			continue
		}
		minted = append(minted, entry.TxHash)
	}
	if len(minted) == 0 {
		return "", ErrMissingToken.Withf("asset %s", unit)
	}
	if len(minted) > 1 {
		// History is ordered newest first; the newest mint is the live loan.
		b.logger.Warn("multiple mint transactions for loan asset", "asset", unit, "count", len(minted))
	}
	return minted[0], nil
}

func (b *Bridge) lockedOutput(outputs []blockfrost.TxOutput, unit string) (blockfrost.TxOutput, error) {
	var matches []blockfrost.TxOutput
	for _, out := range outputs {
		if out.Address != b.cfg.ContractAddress {
			continue
		}
		for _, amt := range out.Amount {
			if amt.Unit == unit && strings.TrimSpace(amt.Quantity) == "1" {
				matches = append(matches, out)
				break
			}
		}
	}
	if len(matches) != 1 {
		return blockfrost.TxOutput{}, ErrLockedOutput.Withf("found %d", len(matches))
	}
	return matches[0], nil
}

// projectLoanRecord decodes an inline datum and keeps [lender, borrower, debt].
func projectLoanRecord(datumHex string) (string, *big.Int, error) {
	tree, err := plutusdata.DecodeHex(datumHex)
	if err != nil {
		return "", nil, err
	}
	fields, ok := plutusdata.List(tree)
	if !ok || len(fields) < 3 {
		return "", nil, plutusdata.ErrMalformedRecord.Withf("expected [lender, borrower, debt, ...]")
	}
	lender, ok := plutusdata.Bytes(fields[0])
	if !ok {
		return "", nil, plutusdata.ErrMalformedRecord.Withf("lender is not a byte string")
	}
	if _, ok := plutusdata.Bytes(fields[1]); !ok {
		return "", nil, plutusdata.ErrMalformedRecord.Withf("borrower is not a byte string")
	}
	debt, ok := plutusdata.Int(fields[2])
	if !ok {
		return "", nil, plutusdata.ErrMalformedRecord.Withf("debt is not an integer")
	}
	return lender, debt, nil
}
