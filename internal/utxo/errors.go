package utxo

import "github.com/Ghost-Capital/lendex-catalyst/internal/apperr"

var (
	ErrValidatorNotFound = apperr.Configuration("ValidatorNotFound", "validator missing from blueprint")
	ErrMissingNonce      = apperr.Configuration("MissingNonce", "validator nonce is empty")
	ErrBadValidator      = apperr.Configuration("BadValidator", "validator cannot be used as supplied")
	ErrInvalidLoan       = apperr.Validation("InvalidLoanTerms", "invalid loan terms")
	ErrFeeMismatch       = apperr.Validation("FeeMismatch", "fee does not match the locked datum")
	ErrLoanAssetExists   = apperr.StateConflict("LoanAssetExists", "loan asset is already minted")
	ErrMissingLoan       = apperr.NotFound("MissingLoanUTxO", "no locked output holds the loan asset")
	ErrLedger            = apperr.ExternalService("LedgerFailure", "utxo ledger request failed")
	ErrRejected          = apperr.ExternalService("TxRejected", "transaction rejected by the ledger")
)
