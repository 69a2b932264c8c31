package escrow

import "github.com/Ghost-Capital/lendex-catalyst/internal/apperr"

var (
	ErrInvalidPayload      = apperr.Validation("InvalidPayload", "custody payload must be (uint256 deadline, int256 amount, string currency)")
	ErrUnsupportedCurrency = apperr.Validation("UnsupportedCurrency", "Only ADA currency supported")
	ErrBelowMinimumAmount  = apperr.Validation("BelowMinimumAmount", "Minimun 1 ADA to be lended")
	ErrDeadlineTooSoon     = apperr.Validation("DeadlineTooSoon", "Minimum 1 day deadline")
	ErrInvalidLender       = apperr.Validation("InvalidLender", "lender address is required")
	ErrDebtMismatch        = apperr.Validation("DebtMismatch", "verified debt does not match the locked amount")

	ErrUnexpectedLockToken     = apperr.StateConflict("UnexpectedLockToken", "token already has a live position")
	ErrUnexpectedBorrowToken   = apperr.StateConflict("UnexpectedBorrowToken", "token is not locked")
	ErrUnexpectedPaidTokenDebt = apperr.StateConflict("UnexpectedPaidTokenDebt", "token is not waiting payment or the deadline has passed")
	ErrUnexpectedClaimToken    = apperr.StateConflict("UnexpectedClaimToken", "deadline has not passed")

	ErrNotDepositor       = apperr.Authorization("NotDepositor", "Only token owner can paid token debt")
	ErrClaimWithoutLoan   = apperr.Authorization("NoActiveLoan", "Only owner can claim token if not borrowed or with debt paid")
	ErrClaimLockedOrPaid  = apperr.Authorization("NotOwner", "Only owner can claim token locked or paid")
	ErrClaimBeforeDefault = apperr.Authorization("NotLender", "Only lender can claim token after deadline")
	ErrSignerMismatch     = apperr.Authorization("SignerMismatch", "caller is not the configured signer")

	ErrStore    = apperr.ExternalService("PositionStoreFailure", "position store request failed")
	ErrChain    = apperr.ExternalService("ChainFailure", "evm request failed")
	ErrReverted = apperr.ExternalService("TxReverted", "evm transaction reverted")
)
