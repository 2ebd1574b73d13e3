package service

import "voltledger/internal/apperr"

var (
	ErrUserNotFound        = apperr.NotFound("user not found")
	ErrTaskNotFound        = apperr.NotFound("task not found")
	ErrTransactionNotFound = apperr.NotFound("transaction not found")

	ErrTaskAlreadyDone  = apperr.Conflict("task already completed")
	ErrAlreadyProcessed = apperr.Conflict("transaction already processed")
	ErrBalanceChanged   = apperr.Conflict("user has insufficient balance at approval time")
	ErrUserExists       = apperr.Conflict("user already exists")
	ErrDuplicateRef     = apperr.Conflict("payment reference already used")

	ErrReferralOnlyBalance = apperr.Forbidden("you cannot complete tasks because your balance is from referral commissions only, please make your initial deposit first")
	ErrNoApprovedDeposit   = apperr.Forbidden("you cannot withdraw funds until you have made at least one successful deposit")
	ErrAccountBlocked      = apperr.Forbidden("account is blocked")
	ErrAdminOnly           = apperr.Forbidden("admin access only")

	ErrInvalidCredentials = apperr.Unauthorized("invalid credentials")

	ErrZeroBalance          = apperr.Validation("you cannot complete tasks because your wallet balance is zero, please make an initial deposit first")
	ErrInvalidAmount        = apperr.Validation("invalid amount")
	ErrBelowMinDeposit      = apperr.Validation("minimum deposit amount is UGX 10,000")
	ErrBelowMinWithdrawal   = apperr.Validation("minimum withdrawal amount is UGX 50,000")
	ErrInsufficientBalance  = apperr.Validation("insufficient balance for withdrawal request")
	ErrMissingFields        = apperr.Validation("phone, username and password are required")
	ErrWeakPassword         = apperr.Validation("password must be at least 6 characters")
	ErrInvalidResetToken    = apperr.Validation("invalid or expired token")
	ErrUnknownPaymentStatus = apperr.Validation("unknown payment status")
	ErrInvalidTxType        = apperr.Validation("invalid transaction type")
	ErrNegativeBalance      = apperr.Validation("adjustment would make the balance negative")

	ErrGatewayDisabled = apperr.Unavailable("mobile money gateway is not configured")
)

func gatewayError(err error) error {
	return apperr.Wrap(apperr.KindUnavailable, "mobile money gateway request failed", err)
}
