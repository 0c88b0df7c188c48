package terminal

import (
	"errors"

	"projectledger/native/fees"
	"projectledger/native/fundaccess"
	"projectledger/native/prices"
	"projectledger/native/tokens"
	"projectledger/native/vault"
)

var (
	ErrPaymentPaused                  = errors.New("terminal: FUNDING_CYCLE_PAYMENT_PAUSED")
	ErrDistributionPaused             = errors.New("terminal: FUNDING_CYCLE_DISTRIBUTION_PAUSED")
	ErrRedeemPaused                   = errors.New("terminal: FUNDING_CYCLE_REDEEM_PAUSED")
	ErrDistributionAmountLimitReached = errors.New("terminal: DISTRIBUTION_AMOUNT_LIMIT_REACHED")
	ErrInadequateControllerAllowance  = errors.New("terminal: INADEQUATE_CONTROLLER_ALLOWANCE")
	ErrInadequateStoreBalance         = errors.New("terminal: INADEQUATE_PAYMENT_TERMINAL_STORE_BALANCE")
	ErrInsufficientTokens             = errors.New("terminal: INSUFFICIENT_TOKENS")
	ErrInvalidAmountToSendDelegate    = errors.New("terminal: INVALID_AMOUNT_TO_SEND_DELEGATE")
	ErrInadequateTokenCount           = errors.New("terminal: INADEQUATE_TOKEN_COUNT")
	ErrInadequateReclaimAmount        = errors.New("terminal: INADEQUATE_RECLAIM_AMOUNT")
	ErrInadequateDistributedAmount    = errors.New("terminal: INADEQUATE_DISTRIBUTION_AMOUNT")
	ErrRedeemToZeroAddress            = errors.New("terminal: REDEEM_TO_ZERO_ADDRESS")
	ErrTerminalInSplitZeroAddress     = errors.New("terminal: TERMINAL_IN_SPLIT_ZERO_ADDRESS")
	ErrTokenNotAccepted               = errors.New("terminal: TOKEN_NOT_ACCEPTED")
	ErrUnauthorized                   = errors.New("terminal: UNAUTHORIZED")
	ErrUnauthorizedTerminal           = errors.New("terminal: terminal not registered for project")
	ErrReentrantCall                  = errors.New("terminal: REENTRANT_CALL")
	ErrDelegateNotFound               = errors.New("terminal: delegate not found")
	ErrTerminalNotFound               = errors.New("terminal: terminal not found")
	ErrInvalidAmount                  = errors.New("terminal: amount must not be negative")
	ErrAccumulatorOverflow            = errors.New("terminal: accumulator overflow")
	ErrMathOverflow                   = errors.New("terminal: mulDiv overflow")
	ErrDivisionByZero                 = errors.New("terminal: division by zero")
	errNilState                       = errors.New("terminal: state not configured")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrPaymentPaused, "FUNDING_CYCLE_PAYMENT_PAUSED"},
	{ErrDistributionPaused, "FUNDING_CYCLE_DISTRIBUTION_PAUSED"},
	{ErrRedeemPaused, "FUNDING_CYCLE_REDEEM_PAUSED"},
	{ErrDistributionAmountLimitReached, "DISTRIBUTION_AMOUNT_LIMIT_REACHED"},
	{ErrInadequateControllerAllowance, "INADEQUATE_CONTROLLER_ALLOWANCE"},
	{ErrInadequateStoreBalance, "INADEQUATE_PAYMENT_TERMINAL_STORE_BALANCE"},
	{ErrInsufficientTokens, "INSUFFICIENT_TOKENS"},
	{ErrInvalidAmountToSendDelegate, "INVALID_AMOUNT_TO_SEND_DELEGATE"},
	{ErrInadequateTokenCount, "INADEQUATE_TOKEN_COUNT"},
	{ErrInadequateReclaimAmount, "INADEQUATE_RECLAIM_AMOUNT"},
	{ErrInadequateDistributedAmount, "INADEQUATE_DISTRIBUTION_AMOUNT"},
	{ErrRedeemToZeroAddress, "REDEEM_TO_ZERO_ADDRESS"},
	{ErrTerminalInSplitZeroAddress, "TERMINAL_IN_SPLIT_ZERO_ADDRESS"},
	{ErrTokenNotAccepted, "TOKEN_NOT_ACCEPTED"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrUnauthorizedTerminal, "UNAUTHORIZED"},
	{ErrReentrantCall, "REENTRANT_CALL"},
	{ErrDelegateNotFound, "DELEGATE_NOT_FOUND"},
	{ErrTerminalNotFound, "TERMINAL_NOT_FOUND"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrAccumulatorOverflow, "OVERFLOW"},
	{ErrMathOverflow, "OVERFLOW"},
	{ErrDivisionByZero, "DIVISION_BY_ZERO"},
	{fees.ErrFeeTooHigh, "FEE_TOO_HIGH"},
	{tokens.ErrInsufficientFunds, "INSUFFICIENT_FUNDS"},
	{tokens.ErrBurnPaused, "BURN_PAUSED"},
	{vault.ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{prices.ErrPriceFeedNotFound, "PRICE_FEED_NOT_FOUND"},
	{fundaccess.ErrInvalidDistributionLimit, "INVALID_DISTRIBUTION_LIMIT"},
	{fundaccess.ErrInvalidOverflowAllowance, "INVALID_OVERFLOW_ALLOWANCE"},
}

// Code maps an error returned by the terminal or the ledger to its stable
// reason string. Unknown errors map to "UNKNOWN" and nil to "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "UNKNOWN"
}
