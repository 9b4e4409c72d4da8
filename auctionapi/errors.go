package auctionapi

import (
	"errors"

	"github.com/cloudx-io/sealedauction/core"
)

// ErrorCode is the stable machine-readable reason carried by a failed Response.
type ErrorCode string

const (
	CodePhaseViolation       ErrorCode = "phase_violation"
	CodeUnauthorized         ErrorCode = "unauthorized"
	CodeBidTooLow            ErrorCode = "bid_too_low"
	CodeInvalidAmount        ErrorCode = "invalid_amount"
	CodeNoExcess             ErrorCode = "no_excess"
	CodeNoFunds              ErrorCode = "no_funds"
	CodeAlreadyClaimed       ErrorCode = "already_claimed"
	CodeSettlementIncomplete ErrorCode = "settlement_incomplete"
	CodeInvariantBroken      ErrorCode = "invariant_broken"
	CodeTransferFailed       ErrorCode = "transfer_failed"
	CodeInvalidConfig        ErrorCode = "invalid_config"
	CodeUnknownAuction       ErrorCode = "unknown_auction"
	CodeBadRequest           ErrorCode = "bad_request"
	CodeRateLimited          ErrorCode = "rate_limited"
	CodeInternal             ErrorCode = "internal"
)

var (
	// ErrBadRequest marks malformed or incomplete requests.
	ErrBadRequest = errors.New("bad request")

	// ErrRateLimited is returned when a caller exceeds its request budget.
	ErrRateLimited = errors.New("rate limited")
)

var codes = []struct {
	err  error
	code ErrorCode
}{
	// Invariant first: a halted instance wraps it alongside other causes.
	{core.ErrInvariantBroken, CodeInvariantBroken},
	{core.ErrTransferFailed, CodeTransferFailed},
	{core.ErrPhaseViolation, CodePhaseViolation},
	{core.ErrUnauthorized, CodeUnauthorized},
	{core.ErrBidTooLow, CodeBidTooLow},
	{core.ErrInvalidAmount, CodeInvalidAmount},
	{core.ErrNoExcess, CodeNoExcess},
	{core.ErrNoFunds, CodeNoFunds},
	{core.ErrAlreadyClaimed, CodeAlreadyClaimed},
	{core.ErrSettlementIncomplete, CodeSettlementIncomplete},
	{core.ErrInvalidConfig, CodeInvalidConfig},
	{core.ErrUnknownAuction, CodeUnknownAuction},
	{ErrBadRequest, CodeBadRequest},
	{ErrRateLimited, CodeRateLimited},
}

// CodeFor maps err to its ErrorCode, CodeInternal when nothing matches.
func CodeFor(err error) ErrorCode {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
