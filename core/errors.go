package core

import "errors"

var (
	// ErrPhaseViolation is returned when an operation is called in the wrong lifecycle phase.
	ErrPhaseViolation = errors.New("phase violation")

	// ErrUnauthorized is returned when the caller lacks the role the operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBidTooLow is returned when a bid fails the entry or increment rule.
	ErrBidTooLow = errors.New("bid too low")

	// ErrInvalidAmount is returned for non-positive or overflowing amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNoExcess is returned when the leading bidder has no deposits beyond the standing bid.
	ErrNoExcess = errors.New("no excess")

	// ErrNoFunds is returned when there is nothing to claim or withdraw.
	ErrNoFunds = errors.New("no funds")

	// ErrAlreadyClaimed is returned when a one-shot settlement action has already run.
	ErrAlreadyClaimed = errors.New("already claimed")

	// ErrSettlementIncomplete is returned by EmergencyWithdraw while refunds or the seller
	// payout are still outstanding.
	ErrSettlementIncomplete = errors.New("settlement incomplete")

	// ErrInvariantBroken signals internal inconsistency. The instance halts after returning it.
	ErrInvariantBroken = errors.New("invariant broken")

	// ErrTransferFailed is returned when custody rejects an authorized transfer. The state
	// change stays committed and the transfer stays queued for retry.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrInvalidConfig is returned by NewAuction for unusable parameters.
	ErrInvalidConfig = errors.New("invalid auction config")

	// ErrUnknownAuction is returned by Registry lookups.
	ErrUnknownAuction = errors.New("unknown auction")
)
