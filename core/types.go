package core

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultExtensionWindow is the trailing window before EndTime in which an accepted bid
	// resets the close time.
	DefaultExtensionWindow = 600 * time.Second

	// DefaultExtensionAmount is how far past the accepted bid the close time is moved.
	DefaultExtensionAmount = 600 * time.Second

	// DefaultIncrementBps is the minimum raise over the current highest bid (5%).
	DefaultIncrementBps int64 = 500

	// DefaultCommissionBps is the platform commission retained on refunds and seller payout (2%).
	DefaultCommissionBps int64 = 200

	// DefaultGracePeriod gates EmergencyWithdraw after close.
	DefaultGracePeriod = 7 * 24 * time.Hour

	bpsDenominator int64 = 10000
)

// Config holds the construction parameters of a single auction.
type Config struct {
	ID        uuid.UUID     `json:"id" yaml:"-"`
	Seller    string        `json:"seller" yaml:"seller"`
	Developer string        `json:"developer" yaml:"developer"`
	StartTime time.Time     `json:"start_time" yaml:"-"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	EntryBid  int64         `json:"entry_bid" yaml:"entryBid"`

	// Zero values below fall back to the package defaults.
	ExtensionWindow time.Duration `json:"extension_window,omitempty" yaml:"extensionWindow"`
	ExtensionAmount time.Duration `json:"extension_amount,omitempty" yaml:"extensionAmount"`
	IncrementBps    int64         `json:"increment_bps,omitempty" yaml:"incrementBps"`
	CommissionBps   int64         `json:"commission_bps,omitempty" yaml:"commissionBps"`
	GracePeriod     time.Duration `json:"grace_period,omitempty" yaml:"gracePeriod"`
}

// Participant is the per-bidder ledger record, created on the bidder's first accepted bid.
type Participant struct {
	ID             string `json:"id" cbor:"id"`
	TotalDeposited int64  `json:"total_deposited" cbor:"total_deposited"`
	LastCountedBid int64  `json:"last_counted_bid" cbor:"last_counted_bid"`
	RefundClaimed  bool   `json:"refund_claimed" cbor:"refund_claimed"`
	ProductClaimed bool   `json:"product_claimed" cbor:"product_claimed"`
}

// Excess returns the deposited amount not counted toward the participant's standing bid.
func (p Participant) Excess() int64 {
	return p.TotalDeposited - p.LastCountedBid
}

// State is the full mutable record of one auction. It is what Snapshot returns and what
// RestoreAuction accepts; the engine itself never persists it.
type State struct {
	ID        uuid.UUID `json:"id" cbor:"id"`
	Seller    string    `json:"seller" cbor:"seller"`
	Developer string    `json:"developer" cbor:"developer"`

	EntryBid      int64  `json:"entry_bid" cbor:"entry_bid"`
	HighestBid    int64  `json:"highest_bid" cbor:"highest_bid"`
	HighestBidder string `json:"highest_bidder,omitempty" cbor:"highest_bidder"`

	StartTime       time.Time     `json:"start_time" cbor:"start_time"`
	EndTime         time.Time     `json:"end_time" cbor:"end_time"`
	ExtensionWindow time.Duration `json:"extension_window" cbor:"extension_window"`
	ExtensionAmount time.Duration `json:"extension_amount" cbor:"extension_amount"`
	GracePeriod     time.Duration `json:"grace_period" cbor:"grace_period"`

	IncrementBps  int64 `json:"increment_bps" cbor:"increment_bps"`
	CommissionBps int64 `json:"commission_bps" cbor:"commission_bps"`

	WinnerAnnounced    bool `json:"winner_announced" cbor:"winner_announced"`
	SellerPaid         bool `json:"seller_paid" cbor:"seller_paid"`
	EmergencyWithdrawn bool `json:"emergency_withdrawn" cbor:"emergency_withdrawn"`

	CommissionAccumulator int64 `json:"commission_accumulator" cbor:"commission_accumulator"`
	Escrow                int64 `json:"escrow" cbor:"escrow"`

	// Participants in registration order.
	Participants []Participant `json:"participants" cbor:"participants"`

	// Pending transfers in dispatch order.
	Pending []PendingTransfer `json:"pending,omitempty" cbor:"pending"`

	EventSeq uint64 `json:"event_seq" cbor:"event_seq"`
	Halted   bool   `json:"halted,omitempty" cbor:"halted"`
}

// BidEntry pairs a participant with their gross deposits, as returned by ListBids.
type BidEntry struct {
	Participant    string `json:"participant"`
	TotalDeposited int64  `json:"total_deposited"`
}

// BidResult describes an accepted bid.
type BidResult struct {
	Bidder        string    `json:"bidder"`
	Amount        int64     `json:"amount"`
	TotalDeposit  int64     `json:"total_deposit"`
	PreviousLead  string    `json:"previous_lead,omitempty"`
	EndTime       time.Time `json:"end_time"`
	Extended      bool      `json:"extended"`
	NextMinimum   int64     `json:"next_minimum"`
	EventSequence uint64    `json:"event_sequence"`
}

// WinnerAnnouncement is the result of AnnounceWinner. Winner is empty when no bid was accepted.
type WinnerAnnouncement struct {
	AuctionID uuid.UUID `json:"auction_id"`
	Winner    string    `json:"winner,omitempty"`
	Amount    int64     `json:"amount"`
	EndTime   time.Time `json:"end_time"`
}

// Payout is a settled monetary authorization returned to callers.
type Payout struct {
	TransferID uuid.UUID `json:"transfer_id"`
	To         string    `json:"to"`
	Amount     int64     `json:"amount"`
	Commission int64     `json:"commission,omitempty"`
	Delivered  bool      `json:"delivered"`
}

// RefundReport summarises a DistributeRefunds run. A payee listed in Failed has been marked
// refunded and its transfer is queued for retry.
type RefundReport struct {
	Refunded []Payout `json:"refunded"`
	Failed   []Payout `json:"failed,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
}
