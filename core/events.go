package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a notification emitted by the engine.
type EventType string

const (
	EventBidAccepted         EventType = "bid_accepted"
	EventLeadershipChanged   EventType = "leadership_changed"
	EventAuctionExtended     EventType = "auction_extended"
	EventWinnerAnnounced     EventType = "winner_announced"
	EventAuctionFinished     EventType = "auction_finished"
	EventExcessClaimed       EventType = "excess_claimed"
	EventRefundIssued        EventType = "refund_issued"
	EventProductClaimed      EventType = "product_claimed"
	EventSellerPaid          EventType = "seller_paid"
	EventCommissionWithdrawn EventType = "commission_withdrawn"
	EventEmergencyWithdrawn  EventType = "emergency_withdrawn"
	EventTransferFailed      EventType = "transfer_failed"
)

// Event is published to the Notifier after the state change that produced it is committed.
// Seq is strictly increasing per auction.
type Event struct {
	Seq         uint64    `json:"seq"`
	Type        EventType `json:"type"`
	AuctionID   uuid.UUID `json:"auction_id"`
	Participant string    `json:"participant,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	EndTime     time.Time `json:"end_time,omitzero"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier receives engine events of an auction one at a time, in Seq order. Notify runs
// outside the instance lock, on the goroutine of whichever caller is delivering, so an
// event may arrive after the operation that produced it has returned to its caller.
// Implementations must not block for long.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// NoopNotifier drops every event.
type NoopNotifier struct{}

func (NoopNotifier) Notify(Event) {}

// MultiNotifier fans an event out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}
