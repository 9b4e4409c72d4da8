package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"

	"github.com/cloudx-io/sealedauction/internal/syncutil"
)

// Auction is one single-item auction engine instance. All methods are safe for concurrent
// use; every state transition runs under the instance lock and transfers are handed to
// custody only after the lock is released.
type Auction struct {
	mu syncutil.Mutex

	state  State
	index  map[string]int // participant id -> position in state.Participants
	outbox *outbox

	custody  Custody
	notifier Notifier

	// events holds committed events awaiting delivery, in Seq order. publishing is set
	// while one goroutine drains it.
	events     *deque.Deque[Event]
	publishing bool
}

// txn collects the side effects of one committed state transition.
type txn struct {
	events    []Event
	transfers []Transfer
}

// NewAuction validates cfg and creates an open auction. A nil notifier drops events.
func NewAuction(cfg Config, custody Custody, notifier Notifier) (*Auction, error) {
	if custody == nil {
		return nil, fmt.Errorf("%w: custody is required", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	state := State{
		ID:              cfg.ID,
		Seller:          cfg.Seller,
		Developer:       cfg.Developer,
		EntryBid:        cfg.EntryBid,
		StartTime:       cfg.StartTime,
		EndTime:         cfg.StartTime.Add(cfg.Duration),
		ExtensionWindow: cfg.ExtensionWindow,
		ExtensionAmount: cfg.ExtensionAmount,
		GracePeriod:     cfg.GracePeriod,
		IncrementBps:    cfg.IncrementBps,
		CommissionBps:   cfg.CommissionBps,
		Participants:    []Participant{},
	}
	return RestoreAuction(state, custody, notifier)
}

// RestoreAuction rebuilds an engine from a snapshot taken with Snapshot. Pending transfers
// are restored and become due immediately on the next RetryPendingTransfers call.
func RestoreAuction(state State, custody Custody, notifier Notifier) (*Auction, error) {
	if custody == nil {
		return nil, fmt.Errorf("%w: custody is required", ErrInvalidConfig)
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}

	a := &Auction{
		index:    make(map[string]int, len(state.Participants)),
		outbox:   newOutbox(),
		custody:  custody,
		notifier: notifier,
		events:   deque.New[Event](),
	}
	a.state = state
	a.state.Participants = append([]Participant{}, state.Participants...)
	a.state.Pending = nil
	for i, p := range a.state.Participants {
		if _, dup := a.index[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate participant %q in snapshot", ErrInvalidConfig, p.ID)
		}
		a.index[p.ID] = i
	}
	for _, p := range state.Pending {
		a.outbox.restore(p)
	}
	if err := a.checkInvariantsLocked(); err != nil {
		return nil, err
	}
	return a, nil
}

func (c Config) withDefaults() Config {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ExtensionWindow == 0 {
		c.ExtensionWindow = DefaultExtensionWindow
	}
	if c.ExtensionAmount == 0 {
		c.ExtensionAmount = DefaultExtensionAmount
	}
	if c.IncrementBps == 0 {
		c.IncrementBps = DefaultIncrementBps
	}
	if c.CommissionBps == 0 {
		c.CommissionBps = DefaultCommissionBps
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// Validate reports the first unusable parameter in c.
func (c Config) Validate() error {
	switch {
	case c.Seller == "":
		return fmt.Errorf("%w: seller is required", ErrInvalidConfig)
	case c.Developer == "":
		return fmt.Errorf("%w: developer is required", ErrInvalidConfig)
	case c.Seller == c.Developer:
		return fmt.Errorf("%w: seller and developer must differ", ErrInvalidConfig)
	case c.StartTime.IsZero():
		return fmt.Errorf("%w: start time is required", ErrInvalidConfig)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidConfig, c.Duration)
	case c.EntryBid <= 0:
		return fmt.Errorf("%w: entry bid must be positive, got %d", ErrInvalidConfig, c.EntryBid)
	case c.ExtensionWindow < 0 || c.ExtensionAmount < 0 || c.GracePeriod < 0:
		return fmt.Errorf("%w: extension and grace durations must not be negative", ErrInvalidConfig)
	case c.IncrementBps <= 0:
		return fmt.Errorf("%w: increment rate must be positive, got %d bps", ErrInvalidConfig, c.IncrementBps)
	case c.CommissionBps < 0 || c.CommissionBps >= bpsDenominator:
		return fmt.Errorf("%w: commission rate must be in [0, %d) bps, got %d", ErrInvalidConfig, bpsDenominator, c.CommissionBps)
	}
	return nil
}

// ID returns the auction identifier.
func (a *Auction) ID() uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.ID
}

// IsOpen reports whether bids are accepted at now.
func (a *Auction) IsOpen(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpenLocked(now)
}

// IsClosed is the negation of IsOpen.
func (a *Auction) IsClosed(now time.Time) bool {
	return !a.IsOpen(now)
}

// TimeRemaining returns how long the auction stays open after now, or zero once closed.
func (a *Auction) TimeRemaining(now time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isOpenLocked(now) {
		return 0
	}
	return a.state.EndTime.Sub(now)
}

// EndTime returns the current close time.
func (a *Auction) EndTime() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.EndTime
}

func (a *Auction) isOpenLocked(now time.Time) bool {
	return now.Before(a.state.EndTime)
}

// requireOpenLocked is the phase gate for open-phase operations.
func (a *Auction) requireOpenLocked(op string, now time.Time) error {
	if err := a.requireHealthyLocked(); err != nil {
		return err
	}
	if !a.isOpenLocked(now) {
		return fmt.Errorf("%w: %s requires an open auction (closed at %s)", ErrPhaseViolation, op, a.state.EndTime.Format(time.RFC3339))
	}
	return nil
}

// requireClosedLocked is the phase gate for settlement operations.
func (a *Auction) requireClosedLocked(op string, now time.Time) error {
	if err := a.requireHealthyLocked(); err != nil {
		return err
	}
	if a.isOpenLocked(now) {
		return fmt.Errorf("%w: %s requires a closed auction (closes at %s)", ErrPhaseViolation, op, a.state.EndTime.Format(time.RFC3339))
	}
	return nil
}

func (a *Auction) requireHealthyLocked() error {
	if a.state.Halted {
		return fmt.Errorf("%w: auction %s is halted", ErrInvariantBroken, a.state.ID)
	}
	return nil
}

// haltLocked records a fatal inconsistency and returns the error to surface.
func (a *Auction) haltLocked(format string, args ...any) error {
	a.state.Halted = true
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariantBroken}, args...)...)
}

func (a *Auction) participantLocked(id string) (*Participant, bool) {
	i, ok := a.index[id]
	if !ok {
		return nil, false
	}
	return &a.state.Participants[i], true
}

func (a *Auction) registerLocked(id string) *Participant {
	if p, ok := a.participantLocked(id); ok {
		return p
	}
	a.index[id] = len(a.state.Participants)
	a.state.Participants = append(a.state.Participants, Participant{ID: id})
	return &a.state.Participants[len(a.state.Participants)-1]
}

func (a *Auction) eventLocked(typ EventType, participant string, amount int64, now time.Time) Event {
	a.state.EventSeq++
	return Event{
		Seq:         a.state.EventSeq,
		Type:        typ,
		AuctionID:   a.state.ID,
		Participant: participant,
		Amount:      amount,
		At:          now,
	}
}

func (a *Auction) emitLocked(tx *txn, typ EventType, participant string, amount int64, now time.Time) *Event {
	tx.events = append(tx.events, a.eventLocked(typ, participant, amount, now))
	return &tx.events[len(tx.events)-1]
}

// debitEscrowLocked removes amount from escrow ahead of authorizing its transfer.
func (a *Auction) debitEscrowLocked(amount int64) error {
	if amount > a.state.Escrow {
		return a.haltLocked("escrow %d cannot cover %d", a.state.Escrow, amount)
	}
	a.state.Escrow -= amount
	return nil
}

// queueLocked hands a committed transaction's events to delivery. It runs before the
// instance lock is released, so queue order is commit order.
func (a *Auction) queueLocked(tx *txn) {
	if tx == nil {
		return
	}
	for _, ev := range tx.events {
		a.events.PushBack(ev)
	}
}

// publish delivers queued events to the notifier in Seq order. Only one goroutine
// delivers at a time; a caller that finds delivery in progress leaves its events to that
// goroutine, which also keeps a notifier calling back into the auction from deadlocking.
// The instance lock must not be held.
func (a *Auction) publish() {
	a.mu.Lock()
	if a.publishing {
		a.mu.Unlock()
		return
	}
	a.publishing = true
	for a.events.Len() > 0 {
		ev := a.events.PopFront()
		a.mu.Unlock()
		a.deliver(ev)
		a.mu.Lock()
	}
	a.publishing = false
	a.mu.Unlock()
}

func (a *Auction) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			a.mu.Lock()
			a.publishing = false
			a.mu.Unlock()
			panic(r)
		}
	}()
	a.notifier.Notify(ev)
}

// finish publishes a committed transaction's events, then dispatches its transfers.
// The instance lock must not be held.
func (a *Auction) finish(ctx context.Context, tx *txn, now time.Time) error {
	a.publish()
	var errs []error
	for _, t := range tx.transfers {
		if err := a.dispatch(ctx, t, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkInvariantsLocked verifies the ledger relations that must hold between transitions.
func (a *Auction) checkInvariantsLocked() error {
	s := &a.state
	if s.Escrow < 0 || s.CommissionAccumulator < 0 {
		return fmt.Errorf("%w: negative escrow %d or commission %d", ErrInvariantBroken, s.Escrow, s.CommissionAccumulator)
	}
	if s.CommissionAccumulator > s.Escrow {
		return fmt.Errorf("%w: commission %d exceeds escrow %d", ErrInvariantBroken, s.CommissionAccumulator, s.Escrow)
	}
	if s.HighestBidder != "" {
		if s.HighestBid < s.EntryBid {
			return fmt.Errorf("%w: highest bid %d below entry bid %d", ErrInvariantBroken, s.HighestBid, s.EntryBid)
		}
		leader, ok := a.participantLocked(s.HighestBidder)
		if !ok {
			return fmt.Errorf("%w: highest bidder %q is not a participant", ErrInvariantBroken, s.HighestBidder)
		}
		if leader.LastCountedBid != s.HighestBid {
			return fmt.Errorf("%w: leader counted bid %d != highest bid %d", ErrInvariantBroken, leader.LastCountedBid, s.HighestBid)
		}
	}
	for _, p := range s.Participants {
		if p.LastCountedBid < 0 || p.TotalDeposited < p.LastCountedBid {
			return fmt.Errorf("%w: participant %q deposited %d < counted %d", ErrInvariantBroken, p.ID, p.TotalDeposited, p.LastCountedBid)
		}
	}
	return nil
}

// CheckInvariants verifies the ledger relations and halts the instance if any fails.
func (a *Auction) CheckInvariants() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkInvariantsLocked(); err != nil {
		a.state.Halted = true
		return err
	}
	return nil
}

// ParticipantInfo returns a copy of the participant's ledger record.
func (a *Auction) ParticipantInfo(id string) (Participant, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.participantLocked(id)
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// ParticipantIDs returns every registered participant in registration order.
func (a *Auction) ParticipantIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.state.Participants))
	for _, p := range a.state.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// Summary is a read-only view of the auction-level fields.
type Summary struct {
	ID                    uuid.UUID `json:"id"`
	Seller                string    `json:"seller"`
	Developer             string    `json:"developer"`
	EntryBid              int64     `json:"entry_bid"`
	HighestBid            int64     `json:"highest_bid"`
	HighestBidder         string    `json:"highest_bidder,omitempty"`
	StartTime             time.Time `json:"start_time"`
	EndTime               time.Time `json:"end_time"`
	Open                  bool      `json:"open"`
	WinnerAnnounced       bool      `json:"winner_announced"`
	SellerPaid            bool      `json:"seller_paid"`
	CommissionAccumulator int64     `json:"commission_accumulator"`
	Escrow                int64     `json:"escrow"`
	PendingAmount         int64     `json:"pending_amount"`
	Participants          int       `json:"participants"`
	Halted                bool      `json:"halted,omitempty"`
}

// Summarize returns the auction-level view at now.
func (a *Auction) Summarize(now time.Time) Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	return Summary{
		ID:                    s.ID,
		Seller:                s.Seller,
		Developer:             s.Developer,
		EntryBid:              s.EntryBid,
		HighestBid:            s.HighestBid,
		HighestBidder:         s.HighestBidder,
		StartTime:             s.StartTime,
		EndTime:               s.EndTime,
		Open:                  a.isOpenLocked(now),
		WinnerAnnounced:       s.WinnerAnnounced,
		SellerPaid:            s.SellerPaid,
		CommissionAccumulator: s.CommissionAccumulator,
		Escrow:                s.Escrow,
		PendingAmount:         a.outbox.total(),
		Participants:          len(s.Participants),
		Halted:                s.Halted,
	}
}

// Snapshot returns a deep copy of the full state, including pending transfers.
func (a *Auction) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	s.Participants = append([]Participant{}, a.state.Participants...)
	s.Pending = a.outbox.snapshot()
	return s
}
