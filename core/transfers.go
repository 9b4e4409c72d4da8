package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
)

// TransferKind identifies why a transfer was authorized.
type TransferKind string

const (
	TransferExcess       TransferKind = "excess"
	TransferRefund       TransferKind = "refund"
	TransferSellerPayout TransferKind = "seller_payout"
	TransferCommission   TransferKind = "commission"
	TransferEmergency    TransferKind = "emergency_sweep"
	// TransferProduct moves item ownership to the winner and carries no amount.
	TransferProduct TransferKind = "product"
)

const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 5 * time.Minute
)

// Transfer is an authorization for the custody collaborator to move value out of the
// auction's escrow. ID is stable across retries so custody can deduplicate.
type Transfer struct {
	ID           uuid.UUID    `json:"id" cbor:"id"`
	AuctionID    uuid.UUID    `json:"auction_id" cbor:"auction_id"`
	Kind         TransferKind `json:"kind" cbor:"kind"`
	From         string       `json:"from,omitempty" cbor:"from"`
	To           string       `json:"to" cbor:"to"`
	Amount       int64        `json:"amount" cbor:"amount"`
	AuthorizedAt time.Time    `json:"authorized_at" cbor:"authorized_at"`
}

// Custody is the external funds-custody collaborator. The engine calls it only after the
// state change behind a transfer is committed and the instance lock is released.
type Custody interface {
	Transfer(ctx context.Context, t Transfer) error
}

// CustodyFunc adapts a function to Custody.
type CustodyFunc func(ctx context.Context, t Transfer) error

func (f CustodyFunc) Transfer(ctx context.Context, t Transfer) error { return f(ctx, t) }

// PendingTransfer is an authorized transfer that custody has not yet confirmed.
type PendingTransfer struct {
	Transfer  Transfer  `json:"transfer" cbor:"transfer"`
	Attempts  int       `json:"attempts" cbor:"attempts"`
	NextRetry time.Time `json:"next_retry" cbor:"next_retry"`
	LastError string    `json:"last_error,omitempty" cbor:"last_error"`
}

// RetryReport summarises a RetryPendingTransfers pass.
type RetryReport struct {
	Delivered []uuid.UUID `json:"delivered"`
	Failed    []uuid.UUID `json:"failed,omitempty"`
	Waiting   int         `json:"waiting"`
}

// NextRetryTime returns when a transfer that has failed `attempts` times becomes due again.
// 2s, 4s, 8s ... capped to 5m.
func NextRetryTime(now time.Time, attempts int) time.Time {
	if attempts < 1 {
		attempts = 1
	}
	backoff := retryBaseDelay
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= retryMaxDelay {
			backoff = retryMaxDelay
			break
		}
	}
	return now.Add(backoff)
}

// outbox keeps pending transfers in dispatch order. Entries are removed from the map when
// delivered; stale queue slots are dropped lazily when the queue is walked.
type outbox struct {
	order    *deque.Deque[uuid.UUID]
	pending  map[uuid.UUID]*PendingTransfer
	inflight map[uuid.UUID]struct{}
}

func newOutbox() *outbox {
	return &outbox{
		order:    deque.New[uuid.UUID](),
		pending:  make(map[uuid.UUID]*PendingTransfer),
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// add queues t and marks it in flight; the authorizing call dispatches it right after commit.
func (o *outbox) add(t Transfer) {
	o.restore(PendingTransfer{Transfer: t, NextRetry: t.AuthorizedAt})
	o.inflight[t.ID] = struct{}{}
}

func (o *outbox) restore(p PendingTransfer) {
	o.pending[p.Transfer.ID] = &p
	o.order.PushBack(p.Transfer.ID)
}

func (o *outbox) settle(id uuid.UUID, delivered bool) {
	delete(o.inflight, id)
	if delivered {
		delete(o.pending, id)
	}
}

// compact walks the queue once, dropping delivered entries, and returns the live entries in order.
func (o *outbox) compact() []*PendingTransfer {
	live := make([]*PendingTransfer, 0, len(o.pending))
	for n := o.order.Len(); n > 0; n-- {
		id := o.order.PopFront()
		p, ok := o.pending[id]
		if !ok {
			continue
		}
		o.order.PushBack(id)
		live = append(live, p)
	}
	return live
}

func (o *outbox) snapshot() []PendingTransfer {
	live := o.compact()
	out := make([]PendingTransfer, 0, len(live))
	for _, p := range live {
		out = append(out, *p)
	}
	return out
}

func (o *outbox) total() int64 {
	var sum int64
	for _, p := range o.pending {
		sum += p.Transfer.Amount
	}
	return sum
}

// newTransferLocked builds a transfer and queues it. Callers hold the instance lock.
func (a *Auction) newTransferLocked(tx *txn, kind TransferKind, to string, amount int64, now time.Time) Transfer {
	t := Transfer{
		ID:           uuid.New(),
		AuctionID:    a.state.ID,
		Kind:         kind,
		From:         a.escrowAccount(kind),
		To:           to,
		Amount:       amount,
		AuthorizedAt: now,
	}
	a.outbox.add(t)
	tx.transfers = append(tx.transfers, t)
	return t
}

func (a *Auction) escrowAccount(kind TransferKind) string {
	if kind == TransferProduct {
		return a.state.Seller
	}
	return "escrow:" + a.state.ID.String()
}

// dispatch hands one committed transfer to custody. The instance lock must not be held.
func (a *Auction) dispatch(ctx context.Context, t Transfer, now time.Time) error {
	custodyErr := a.custody.Transfer(ctx, t)

	a.mu.Lock()
	a.outbox.settle(t.ID, custodyErr == nil)
	p, ok := a.outbox.pending[t.ID]
	if custodyErr == nil || !ok {
		a.mu.Unlock()
		return nil
	}
	p.Attempts++
	p.LastError = custodyErr.Error()
	p.NextRetry = NextRetryTime(now, p.Attempts)
	ev := a.eventLocked(EventTransferFailed, t.To, t.Amount, now)
	ev.Detail = fmt.Sprintf("%s %s: %v", t.Kind, t.ID, custodyErr)
	a.events.PushBack(ev)
	a.mu.Unlock()

	a.publish()
	return fmt.Errorf("%w: %s of %d to %s (transfer %s queued for retry): %v",
		ErrTransferFailed, t.Kind, t.Amount, t.To, t.ID, custodyErr)
}

// RetryPendingTransfers re-dispatches every pending transfer whose retry time has come.
// Transfers keep their IDs. The returned error joins every failure.
func (a *Auction) RetryPendingTransfers(ctx context.Context, now time.Time) (*RetryReport, error) {
	a.mu.Lock()
	due := make([]Transfer, 0)
	waiting := 0
	for _, p := range a.outbox.compact() {
		if _, busy := a.outbox.inflight[p.Transfer.ID]; busy || p.NextRetry.After(now) {
			waiting++
			continue
		}
		a.outbox.inflight[p.Transfer.ID] = struct{}{}
		due = append(due, p.Transfer)
	}
	a.mu.Unlock()

	report := &RetryReport{Delivered: []uuid.UUID{}, Waiting: waiting}
	var errs []error
	for _, t := range due {
		if err := a.dispatch(ctx, t, now); err != nil {
			report.Failed = append(report.Failed, t.ID)
			errs = append(errs, err)
			continue
		}
		report.Delivered = append(report.Delivered, t.ID)
	}
	return report, errors.Join(errs...)
}

// PendingTransfers returns the transfers custody has not yet confirmed, in dispatch order.
func (a *Auction) PendingTransfers() []PendingTransfer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outbox.snapshot()
}
