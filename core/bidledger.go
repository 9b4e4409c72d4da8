package core

import (
	"fmt"
	"time"
)

// PlaceBid records a bid of amount from bidder at now.
//
// The submitted amount alone must clear the entry bid (first bid) or the increment rule over
// the current highest bid; deposits from earlier bids do not count toward it. A rejected bid
// leaves no trace: no deposit is recorded and the bidder is not registered.
//
// An accepted bid arriving with ExtensionWindow or less remaining moves EndTime to
// now + ExtensionAmount.
func (a *Auction) PlaceBid(bidder string, amount int64, now time.Time) (*BidResult, error) {
	a.mu.Lock()
	tx, result, err := a.placeBidLocked(bidder, amount, now)
	a.queueLocked(tx)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	a.publish()
	return result, nil
}

func (a *Auction) placeBidLocked(bidder string, amount int64, now time.Time) (*txn, *BidResult, error) {
	if err := a.requireOpenLocked("place bid", now); err != nil {
		return nil, nil, err
	}
	if bidder == "" {
		return nil, nil, fmt.Errorf("%w: bidder id is required", ErrUnauthorized)
	}
	if bidder == a.state.Seller {
		return nil, nil, fmt.Errorf("%w: seller %q cannot bid", ErrUnauthorized, bidder)
	}
	if amount <= 0 {
		return nil, nil, fmt.Errorf("%w: bid must be positive, got %d", ErrInvalidAmount, amount)
	}

	minimum, err := RequiredMinimumBid(a.state.EntryBid, a.state.HighestBid, a.state.IncrementBps)
	if err != nil {
		return nil, nil, err
	}
	if amount < minimum {
		if a.state.HighestBidder == "" {
			return nil, nil, fmt.Errorf("%w: first bid %d is below the entry bid %d", ErrBidTooLow, amount, minimum)
		}
		return nil, nil, fmt.Errorf("%w: bid %d is below the required minimum %d (highest %d)", ErrBidTooLow, amount, minimum, a.state.HighestBid)
	}

	var deposited int64
	if p, ok := a.participantLocked(bidder); ok {
		deposited = p.TotalDeposited
	}
	newDeposit, err := addChecked(deposited, amount)
	if err != nil {
		return nil, nil, err
	}
	newEscrow, err := addChecked(a.state.Escrow, amount)
	if err != nil {
		return nil, nil, err
	}

	// Validation passed; everything below commits.
	remaining := a.state.EndTime.Sub(now)
	previousLeader := a.state.HighestBidder

	p := a.registerLocked(bidder)
	p.TotalDeposited = newDeposit
	p.LastCountedBid = amount
	a.state.HighestBid = amount
	a.state.HighestBidder = bidder
	a.state.Escrow = newEscrow

	extended := false
	if remaining <= a.state.ExtensionWindow {
		if newEnd := now.Add(a.state.ExtensionAmount); newEnd.After(a.state.EndTime) {
			a.state.EndTime = newEnd
			extended = true
		}
	}

	tx := &txn{}
	accepted := a.emitLocked(tx, EventBidAccepted, bidder, amount, now)
	accepted.EndTime = a.state.EndTime
	if previousLeader != bidder {
		lead := a.emitLocked(tx, EventLeadershipChanged, bidder, amount, now)
		lead.Detail = previousLeader
	}
	if extended {
		ext := a.emitLocked(tx, EventAuctionExtended, bidder, amount, now)
		ext.EndTime = a.state.EndTime
	}

	next, err := RequiredMinimumBid(a.state.EntryBid, a.state.HighestBid, a.state.IncrementBps)
	if err != nil {
		// The bid is committed; an unreachable next minimum only means no further bid can win.
		next = 0
	}

	return tx, &BidResult{
		Bidder:        bidder,
		Amount:        amount,
		TotalDeposit:  newDeposit,
		PreviousLead:  previousLeader,
		EndTime:       a.state.EndTime,
		Extended:      extended,
		NextMinimum:   next,
		EventSequence: a.state.EventSeq,
	}, nil
}

// ListBids returns each participant's gross deposits in registration order. It is only
// available while the auction is open.
func (a *Auction) ListBids(now time.Time) ([]BidEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOpenLocked("list bids", now); err != nil {
		return nil, err
	}

	entries := make([]BidEntry, 0, len(a.state.Participants))
	for _, p := range a.state.Participants {
		entries = append(entries, BidEntry{
			Participant:    p.ID,
			TotalDeposited: p.TotalDeposited,
		})
	}
	return entries, nil
}
