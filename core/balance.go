package core

import (
	"context"
	"fmt"
	"time"
)

// ClaimExcess pays out the part of bidder's deposits not counted toward a standing bid.
// For the current leader that is TotalDeposited - LastCountedBid; for anyone else it is the
// whole deposit. Open phase only.
func (a *Auction) ClaimExcess(ctx context.Context, bidder string, now time.Time) (*Payout, error) {
	a.mu.Lock()
	tx, payout, err := a.claimExcessLocked(bidder, now)
	a.queueLocked(tx)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	err = a.finish(ctx, tx, now)
	payout.Delivered = err == nil
	return payout, err
}

func (a *Auction) claimExcessLocked(bidder string, now time.Time) (*txn, *Payout, error) {
	if err := a.requireOpenLocked("claim excess", now); err != nil {
		return nil, nil, err
	}
	p, ok := a.participantLocked(bidder)
	if !ok || p.TotalDeposited <= 0 {
		return nil, nil, fmt.Errorf("%w: %q has no deposits", ErrNoFunds, bidder)
	}

	var excess int64
	if bidder == a.state.HighestBidder {
		excess = p.Excess()
		if excess <= 0 {
			return nil, nil, fmt.Errorf("%w: all %d deposited by %q backs the leading bid", ErrNoExcess, p.TotalDeposited, bidder)
		}
		if p.LastCountedBid != a.state.HighestBid {
			return nil, nil, a.haltLocked("leader %q counted bid %d != highest bid %d", bidder, p.LastCountedBid, a.state.HighestBid)
		}
		if err := a.debitEscrowLocked(excess); err != nil {
			return nil, nil, err
		}
		p.TotalDeposited -= excess
	} else {
		excess = p.TotalDeposited
		if err := a.debitEscrowLocked(excess); err != nil {
			return nil, nil, err
		}
		p.TotalDeposited = 0
		p.LastCountedBid = 0
	}

	tx := &txn{}
	t := a.newTransferLocked(tx, TransferExcess, bidder, excess, now)
	a.emitLocked(tx, EventExcessClaimed, bidder, excess, now)
	return tx, &Payout{TransferID: t.ID, To: bidder, Amount: excess}, nil
}
