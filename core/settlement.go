package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AnnounceWinner publishes the auction result once. Any caller may trigger it after close.
func (a *Auction) AnnounceWinner(caller string, now time.Time) (*WinnerAnnouncement, error) {
	a.mu.Lock()
	if err := a.requireClosedLocked("announce winner", now); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if a.state.WinnerAnnounced {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: winner of %s already announced", ErrAlreadyClaimed, a.state.ID)
	}

	a.state.WinnerAnnounced = true
	tx := &txn{}
	announced := a.emitLocked(tx, EventWinnerAnnounced, a.state.HighestBidder, a.state.HighestBid, now)
	announced.Detail = caller
	finished := a.emitLocked(tx, EventAuctionFinished, a.state.HighestBidder, a.state.HighestBid, now)
	finished.EndTime = a.state.EndTime
	result := &WinnerAnnouncement{
		AuctionID: a.state.ID,
		Winner:    a.state.HighestBidder,
		Amount:    a.state.HighestBid,
		EndTime:   a.state.EndTime,
	}
	a.queueLocked(tx)
	a.mu.Unlock()

	a.publish()
	return result, nil
}

// DistributeRefunds refunds every non-winning participant that has funds and has not been
// refunded yet, keeping CommissionBps of each deposit. Seller only.
//
// Each participant is settled in its own transaction: a custody failure for one payee is
// reported in RefundReport.Failed (its transfer stays queued for retry) and the run moves on.
func (a *Auction) DistributeRefunds(ctx context.Context, caller string, now time.Time) (*RefundReport, error) {
	a.mu.Lock()
	if err := a.requireClosedLocked("distribute refunds", now); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if caller != a.state.Seller {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: only the seller can distribute refunds", ErrUnauthorized)
	}
	ids := make([]string, 0, len(a.state.Participants))
	for _, p := range a.state.Participants {
		ids = append(ids, p.ID)
	}
	a.mu.Unlock()

	report := &RefundReport{Refunded: []Payout{}}
	var errs []error
	for _, id := range ids {
		a.mu.Lock()
		if !a.refundDueLocked(id) {
			a.mu.Unlock()
			report.Skipped = append(report.Skipped, id)
			continue
		}
		tx, payout, err := a.refundLocked(id, now)
		a.queueLocked(tx)
		a.mu.Unlock()
		if err != nil {
			// Only an invariant failure gets here; the instance is halted.
			return report, errors.Join(append(errs, err)...)
		}

		if err := a.finish(ctx, tx, now); err != nil {
			report.Failed = append(report.Failed, *payout)
			errs = append(errs, err)
			continue
		}
		payout.Delivered = true
		report.Refunded = append(report.Refunded, *payout)
	}
	return report, errors.Join(errs...)
}

// ClaimDeposit is the participant-pulled alternative to DistributeRefunds with the same
// commission split and the same one-shot flag.
func (a *Auction) ClaimDeposit(ctx context.Context, caller string, now time.Time) (*Payout, error) {
	a.mu.Lock()
	if err := a.requireClosedLocked("claim deposit", now); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	tx, payout, err := a.refundLocked(caller, now)
	a.queueLocked(tx)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	err = a.finish(ctx, tx, now)
	payout.Delivered = err == nil
	return payout, err
}

func (a *Auction) refundDueLocked(id string) bool {
	p, ok := a.participantLocked(id)
	return ok && id != a.state.HighestBidder && !p.RefundClaimed && p.TotalDeposited > 0
}

func (a *Auction) refundLocked(id string, now time.Time) (*txn, *Payout, error) {
	if err := a.requireHealthyLocked(); err != nil {
		return nil, nil, err
	}
	if id == "" || id == a.state.HighestBidder {
		return nil, nil, fmt.Errorf("%w: the winning bidder has no deposit to reclaim", ErrUnauthorized)
	}
	p, ok := a.participantLocked(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q never placed an accepted bid", ErrNoFunds, id)
	}
	if p.RefundClaimed {
		return nil, nil, fmt.Errorf("%w: deposit of %q already refunded", ErrAlreadyClaimed, id)
	}
	if p.TotalDeposited <= 0 {
		return nil, nil, fmt.Errorf("%w: %q has no deposit left", ErrNoFunds, id)
	}

	refund, commission := SplitCommission(p.TotalDeposited, a.state.CommissionBps)
	if err := a.debitEscrowLocked(refund); err != nil {
		return nil, nil, err
	}
	p.RefundClaimed = true
	a.state.CommissionAccumulator += commission

	tx := &txn{}
	t := a.newTransferLocked(tx, TransferRefund, id, refund, now)
	a.emitLocked(tx, EventRefundIssued, id, refund, now)
	return tx, &Payout{TransferID: t.ID, To: id, Amount: refund, Commission: commission}, nil
}

// ClaimProduct releases the item to the winner. The returned payout carries no amount; its
// transfer is the ownership hand-over from the seller.
func (a *Auction) ClaimProduct(ctx context.Context, caller string, now time.Time) (*Payout, error) {
	a.mu.Lock()
	if err := a.requireClosedLocked("claim product", now); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if caller == "" || caller != a.state.HighestBidder {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: only the winning bidder can claim the product", ErrUnauthorized)
	}
	if caller == a.state.Seller {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: the seller cannot claim their own product", ErrUnauthorized)
	}
	p, ok := a.participantLocked(caller)
	if !ok {
		err := a.haltLocked("winner %q is not a participant", caller)
		a.mu.Unlock()
		return nil, err
	}
	if p.ProductClaimed {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: product already claimed by %q", ErrAlreadyClaimed, caller)
	}

	p.ProductClaimed = true
	tx := &txn{}
	t := a.newTransferLocked(tx, TransferProduct, caller, 0, now)
	a.emitLocked(tx, EventProductClaimed, caller, a.state.HighestBid, now)
	a.queueLocked(tx)
	a.mu.Unlock()

	payout := &Payout{TransferID: t.ID, To: caller}
	err := a.finish(ctx, tx, now)
	payout.Delivered = err == nil
	return payout, err
}

// WithdrawSellerFunds pays the seller the winning bid less commission, once.
func (a *Auction) WithdrawSellerFunds(ctx context.Context, caller string, now time.Time) (*Payout, error) {
	a.mu.Lock()
	if err := a.requireClosedLocked("withdraw seller funds", now); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if caller != a.state.Seller {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: only the seller can withdraw sale proceeds", ErrUnauthorized)
	}
	if a.state.SellerPaid {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: seller already paid", ErrAlreadyClaimed)
	}
	if a.state.HighestBid <= 0 {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: no bid was accepted", ErrNoFunds)
	}

	payout, commission := SplitCommission(a.state.HighestBid, a.state.CommissionBps)
	if err := a.debitEscrowLocked(payout); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.state.SellerPaid = true
	a.state.CommissionAccumulator += commission

	tx := &txn{}
	t := a.newTransferLocked(tx, TransferSellerPayout, caller, payout, now)
	a.emitLocked(tx, EventSellerPaid, caller, payout, now)
	a.queueLocked(tx)
	a.mu.Unlock()

	result := &Payout{TransferID: t.ID, To: caller, Amount: payout, Commission: commission}
	err := a.finish(ctx, tx, now)
	result.Delivered = err == nil
	return result, err
}

// WithdrawCommission pays the accumulated commission to the developer and resets it.
func (a *Auction) WithdrawCommission(ctx context.Context, caller string, now time.Time) (*Payout, error) {
	a.mu.Lock()
	if err := a.requireClosedLocked("withdraw commission", now); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if caller != a.state.Developer {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: only the developer can withdraw commission", ErrUnauthorized)
	}
	amount := a.state.CommissionAccumulator
	if amount <= 0 {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: no commission accumulated", ErrNoFunds)
	}
	if err := a.debitEscrowLocked(amount); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.state.CommissionAccumulator = 0

	tx := &txn{}
	t := a.newTransferLocked(tx, TransferCommission, caller, amount, now)
	a.emitLocked(tx, EventCommissionWithdrawn, caller, amount, now)
	a.queueLocked(tx)
	a.mu.Unlock()

	result := &Payout{TransferID: t.ID, To: caller, Amount: amount}
	err := a.finish(ctx, tx, now)
	result.Delivered = err == nil
	return result, err
}

// EmergencyWithdraw sweeps whatever is left in escrow to the developer once the grace period
// after close has passed and every other settlement step has run. Participants whose balance
// is zero count as settled; the seller payout is only required when there is a winner.
func (a *Auction) EmergencyWithdraw(ctx context.Context, caller string, now time.Time) (*Payout, error) {
	a.mu.Lock()
	if err := a.requireClosedLocked("emergency withdraw", now); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if caller != a.state.Developer {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: only the developer can run an emergency withdrawal", ErrUnauthorized)
	}
	if unlock := a.state.EndTime.Add(a.state.GracePeriod); now.Before(unlock) {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: emergency withdrawal opens at %s", ErrPhaseViolation, unlock.Format(time.RFC3339))
	}
	if err := a.settlementCompleteLocked(); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	amount := a.state.Escrow
	if amount <= 0 {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: escrow is empty", ErrNoFunds)
	}

	a.state.Escrow = 0
	a.state.CommissionAccumulator = 0
	a.state.EmergencyWithdrawn = true

	tx := &txn{}
	t := a.newTransferLocked(tx, TransferEmergency, caller, amount, now)
	a.emitLocked(tx, EventEmergencyWithdrawn, caller, amount, now)
	a.queueLocked(tx)
	a.mu.Unlock()

	result := &Payout{TransferID: t.ID, To: caller, Amount: amount}
	err := a.finish(ctx, tx, now)
	result.Delivered = err == nil
	return result, err
}

func (a *Auction) settlementCompleteLocked() error {
	if a.state.HighestBidder != "" && !a.state.SellerPaid {
		return fmt.Errorf("%w: seller has not been paid", ErrSettlementIncomplete)
	}
	for _, p := range a.state.Participants {
		if p.ID == a.state.HighestBidder {
			continue
		}
		if !p.RefundClaimed && p.TotalDeposited > 0 {
			return fmt.Errorf("%w: %q has not been refunded", ErrSettlementIncomplete, p.ID)
		}
	}
	return nil
}
