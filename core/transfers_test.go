package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestNextRetryTime(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{50, 5 * time.Minute},
	}

	for _, tt := range tests {
		got := NextRetryTime(t0, tt.attempts)
		check.Equal(t, tt.want, got.Sub(t0))
	}
}

func TestFailedTransferIsRetriedWithSameID(t *testing.T) {
	a, custody, notifier := closedAuction(t)
	ctx := context.Background()

	custody.setFail(errors.New("insufficient liquidity"))
	payout, err := a.ClaimDeposit(ctx, "bob", at(1000))
	check.True(t, errors.Is(err, ErrTransferFailed))
	assert.NotNil(t, payout)
	check.False(t, payout.Delivered)

	// The flag stays committed; a second claim cannot authorize another payout.
	_, err = a.ClaimDeposit(ctx, "bob", at(1000))
	check.True(t, errors.Is(err, ErrAlreadyClaimed))

	pending := a.PendingTransfers()
	check.Equal(t, 1, len(pending))
	check.Equal(t, 1, pending[0].Attempts)
	check.Equal(t, "insufficient liquidity", pending[0].LastError)
	check.True(t, pending[0].NextRetry.Equal(at(1002)))
	check.Equal(t, int64(490), a.Summarize(at(1000)).PendingAmount)

	failed := notifier.ofType(EventTransferFailed)
	check.Equal(t, 1, len(failed))
	check.Equal(t, "bob", failed[0].Participant)

	// Not due yet.
	report, err := a.RetryPendingTransfers(ctx, at(1001))
	assert.NoError(t, err)
	check.Equal(t, 0, len(report.Delivered))
	check.Equal(t, 1, report.Waiting)

	// Due, still failing: backoff doubles.
	report, err = a.RetryPendingTransfers(ctx, at(1002))
	check.True(t, errors.Is(err, ErrTransferFailed))
	check.Equal(t, 1, len(report.Failed))
	pending = a.PendingTransfers()
	check.Equal(t, 2, pending[0].Attempts)
	check.True(t, pending[0].NextRetry.Equal(at(1006)))

	custody.setFail(nil)
	report, err = a.RetryPendingTransfers(ctx, at(1006))
	assert.NoError(t, err)
	check.Equal(t, []uuid.UUID{payout.TransferID}, report.Delivered)

	delivered := custody.transfers()
	check.Equal(t, 1, len(delivered))
	check.Equal(t, payout.TransferID, delivered[0].ID)
	check.Equal(t, int64(490), delivered[0].Amount)
	check.Equal(t, 0, len(a.PendingTransfers()))
	check.Equal(t, int64(0), a.Summarize(at(1006)).PendingAmount)

	// Nothing left to deliver.
	report, err = a.RetryPendingTransfers(ctx, at(2000))
	assert.NoError(t, err)
	check.Equal(t, 0, len(report.Delivered))
	check.Equal(t, 0, report.Waiting)
}

func TestRetrySkipsTransfersInFlight(t *testing.T) {
	a, custody, _ := closedAuction(t)
	ctx := context.Background()

	var report *RetryReport
	custody.onTransfer = func(Transfer) {
		if report == nil {
			report, _ = a.RetryPendingTransfers(ctx, at(5000))
		}
	}

	_, err := a.ClaimDeposit(ctx, "bob", at(1000))
	assert.NoError(t, err)
	assert.NotNil(t, report)
	check.Equal(t, 0, len(report.Delivered))
	check.Equal(t, 1, report.Waiting)
	check.Equal(t, 1, len(custody.transfers()))
}

func TestTransferAccounts(t *testing.T) {
	a, custody, _ := closedAuction(t)
	ctx := context.Background()

	_, err := a.ClaimProduct(ctx, "alice", at(1000))
	assert.NoError(t, err)
	_, err = a.WithdrawSellerFunds(ctx, "seller", at(1000))
	assert.NoError(t, err)

	transfers := custody.transfers()
	check.Equal(t, 2, len(transfers))

	product := transfers[0]
	check.Equal(t, TransferProduct, product.Kind)
	check.Equal(t, "seller", product.From)
	check.Equal(t, "alice", product.To)
	check.Equal(t, int64(0), product.Amount)

	sale := transfers[1]
	check.Equal(t, TransferSellerPayout, sale.Kind)
	check.Equal(t, "escrow:"+a.ID().String(), sale.From)
	check.Equal(t, a.ID(), sale.AuctionID)
}

func TestCustodyFunc(t *testing.T) {
	var got Transfer
	var c Custody = CustodyFunc(func(_ context.Context, tr Transfer) error {
		got = tr
		return nil
	})
	check.NoError(t, c.Transfer(context.Background(), Transfer{To: "x", Amount: 5}))
	check.Equal(t, "x", got.To)
}
