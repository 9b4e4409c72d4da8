package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"missing seller", func(c *Config) { c.Seller = "" }, false},
		{"missing developer", func(c *Config) { c.Developer = "" }, false},
		{"seller is developer", func(c *Config) { c.Developer = c.Seller }, false},
		{"zero start", func(c *Config) { c.StartTime = time.Time{} }, false},
		{"zero duration", func(c *Config) { c.Duration = 0 }, false},
		{"zero entry bid", func(c *Config) { c.EntryBid = 0 }, false},
		{"negative window", func(c *Config) { c.ExtensionWindow = -time.Second }, false},
		{"negative increment", func(c *Config) { c.IncrementBps = -1 }, false},
		{"full commission", func(c *Config) { c.CommissionBps = 10000 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.withDefaults().Validate()
			if tt.ok {
				check.NoError(t, err)
			} else {
				check.True(t, errors.Is(err, ErrInvalidConfig))
			}
		})
	}
}

func TestNewAuction_Defaults(t *testing.T) {
	a, _, _ := newTestAuction(t, testConfig())

	s := a.Snapshot()
	check.Equal(t, DefaultExtensionWindow, s.ExtensionWindow)
	check.Equal(t, DefaultExtensionAmount, s.ExtensionAmount)
	check.Equal(t, DefaultIncrementBps, s.IncrementBps)
	check.Equal(t, DefaultCommissionBps, s.CommissionBps)
	check.Equal(t, DefaultGracePeriod, s.GracePeriod)
	check.True(t, s.EndTime.Equal(at(1000)))
	check.NotEqual(t, "", s.ID.String())
}

func TestNewAuction_RequiresCustody(t *testing.T) {
	_, err := NewAuction(testConfig(), nil, nil)
	check.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestLifecycle(t *testing.T) {
	a, _, _ := newTestAuction(t, testConfig())

	check.True(t, a.IsOpen(at(0)))
	check.True(t, a.IsOpen(at(999)))
	check.False(t, a.IsOpen(at(1000)))
	check.True(t, a.IsClosed(at(1000)))
	check.Equal(t, 400*time.Second, a.TimeRemaining(at(600)))
	check.Equal(t, time.Duration(0), a.TimeRemaining(at(1500)))
}

func TestPlaceBid_EntryAndIncrementRules(t *testing.T) {
	a, custody, _ := newTestAuction(t, testConfig())

	first := mustBid(t, a, "alice", 100, at(10))
	check.Equal(t, int64(105), first.NextMinimum)
	check.Equal(t, "", first.PreviousLead)

	_, err := a.PlaceBid("bob", 104, at(20))
	check.True(t, errors.Is(err, ErrBidTooLow))
	_, registered := a.ParticipantInfo("bob")
	check.False(t, registered)

	second := mustBid(t, a, "bob", 106, at(30))
	check.Equal(t, "alice", second.PreviousLead)

	s := a.Summarize(at(30))
	check.Equal(t, int64(106), s.HighestBid)
	check.Equal(t, "bob", s.HighestBidder)
	check.Equal(t, int64(206), s.Escrow)

	alice, _ := a.ParticipantInfo("alice")
	check.Equal(t, int64(100), alice.LastCountedBid)
	check.Equal(t, int64(100), alice.TotalDeposited)

	// Alice never leads again, so her whole deposit is excess.
	payout, err := a.ClaimExcess(context.Background(), "alice", at(40))
	assert.NoError(t, err)
	check.Equal(t, int64(100), payout.Amount)
	check.True(t, payout.Delivered)
	check.Equal(t, int64(100), custody.paidTo("alice"))

	alice, _ = a.ParticipantInfo("alice")
	check.Equal(t, int64(0), alice.TotalDeposited)
	check.Equal(t, int64(0), alice.LastCountedBid)
	check.Equal(t, int64(106), a.Summarize(at(40)).Escrow)
}

func TestPlaceBid_Rejections(t *testing.T) {
	a, _, _ := newTestAuction(t, testConfig())
	mustBid(t, a, "alice", 100, at(1))

	tests := []struct {
		name   string
		bidder string
		amount int64
		now    time.Time
		want   error
	}{
		{"seller cannot bid", "seller", 500, at(2), ErrUnauthorized},
		{"empty bidder", "", 500, at(2), ErrUnauthorized},
		{"zero amount", "bob", 0, at(2), ErrInvalidAmount},
		{"negative amount", "bob", -5, at(2), ErrInvalidAmount},
		{"below increment", "bob", 104, at(2), ErrBidTooLow},
		{"after close", "bob", 500, at(1000), ErrPhaseViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := a.Snapshot()
			_, err := a.PlaceBid(tt.bidder, tt.amount, tt.now)
			check.True(t, errors.Is(err, tt.want))
			after := a.Snapshot()
			check.Equal(t, before.EventSeq, after.EventSeq)
			check.Equal(t, before.Escrow, after.Escrow)
			check.Equal(t, len(before.Participants), len(after.Participants))
		})
	}
}

func TestPlaceBid_OverflowRejected(t *testing.T) {
	a, _, _ := newTestAuction(t, testConfig())
	mustBid(t, a, "alice", 9_000_000_000_000_000_000, at(1))

	_, err := a.PlaceBid("bob", 9_223_372_036_854_775_000, at(2))
	check.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestPlaceBid_AntiSnipeExtension(t *testing.T) {
	a, _, notifier := newTestAuction(t, testConfig())

	early := mustBid(t, a, "alice", 100, at(100))
	check.False(t, early.Extended)
	check.True(t, a.EndTime().Equal(at(1000)))

	r := mustBid(t, a, "bob", 105, at(500))
	check.True(t, r.Extended)
	check.True(t, a.EndTime().Equal(at(1100)))

	r = mustBid(t, a, "alice", 111, at(1050))
	check.True(t, r.Extended)
	check.True(t, a.EndTime().Equal(at(1650)))
	check.True(t, a.IsOpen(at(1600)))

	extended := notifier.ofType(EventAuctionExtended)
	check.Equal(t, 2, len(extended))
	check.True(t, extended[1].EndTime.Equal(at(1650)))
}

func TestPlaceBid_EndTimeNeverDecreases(t *testing.T) {
	cfg := testConfig()
	cfg.ExtensionWindow = 600 * time.Second
	cfg.ExtensionAmount = 60 * time.Second
	a, _, _ := newTestAuction(t, cfg)

	// 500s remain, inside the window, but now+60s is earlier than the current close.
	r := mustBid(t, a, "alice", 100, at(500))
	check.False(t, r.Extended)
	check.True(t, a.EndTime().Equal(at(1000)))

	r = mustBid(t, a, "bob", 105, at(990))
	check.True(t, r.Extended)
	check.True(t, a.EndTime().Equal(at(1050)))
}

func TestPlaceBid_Events(t *testing.T) {
	a, _, notifier := newTestAuction(t, testConfig())
	mustBid(t, a, "alice", 100, at(1))
	mustBid(t, a, "alice", 105, at(2))
	mustBid(t, a, "bob", 111, at(3))

	events := notifier.ordered()
	types := make([]EventType, 0, len(events))
	for i, e := range events {
		check.Equal(t, uint64(i+1), e.Seq)
		types = append(types, e.Type)
	}
	check.Equal(t, []EventType{
		EventBidAccepted, EventLeadershipChanged,
		EventBidAccepted,
		EventBidAccepted, EventLeadershipChanged,
	}, types)
	check.Equal(t, "alice", events[4].Detail)
}

func TestListBids(t *testing.T) {
	a, _, _ := newTestAuction(t, testConfig())
	mustBid(t, a, "carol", 100, at(1))
	mustBid(t, a, "alice", 105, at(2))
	mustBid(t, a, "carol", 111, at(3))

	bids, err := a.ListBids(at(4))
	assert.NoError(t, err)
	check.Equal(t, []BidEntry{
		{Participant: "carol", TotalDeposited: 211},
		{Participant: "alice", TotalDeposited: 105},
	}, bids)
	check.Equal(t, []string{"carol", "alice"}, a.ParticipantIDs())

	_, err = a.ListBids(at(1000))
	check.True(t, errors.Is(err, ErrPhaseViolation))
}

func TestClaimExcess_Leader(t *testing.T) {
	a, custody, _ := newTestAuction(t, testConfig())
	mustBid(t, a, "alice", 100, at(1))
	mustBid(t, a, "alice", 105, at(2))

	payout, err := a.ClaimExcess(context.Background(), "alice", at(3))
	assert.NoError(t, err)
	check.Equal(t, int64(100), payout.Amount)

	alice, _ := a.ParticipantInfo("alice")
	check.Equal(t, int64(105), alice.TotalDeposited)
	check.Equal(t, int64(105), alice.LastCountedBid)
	check.Equal(t, 1, len(custody.transfers()))

	_, err = a.ClaimExcess(context.Background(), "alice", at(4))
	check.True(t, errors.Is(err, ErrNoExcess))
	check.Equal(t, 1, len(custody.transfers()))
}

func TestClaimExcess_Errors(t *testing.T) {
	a, _, _ := newTestAuction(t, testConfig())
	mustBid(t, a, "alice", 100, at(1))

	_, err := a.ClaimExcess(context.Background(), "nobody", at(2))
	check.True(t, errors.Is(err, ErrNoFunds))

	_, err = a.ClaimExcess(context.Background(), "alice", at(1000))
	check.True(t, errors.Is(err, ErrPhaseViolation))
}

func TestClaimExcess_ReentrantCustodyCannotDoubleClaim(t *testing.T) {
	a, custody, _ := newTestAuction(t, testConfig())
	mustBid(t, a, "alice", 100, at(1))
	mustBid(t, a, "bob", 105, at(2))

	var reentryErr error
	custody.onTransfer = func(Transfer) {
		if reentryErr == nil {
			_, reentryErr = a.ClaimExcess(context.Background(), "alice", at(3))
		}
	}

	payout, err := a.ClaimExcess(context.Background(), "alice", at(3))
	assert.NoError(t, err)
	check.Equal(t, int64(100), payout.Amount)
	check.True(t, errors.Is(reentryErr, ErrNoFunds))
	check.Equal(t, int64(100), custody.paidTo("alice"))
}

func TestRestoreAuction_RejectsBrokenLedger(t *testing.T) {
	a, _, _ := newTestAuction(t, testConfig())
	mustBid(t, a, "alice", 100, at(1))

	s := a.Snapshot()
	s.HighestBid = 150
	_, err := RestoreAuction(s, &mockCustody{}, nil)
	check.True(t, errors.Is(err, ErrInvariantBroken))

	s = a.Snapshot()
	s.Participants = append(s.Participants, s.Participants[0])
	_, err = RestoreAuction(s, &mockCustody{}, nil)
	check.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestHaltedInstanceRejectsMutations(t *testing.T) {
	a, _, _ := newTestAuction(t, testConfig())
	mustBid(t, a, "alice", 100, at(1))

	a.mu.Lock()
	a.state.CommissionAccumulator = 500
	a.mu.Unlock()

	err := a.CheckInvariants()
	check.True(t, errors.Is(err, ErrInvariantBroken))
	check.True(t, a.Summarize(at(2)).Halted)

	_, err = a.PlaceBid("bob", 500, at(2))
	check.True(t, errors.Is(err, ErrInvariantBroken))
	_, err = a.AnnounceWinner("bob", at(2000))
	check.True(t, errors.Is(err, ErrInvariantBroken))
}

func TestConcurrentBidding(t *testing.T) {
	cfg := testConfig()
	cfg.Duration = time.Hour
	a, _, notifier := newTestAuction(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		bidder := fmt.Sprintf("bidder_%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				now := at(j + 1)
				s := a.Summarize(now)
				amount, err := RequiredMinimumBid(s.EntryBid, s.HighestBid, DefaultIncrementBps)
				if err != nil {
					return
				}
				if _, err := a.PlaceBid(bidder, amount, now); err != nil && !errors.Is(err, ErrBidTooLow) {
					t.Errorf("unexpected bid error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	check.NoError(t, a.CheckInvariants())

	var prev int64
	for _, e := range notifier.ofType(EventBidAccepted) {
		check.True(t, e.Amount >= prev)
		prev = e.Amount
	}

	s := a.Snapshot()
	var deposited int64
	for _, p := range s.Participants {
		check.True(t, p.TotalDeposited >= p.LastCountedBid)
		check.True(t, p.LastCountedBid >= 0)
		deposited += p.TotalDeposited
	}
	check.Equal(t, deposited, s.Escrow)
	check.Equal(t, prev, s.HighestBid)
}
