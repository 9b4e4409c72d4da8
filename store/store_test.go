package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedauction/core"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testAuction(t *testing.T) *core.Auction {
	t.Helper()
	custody := core.CustodyFunc(func(context.Context, core.Transfer) error { return nil })
	a, err := core.NewAuction(core.Config{
		Seller:    "seller",
		Developer: "developer",
		StartTime: t0,
		Duration:  time.Hour,
		EntryBid:  100,
	}, custody, nil)
	assert.NoError(t, err)
	_, err = a.PlaceBid("alice", 150, t0.Add(time.Minute))
	assert.NoError(t, err)
	return a
}

func exerciseStore(t *testing.T, s SnapshotStore) {
	ctx := context.Background()
	a := testAuction(t)

	_, err := s.Load(ctx, a.ID())
	check.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, s.Save(ctx, a.Snapshot()))

	_, err = a.PlaceBid("bob", 300, t0.Add(2*time.Minute))
	assert.NoError(t, err)
	assert.NoError(t, s.Save(ctx, a.Snapshot()))

	// A snapshot taken before the last save must not replace it.
	stale := a.Snapshot()
	stale.EventSeq = 1
	stale.HighestBidder = "alice"
	err = s.Save(ctx, stale)
	check.True(t, errors.Is(err, ErrStaleSnapshot))

	state, err := s.Load(ctx, a.ID())
	assert.NoError(t, err)
	check.Equal(t, "bob", state.HighestBidder)
	check.Equal(t, int64(300), state.HighestBid)
	check.Equal(t, core.ComputeStateDigest(a.Snapshot()), core.ComputeStateDigest(state))

	ids, err := s.List(ctx)
	assert.NoError(t, err)
	check.Equal(t, []uuid.UUID{a.ID()}, ids)

	reg := core.NewRegistry(core.CustodyFunc(func(context.Context, core.Transfer) error { return nil }), nil)
	restored, err := RestoreAll(ctx, s, reg)
	assert.NoError(t, err)
	check.Equal(t, []uuid.UUID{a.ID()}, restored)

	got, err := reg.Get(a.ID())
	assert.NoError(t, err)
	check.True(t, got.EndTime().Equal(a.EndTime()))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	check.True(t, errors.Is(s.Save(ctx, testAuction(t).Snapshot()), context.Canceled))
	_, err := s.List(ctx)
	check.True(t, errors.Is(err, context.Canceled))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := NewRedisClient(addr, "", 0)
	defer rdb.Close()

	s := NewRedisStore(rdb, "sealedauction-test-"+uuid.NewString())
	assert.NoError(t, s.Ping(context.Background()))
	exerciseStore(t, s)
}
