package core

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

// mockCustody records delivered transfers. Setting fail makes every call fail; onTransfer
// runs before the outcome is decided and may call back into the engine.
type mockCustody struct {
	mu         sync.Mutex
	delivered  []Transfer
	calls      int
	fail       error
	onTransfer func(Transfer)
}

func (m *mockCustody) Transfer(_ context.Context, t Transfer) error {
	m.mu.Lock()
	m.calls++
	hook, fail := m.onTransfer, m.fail
	m.mu.Unlock()

	if hook != nil {
		hook(t)
	}
	if fail != nil {
		return fail
	}
	m.mu.Lock()
	m.delivered = append(m.delivered, t)
	m.mu.Unlock()
	return nil
}

func (m *mockCustody) setFail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *mockCustody) transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transfer{}, m.delivered...)
}

func (m *mockCustody) paidTo(account string) int64 {
	var sum int64
	for _, t := range m.transfers() {
		if t.To == account {
			sum += t.Amount
		}
	}
	return sum
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// ordered returns the events sorted by sequence number.
func (r *recordingNotifier) ordered() []Event {
	r.mu.Lock()
	out := append([]Event{}, r.events...)
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r *recordingNotifier) ofType(typ EventType) []Event {
	var out []Event
	for _, e := range r.ordered() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		Seller:    "seller",
		Developer: "developer",
		StartTime: t0,
		Duration:  1000 * time.Second,
		EntryBid:  100,
	}
}

func newTestAuction(t *testing.T, cfg Config) (*Auction, *mockCustody, *recordingNotifier) {
	t.Helper()
	custody := &mockCustody{}
	notifier := &recordingNotifier{}
	a, err := NewAuction(cfg, custody, notifier)
	assert.NoError(t, err)
	return a, custody, notifier
}

func mustBid(t *testing.T, a *Auction, bidder string, amount int64, now time.Time) *BidResult {
	t.Helper()
	result, err := a.PlaceBid(bidder, amount, now)
	assert.NoError(t, err)
	return result
}
