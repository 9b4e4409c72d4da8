package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/custody"
	"github.com/cloudx-io/sealedauction/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

func mustDecodeHex(t *testing.T, hexStr string) []byte {
	t.Helper()
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		panic(fmt.Sprintf("invalid hex string: %s", hexStr))
	}
	return b
}

// CreateMockEnclave returns an attester producing Nitro-shaped documents with an unsigned
// COSE envelope.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(t0.UnixMilli()),
				"pcrs": map[uint64][]byte{
					0: mustDecodeHex(t, "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"),
					1: mustDecodeHex(t, "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493"),
					2: mustDecodeHex(t, "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11"),
				},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte{},
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			nestedBytes, err := cbor.Marshal(nestedDoc)
			if err != nil {
				return nil, err
			}
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				nestedBytes,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}

// testClock is a settable clock for the server.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(seconds int) {
	c.mu.Lock()
	c.now = t0.Add(time.Duration(seconds) * time.Second)
	c.mu.Unlock()
}

// flakyRail fails while down is set and otherwise forwards to a MemoryRail.
type flakyRail struct {
	*custody.MemoryRail
	down atomic.Bool
}

func (r *flakyRail) Submit(ctx context.Context, auth auctionapi.COSE) error {
	if r.down.Load() {
		return errors.New("rail unavailable")
	}
	return r.MemoryRail.Submit(ctx, auth)
}

type testHost struct {
	server    *EnclaveServer
	rail      *flakyRail
	snapshots *store.MemoryStore
	clock     *testClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxWorkers = 4
	cfg.ReadTimeout = 5 * time.Second
	cfg.MetricsAddr = ""
	cfg.RetryInterval = 0
	cfg.RateLimit = RateLimitConfig{}
	return cfg
}

func newTestHost(t *testing.T, cfg Config, attester EnclaveAttester) *testHost {
	t.Helper()
	key, err := custody.GenerateSigningKey()
	assert.NoError(t, err)
	return newTestHostWith(t, cfg, attester, key, store.NewMemoryStore())
}

func newTestHostWith(t *testing.T, cfg Config, attester EnclaveAttester, key *custody.SigningKey, snapshots *store.MemoryStore) *testHost {
	t.Helper()
	rail := &flakyRail{MemoryRail: custody.NewMemoryRail(key.PublicKey)}
	server, err := NewEnclaveServer(cfg, key, rail, snapshots, attester)
	assert.NoError(t, err)

	clock := &testClock{now: t0}
	server.now = clock.Now
	return &testHost{server: server, rail: rail, snapshots: snapshots, clock: clock}
}

func (h *testHost) do(req auctionapi.Request) auctionapi.Response {
	return h.server.Handle(context.Background(), req)
}

func (h *testHost) mustDo(t *testing.T, req auctionapi.Request, result any) auctionapi.Response {
	t.Helper()
	resp := h.do(req)
	if !resp.Success {
		t.Fatalf("%s failed: %s (%s)", req.Type, resp.Message, resp.Code)
	}
	if result != nil {
		assert.NoError(t, resp.DecodeResult(result))
	}
	return resp
}

// createAuction opens a 1000s auction with entry bid 100 at the current clock.
func (h *testHost) createAuction(t *testing.T) uuid.UUID {
	t.Helper()
	resp := h.mustDo(t, auctionapi.Request{
		Type:   auctionapi.TypeCreateAuction,
		Caller: "seller",
		Auction: &auctionapi.CreateAuctionRequest{
			Seller:          "seller",
			Developer:       "developer",
			DurationSeconds: 1000,
			EntryBid:        100,
		},
	}, nil)
	return resp.AuctionID
}

func (h *testHost) bid(t *testing.T, id uuid.UUID, bidder string, amount int64) {
	t.Helper()
	h.mustDo(t, auctionapi.Request{Type: auctionapi.TypePlaceBid, AuctionID: id, Caller: bidder, Amount: amount}, nil)
}
