package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog/log"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/custody"
	"github.com/cloudx-io/sealedauction/internal/syncutil"
	"github.com/cloudx-io/sealedauction/store"
)

// EnclaveServer hosts many auctions behind one request/response socket. Each connection
// carries one JSON Request and gets one JSON Response.
type EnclaveServer struct {
	cfg Config

	registry   *core.Registry
	snapshots  store.SnapshotStore
	signingKey *custody.SigningKey
	attester   EnclaveAttester // nil outside an enclave
	limiter    *callerLimiter
	metrics    *hostMetrics

	// persistLocks serializes snapshot-then-save per auction, so saves reach the store in
	// commit order.
	persistMu    syncutil.Mutex
	persistLocks map[uuid.UUID]*syncutil.Mutex

	now func() time.Time
}

// NewEnclaveServer wires the engine registry to a signing authorizer over rail.
func NewEnclaveServer(cfg Config, key *custody.SigningKey, rail custody.Rail, snapshots store.SnapshotStore, attester EnclaveAttester) (*EnclaveServer, error) {
	authorizer, err := custody.NewAuthorizer(key, rail)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authorizer: %w", err)
	}
	metrics := newHostMetrics()
	notifier := newHostNotifier(log.Logger, metrics)

	return &EnclaveServer{
		cfg:        cfg,
		registry:   core.NewRegistry(authorizer, notifier),
		snapshots:  snapshots,
		signingKey: key,
		attester:   attester,
		limiter:    newCallerLimiter(cfg.RateLimit),
		metrics:    metrics,
		now:        time.Now,

		persistLocks: make(map[uuid.UUID]*syncutil.Mutex),
	}, nil
}

// Restore loads every persisted auction into the registry.
func (s *EnclaveServer) Restore(ctx context.Context) error {
	restored, err := store.RestoreAll(ctx, s.snapshots, s.registry)
	s.metrics.auctions.Set(float64(len(s.registry.List())))
	log.Info().Int("auctions", len(restored)).Msg("Restored auctions from snapshot store")
	if err != nil {
		return fmt.Errorf("failed to restore some auctions: %w", err)
	}
	return nil
}

func (s *EnclaveServer) listen() (net.Listener, error) {
	if s.cfg.TCPAddr != "" {
		l, err := net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		log.Info().Str("addr", l.Addr().String()).Msg("Auction host listening on TCP")
		return l, nil
	}
	l, err := vsock.Listen(s.cfg.VsockPort, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vsock listener: %w", err)
	}
	log.Info().Uint32("port", s.cfg.VsockPort).Msg("Auction host listening on vsock")
	return l, nil
}

// Start restores state, starts the ops endpoint and the retry loop, then serves until ctx
// is cancelled.
func (s *EnclaveServer) Start(ctx context.Context) error {
	if err := s.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("Snapshot restore incomplete")
	}

	if s.cfg.MetricsAddr != "" {
		ops := &http.Server{
			Addr:              s.cfg.MetricsAddr,
			Handler:           s.opsRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Ops endpoint stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = ops.Close()
		}()
		log.Info().Str("addr", s.cfg.MetricsAddr).Msg("Serving /metrics and /healthz")
	}

	go s.runRetryLoop(ctx)

	listener, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener with at most cfg.MaxWorkers in flight. A
// connection arriving while the pool is full is closed immediately.
func (s *EnclaveServer) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close listener")
		}
	}()

	semaphore := make(chan struct{}, s.cfg.MaxWorkers)
	log.Info().Int("workers", s.cfg.MaxWorkers).Msg("Worker pool initialized")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Failed to accept connection")
			continue
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.metrics.rejectedConns.Inc()
			log.Warn().Msg("No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close rejected connection")
			}
		}
	}
}

func (s *EnclaveServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Panic recovered in handleConnection")
		}
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close connection")
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(s.cfg.ReadTimeout))

	var resp auctionapi.Response
	var req auctionapi.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Error().Err(err).Msg("Failed to decode request")
		resp = auctionapi.ErrorResponse("error", uuid.Nil, fmt.Errorf("%w: %v", auctionapi.ErrBadRequest, err))
	} else {
		resp = s.Handle(ctx, req)
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Error().Err(err).Str("type", req.Type).Msg("Failed to encode response")
	}
}

// Handle authenticates, rate limits and dispatches one request.
func (s *EnclaveServer) Handle(ctx context.Context, req auctionapi.Request) auctionapi.Response {
	start := time.Now()
	now := s.now()

	var result any
	err := s.authorize(req, now)
	if err == nil {
		result, err = s.dispatch(ctx, req, now)
	}

	var resp auctionapi.Response
	if err != nil {
		resp = auctionapi.ErrorResponse(req.Type, req.AuctionID, err)
		// Partially committed operations (queued transfers, refund reports) still report
		// what happened.
		if result != nil {
			if data, mErr := json.Marshal(result); mErr == nil {
				resp.Result = data
			}
		}
	} else {
		resp, err = auctionapi.NewResponse(req.Type, req.AuctionID, result)
		if err != nil {
			resp = auctionapi.ErrorResponse(req.Type, req.AuctionID, err)
		}
	}
	if resp.AuctionID == uuid.Nil {
		if summary, ok := result.(core.Summary); ok {
			resp.AuctionID = summary.ID
		}
	}

	elapsed := time.Since(start)
	resp.ProcessingTime = elapsed.Milliseconds()

	code := "ok"
	if !resp.Success {
		code = string(resp.Code)
	}
	s.metrics.observe(req.Type, code, elapsed)

	logEvent := log.Debug()
	if !resp.Success {
		logEvent = log.Info().Str("error", resp.Message)
	}
	logEvent.Str("type", req.Type).
		Str("auction", req.AuctionID.String()).
		Str("caller", req.Caller).
		Str("code", code).
		Dur("elapsed", elapsed).
		Msg("Handled request")

	return resp
}

func (s *EnclaveServer) authorize(req auctionapi.Request, now time.Time) error {
	if req.Type == auctionapi.TypePing {
		return nil
	}
	if s.cfg.RequestToken != "" && req.Token != s.cfg.RequestToken {
		return fmt.Errorf("%w: missing or invalid request token", core.ErrUnauthorized)
	}
	if !s.limiter.Allow(req.Caller, now) {
		return fmt.Errorf("%w: caller %q", auctionapi.ErrRateLimited, req.Caller)
	}
	return nil
}

func (s *EnclaveServer) persistLock(id uuid.UUID) *syncutil.Mutex {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	l, ok := s.persistLocks[id]
	if !ok {
		l = &syncutil.Mutex{}
		s.persistLocks[id] = l
	}
	return l
}

// persist saves the auction's latest snapshot. The snapshot is taken under the auction's
// persist lock, so a save never lands after a newer one. Failures are logged and counted;
// the in-memory ledger stays authoritative.
func (s *EnclaveServer) persist(ctx context.Context, a *core.Auction) {
	l := s.persistLock(a.ID())
	l.Lock()
	defer l.Unlock()

	err := s.snapshots.Save(ctx, a.Snapshot())
	if errors.Is(err, store.ErrStaleSnapshot) {
		// Another host instance already saved a newer ledger.
		log.Warn().Err(err).Str("auction", a.ID().String()).Msg("Skipped stale snapshot")
		return
	}
	if err != nil {
		s.metrics.snapshotErrors.Inc()
		log.Error().Err(err).Str("auction", a.ID().String()).Msg("Failed to persist snapshot")
	}
}

// runRetryLoop re-dispatches due pending transfers of every auction.
func (s *EnclaveServer) runRetryLoop(ctx context.Context) {
	if s.cfg.RetryInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.retryPending(ctx, s.now())
		}
	}
}

func (s *EnclaveServer) retryPending(ctx context.Context, now time.Time) {
	var pending int
	for _, id := range s.registry.List() {
		a, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		report, err := a.RetryPendingTransfers(ctx, now)
		if err != nil {
			log.Warn().Err(err).Str("auction", id.String()).Msg("Pending transfers still failing")
		}
		if report != nil && (len(report.Delivered) > 0 || len(report.Failed) > 0) {
			s.persist(ctx, a)
		}
		pending += len(a.PendingTransfers())
	}
	s.metrics.pendingTransfers.Set(float64(pending))
}
