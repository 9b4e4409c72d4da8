package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type hostMetrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rejectedConns    prometheus.Counter
	events           *prometheus.CounterVec
	pendingTransfers prometheus.Gauge
	snapshotErrors   prometheus.Counter
	auctions         prometheus.Gauge
}

// newHostMetrics registers on a private registry so several servers can coexist in tests.
func newHostMetrics() *hostMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &hostMetrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auctiond_requests_total",
			Help: "Requests handled, by type and result code.",
		}, []string{"type", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auctiond_request_duration_seconds",
			Help:    "Request handling latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"type"}),
		rejectedConns: factory.NewCounter(prometheus.CounterOpts{
			Name: "auctiond_rejected_connections_total",
			Help: "Connections refused because the worker pool was full.",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auctiond_events_total",
			Help: "Auction events published, by type.",
		}, []string{"type"}),
		pendingTransfers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "auctiond_pending_transfers",
			Help: "Transfers awaiting custody confirmation across all auctions.",
		}),
		snapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "auctiond_snapshot_errors_total",
			Help: "Snapshots that could not be persisted.",
		}),
		auctions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "auctiond_auctions",
			Help: "Auctions held by this host.",
		}),
	}
}

func (m *hostMetrics) observe(typ, code string, elapsed time.Duration) {
	m.requests.WithLabelValues(typ, code).Inc()
	m.requestDuration.WithLabelValues(typ).Observe(elapsed.Seconds())
}

type healthChecker interface {
	Ping(ctx context.Context) error
}

// opsRouter serves /metrics and /healthz for the parent instance.
func (s *EnclaveServer) opsRouter() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	return router
}

func (s *EnclaveServer) healthzHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":   "ok",
		"auctions": len(s.registry.List()),
		"key_id":   s.signingKey.KeyID,
	}
	if hc, ok := s.snapshots.(healthChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := hc.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = err.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
