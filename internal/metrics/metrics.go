// Package metrics provides Prometheus instrumentation for the desk and the
// reference ledger.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts trade attempts by side and outcome
	// (accepted, rejected, invalid, network, unauthenticated).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desk_trades_total",
		Help: "Trade attempts by side and outcome",
	}, []string{"side", "outcome"})

	// TradeLatency tracks submission round-trip time.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "desk_trade_latency_seconds",
		Help:    "Trade submission latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// ReconcileTotal counts portfolio fetches by result
	// (applied, stale, failed).
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desk_reconcile_total",
		Help: "Portfolio reconciliation fetches by result",
	}, []string{"result"})

	// FeedPolls counts market data polls by result (ok, empty, failed).
	FeedPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desk_feed_polls_total",
		Help: "Market data polls by result",
	}, []string{"result"})

	// FeedBars is the number of bars currently published.
	FeedBars = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "desk_feed_bars",
		Help: "Number of bars in the published price series",
	})

	// SessionTransitions counts session state changes by target status.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desk_session_transitions_total",
		Help: "Session state transitions by new status",
	}, []string{"status"})

	// WebSocketClients tracks connected display clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "desk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// LedgerTrades counts trades booked by the reference ledger.
	LedgerTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trades_total",
		Help: "Trades booked by the ledger",
	}, []string{"side"})

	// LedgerRejections counts trades refused by the ledger, by reason.
	LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trade_rejections_total",
		Help: "Trades rejected by the ledger",
	}, []string{"reason"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
