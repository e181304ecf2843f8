// Package metrics provides Prometheus instrumentation for the economy engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts completed trades, partitioned by trade type
	// (market, offer, auction).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_trades_total",
		Help: "Total number of completed trades",
	}, []string{"type"})

	// TradeVolume tracks cumulative traded quantity per good.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_trade_volume_total",
		Help: "Cumulative traded quantity per good",
	}, []string{"good"})

	// ListingsCreated counts marketplace listings created.
	ListingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "economy_listings_created_total",
		Help: "Total marketplace listings created",
	})

	// BidsTotal counts auction bids accepted.
	BidsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "economy_auction_bids_total",
		Help: "Total auction bids accepted",
	})

	// AuctionExtensions counts anti-snipe end time extensions.
	AuctionExtensions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "economy_auction_extensions_total",
		Help: "Auction end times extended by late bids",
	})

	// PlatformFees accumulates auction platform fees withheld from sellers.
	PlatformFees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "economy_platform_fees_total",
		Help: "Cumulative platform fees withheld from auction proceeds",
	})

	// PriceInfluenceApplied counts price influence applications per district.
	PriceInfluenceApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_price_influence_applied_total",
		Help: "Price influence applications from completed trades",
	}, []string{"district"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "economy_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "economy_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
