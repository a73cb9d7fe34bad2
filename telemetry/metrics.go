// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesDelivered prometheus.Counter
	MessagesCleared   prometheus.Counter
	LinesParsed       prometheus.Counter
	LinesUnparsed     prometheus.Counter
	Reconnects        prometheus.Counter
	PagesFetched      prometheus.Counter
	PageFetchFailures prometheus.Counter
	BadgeLoadFailures prometheus.Counter

	// Histograms (seconds)
	PageFetchDuration prometheus.Observer

	// Gauges
	ConnectedGauge   prometheus.Gauge // 1=connected,0=not
	BufferedComments prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_delivered_total", Help: "Number of chat messages delivered to the callback surface"})
		MessagesCleared = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_cleared_total", Help: "Number of clear notifications (by target or message id)"})
		LinesParsed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_wire_lines_parsed_total", Help: "Number of wire lines parsed into structured messages"})
		LinesUnparsed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_wire_lines_unparsed_total", Help: "Number of wire lines that were not recognized messages"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reconnects_total", Help: "Number of reconnect attempts (live and replay)"})
		PagesFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_replay_pages_fetched_total", Help: "Number of replay comment pages fetched"})
		PageFetchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_replay_page_failures_total", Help: "Number of failed replay page fetches"})
		BadgeLoadFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_badge_load_failures_total", Help: "Number of failed badge table loads (per source)"})
		PageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_replay_page_fetch_duration_seconds", Help: "Replay page fetch duration seconds", Buckets: prometheus.DefBuckets})
		ConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_connected", Help: "Session connected=1 disconnected=0"})
		BufferedComments = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_replay_buffered_comments", Help: "Current number of buffered replay comments"})
	})
}

// SetConnected sets the connected gauge to 1 if up else 0.
func SetConnected(up bool) {
	if ConnectedGauge != nil {
		if up {
			ConnectedGauge.Set(1)
		} else {
			ConnectedGauge.Set(0)
		}
	}
}

// SetBufferedComments records the current replay buffer depth.
func SetBufferedComments(n int) {
	if BufferedComments != nil {
		BufferedComments.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
