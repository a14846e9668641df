package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the clearing venue.
type Metrics struct {
	// --- Engine ---
	EventsEmitted  *prometheus.CounterVec
	EngineSequence prometheus.Gauge
	TradesExecuted *prometheus.CounterVec
	Liquidations   *prometheus.CounterVec
	BadDebtTotal   *prometheus.CounterVec

	// --- Markets ---
	MarkPrice        *prometheus.GaugeVec
	FundingIndex     *prometheus.GaugeVec
	InsuranceBalance prometheus.Gauge

	// --- Outputs ---
	PublishDrops         prometheus.Counter
	PublishErrors        prometheus.Counter
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	httpBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025,
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpclear_engine_events_emitted_total",
			Help: "Committed engine events by type",
		}, []string{"event_type"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpclear_engine_sequence",
			Help: "Last committed engine sequence number",
		}),

		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpclear_trades_executed_total",
			Help: "Trades executed against the pricing engine",
		}, []string{"market"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpclear_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"market"}),

		BadDebtTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpclear_bad_debt_quote_total",
			Help: "Bad debt recorded, quote units",
		}, []string{"market", "origin"}),

		MarkPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpclear_mark_price",
			Help: "Current mark price per market, quote units",
		}, []string{"market"}),

		FundingIndex: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpclear_funding_index",
			Help: "Cumulative funding index per market",
		}, []string{"market"}),

		InsuranceBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpclear_insurance_balance_quote",
			Help: "Insurance fund balance, quote units",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpclear_publish_drops_total",
			Help: "Events dropped on the non-blocking publish channel",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpclear_publish_errors_total",
			Help: "Failed event publishes to the stream",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpclear_persist_events_written_total",
			Help: "Events written to the durable store",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpclear_persist_errors_total",
			Help: "Persistence failures by operation",
		}, []string{"op"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpclear_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpclear_http_requests_total",
			Help: "HTTP API requests by route and status",
		}, []string{"route", "code"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpclear_http_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: httpBuckets,
		}, []string{"route"}),
	}
}
