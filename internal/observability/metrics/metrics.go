package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "livestock_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	feedFetchTotal   *prometheus.CounterVec
	feedFetchLatency *prometheus.HistogramVec
	droppedRecords   prometheus.Counter

	passTotal   *prometheus.CounterVec
	passLatency *prometheus.HistogramVec
	farmCollars *prometheus.GaugeVec

	stateStoreErrors *prometheus.CounterVec

	alertsTotal     *prometheus.CounterVec
	emitterFailures *prometheus.CounterVec

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers tracking metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		feedFetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "feed_fetch_total",
				Help: "Total telemetry feed fetches by result",
			},
			[]string{"result"},
		)
		feedFetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "feed_fetch_latency_seconds",
				Help:    "Telemetry feed fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		droppedRecords = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "feed_dropped_records_total",
				Help: "Total malformed feed records dropped during normalization",
			},
		)

		passTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_pass_total",
				Help: "Total reconciliation passes by result",
			},
			[]string{"result"},
		)
		passLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reconcile_pass_latency_seconds",
				Help:    "Reconciliation pass latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		farmCollars = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "farm_collars",
				Help: "Collars per farm by connectivity after the last pass",
			},
			[]string{"farm", "state"},
		)

		stateStoreErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "state_store_errors_total",
				Help: "Total state store failures by operation",
			},
			[]string{"op"},
		)

		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Total emitted alerts by type",
			},
			[]string{"type"},
		)
		emitterFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_delivery_failures_total",
				Help: "Total alert delivery failures by sink",
			},
			[]string{"sink"},
		)

		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sensor_ingest_requests_total",
				Help: "Total sensor feed ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sensor_ingest_errors_total",
				Help: "Total sensor feed ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sensor_ingest_latency_seconds",
				Help:    "Sensor feed ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_export_total",
				Help: "Total notification export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "notification_export_latency_seconds",
				Help:    "Notification export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			feedFetchTotal,
			feedFetchLatency,
			droppedRecords,
			passTotal,
			passLatency,
			farmCollars,
			stateStoreErrors,
			alertsTotal,
			emitterFailures,
			ingestRequests,
			ingestErrors,
			ingestLatency,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveFetch records telemetry fetch duration and result.
func ObserveFetch(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if feedFetchTotal != nil {
		feedFetchTotal.WithLabelValues(result).Inc()
	}
	if feedFetchLatency != nil {
		feedFetchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddDroppedRecords increments the dropped record counter by count.
func AddDroppedRecords(count int) {
	if count <= 0 {
		return
	}
	if droppedRecords != nil {
		droppedRecords.Add(float64(count))
	}
}

// ObservePass records reconciliation pass duration and result.
func ObservePass(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if passTotal != nil {
		passTotal.WithLabelValues(result).Inc()
	}
	if passLatency != nil {
		passLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// SetFarmCollars sets live and lost collar gauges for a farm.
func SetFarmCollars(farmID string, live, lost int) {
	if farmID == "" {
		farmID = "unknown"
	}
	if farmCollars != nil {
		farmCollars.WithLabelValues(farmID, "live").Set(float64(live))
		farmCollars.WithLabelValues(farmID, "lost").Set(float64(lost))
	}
}

// IncStateStoreError increments the state store failure counter.
func IncStateStoreError(op string) {
	if op == "" {
		op = "unknown"
	}
	if stateStoreErrors != nil {
		stateStoreErrors.WithLabelValues(op).Inc()
	}
}

// IncAlert increments the emitted alert counter.
func IncAlert(alertType string) {
	if alertType == "" {
		alertType = "unknown"
	}
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(alertType).Inc()
	}
}

// IncEmitterFailure increments the alert delivery failure counter.
func IncEmitterFailure(sink string) {
	if sink == "" {
		sink = "unknown"
	}
	if emitterFailures != nil {
		emitterFailures.WithLabelValues(sink).Inc()
	}
}

// ObserveIngest records sensor ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveExport records notification export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
