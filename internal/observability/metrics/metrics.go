// Package metrics holds the billing Prometheus collectors. Collectors exist
// from package load so callers never nil-check; Init registers them once.
package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const metricPrefix = "billing_"

// Result label values.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultFinalized = "finalized"
	ResultConfig    = "config_error"
)

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricPrefix + name, Help: help}, labels)
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: metricPrefix + name, Help: help, Buckets: buckets}, labels)
}

var (
	generateTotal   = counterVec("statement_generate_total", "Statement draft generations by result", "result")
	generateSeconds = histogramVec("statement_generate_latency_seconds", "Statement draft generation latency", prometheus.DefBuckets, "result")
	finalizeTotal   = counterVec("statement_finalize_total", "Statement finalizations by result", "result")
	finalizeSeconds = histogramVec("statement_finalize_latency_seconds", "Statement finalization latency", prometheus.DefBuckets, "result")
	exportTotal     = counterVec("statement_export_total", "Statement exports by format and result", "format", "result")
	exportSeconds   = histogramVec("statement_export_latency_seconds", "Statement export latency", prometheus.DefBuckets, "format", "result")

	batchCompanies = counterVec("batch_companies_total", "Companies handled by monthly batch runs by outcome", "outcome")
	batchSeconds   = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricPrefix + "batch_latency_seconds",
		Help:    "Monthly batch duration",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	configErrors  = counterVec("configuration_errors_total", "Tariff configuration errors by kind", "kind")
	outboxTotal   = counterVec("outbox_dispatch_total", "Outbox records dispatched by result", "result")
	notifications = counterVec("notifications_total", "Statement notifications by event and result", "event", "result")
	archives      = counterVec("statement_archive_total", "Finalized statement archive uploads by result", "result")

	registerOnce sync.Once
)

// Init registers the collectors and, when db is set, the table gauges.
// Calls after the first are no-ops.
func Init(db *sql.DB, logger logrus.FieldLogger) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			generateTotal, generateSeconds,
			finalizeTotal, finalizeSeconds,
			exportTotal, exportSeconds,
			batchCompanies, batchSeconds,
			configErrors, outboxTotal, notifications, archives,
		)
		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func ObserveStatementGenerate(result string, took time.Duration) {
	result = orDefault(result, ResultSuccess)
	generateTotal.WithLabelValues(result).Inc()
	generateSeconds.WithLabelValues(result).Observe(took.Seconds())
}

func ObserveStatementFinalize(result string, took time.Duration) {
	result = orDefault(result, ResultSuccess)
	finalizeTotal.WithLabelValues(result).Inc()
	finalizeSeconds.WithLabelValues(result).Observe(took.Seconds())
}

func ObserveStatementExport(format, result string, took time.Duration) {
	format, result = orDefault(format, "unknown"), orDefault(result, ResultSuccess)
	exportTotal.WithLabelValues(format, result).Inc()
	exportSeconds.WithLabelValues(format, result).Observe(took.Seconds())
}

// ObserveBatch records one batch run and its per-company outcomes.
func ObserveBatch(generated, skipped, failed int, took time.Duration) {
	batchCompanies.WithLabelValues("generated").Add(float64(generated))
	batchCompanies.WithLabelValues("skipped").Add(float64(skipped))
	batchCompanies.WithLabelValues("failed").Add(float64(failed))
	batchSeconds.Observe(took.Seconds())
}

func IncConfigurationError(kind string) {
	configErrors.WithLabelValues(orDefault(kind, "unknown")).Inc()
}

func IncOutboxDispatch(result string) {
	outboxTotal.WithLabelValues(orDefault(result, ResultSuccess)).Inc()
}

func IncNotification(event, result string) {
	notifications.WithLabelValues(orDefault(event, "unknown"), orDefault(result, ResultSuccess)).Inc()
}

func IncArchive(result string) {
	archives.WithLabelValues(orDefault(result, ResultSuccess)).Inc()
}
