package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const dbGaugeTimeout = 2 * time.Second

var dbGauges = []struct {
	name  string
	help  string
	query string
}{
	{"event_outbox_pending", "Outbox records not yet delivered", "SELECT COUNT(*) FROM event_outbox WHERE status IN ('pending', 'processing')"},
	{"event_dead_letters", "Events that failed delivery at least once", "SELECT COUNT(*) FROM dead_letter_events"},
	{"statements_draft", "Monthly statements still in draft", "SELECT COUNT(*) FROM monthly_statements WHERE status = 'draft'"},
	{"containers_on_terminal", "Container dwells without an exit", "SELECT COUNT(*) FROM container_dwells WHERE exit_time IS NULL"},
}

func registerDBMetrics(db *sql.DB, logger logrus.FieldLogger) {
	for _, gauge := range dbGauges {
		query := gauge.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + gauge.name, Help: gauge.help},
			func() float64 { return queryCount(db, logger, query) },
		))
	}
}

func queryCount(db *sql.DB, logger logrus.FieldLogger, query string) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbGaugeTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		if logger != nil {
			logger.WithError(err).WithField("query", query).Warn("metrics query failed")
		}
		return 0
	}
	return float64(max(count, 0))
}
