package metrics

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UnreadCounter counts unread notifications.
type UnreadCounter interface {
	CountUnread(ctx context.Context) (int, error)
}

var unreadOnce sync.Once

// RegisterUnreadGauge exposes the unread notification count of counter.
func RegisterUnreadGauge(counter UnreadCounter, logger *log.Logger) {
	if counter == nil {
		return
	}
	unreadOnce.Do(func() {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "notifications_unread",
				Help: "Unread notifications",
			},
			func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				count, err := counter.CountUnread(ctx)
				if err != nil {
					if logger != nil {
						logger.Printf("metrics unread count failed: %v", err)
					}
					return 0
				}
				return float64(count)
			},
		))
	})
}

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "collars_unassigned",
			Help: "Registered collars without a farm",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM collars WHERE assigned_farm_id IS NULL")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
