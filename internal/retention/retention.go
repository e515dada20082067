// Package retention implements C16: a periodic job that deletes expired
// ApiCallRecord rows. The ticker/context.Done shutdown loop follows
// worker/unibox_worker.go's Start method; unibox_worker.go only ever called
// one fetch per tick serially, so the re-entrancy guard here (a running
// flag rather than a bounded worker pool) is new, sized for a job that can
// occasionally run long against a big log table.
package retention

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailgateway/internal/store"
)

const (
	DefaultInterval = 60 * time.Minute
	DefaultWindow   = 30 * 24 * time.Hour
)

type Job struct {
	db       *gorm.DB
	interval time.Duration
	window   time.Duration
	running  int32
}

func New(db *gorm.DB, interval, window time.Duration) *Job {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Job{db: db, interval: interval, window: window}
}

// Start runs the job on a ticker until ctx is canceled. The ticker is
// stopped before Start returns so it never outlives the process.
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runOnce is a no-op if a previous run is still in flight.
func (j *Job) runOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&j.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&j.running, 0)

	deleted, err := j.deleteExpired(ctx)
	if err != nil {
		logrus.WithError(err).Error("retention: failed to delete expired api call records")
		return
	}
	if deleted > 0 {
		logrus.WithField("deleted", deleted).Info("retention: purged expired api call records")
	}
}

func (j *Job) deleteExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-j.window)
	result := j.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&store.ApiCallRecord{})
	return result.RowsAffected, result.Error
}
