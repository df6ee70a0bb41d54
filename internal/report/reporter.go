// Package report logs progress during a run and summarizes it at the end.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/metrics"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/stats"
)

// Reporter periodically logs throughput from the shared counters.
type Reporter struct {
	counters *stats.Counters
	interval time.Duration
	start    time.Time
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewReporter creates a reporter measuring rates from start.
// m may be nil.
func NewReporter(counters *stats.Counters, interval time.Duration, start time.Time, log *slog.Logger, m *metrics.Metrics) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		counters: counters,
		interval: interval,
		start:    start,
		log:      log.With("component", "reporter"),
		metrics:  m,
		now:      time.Now,
	}
}

// Run logs a progress line every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var last stats.Snapshot
	lastAt := r.start
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := r.now()
			snap := r.counters.Snapshot()
			r.Tick(now, last, lastAt, snap)
			last, lastAt = snap, now
		}
	}
}

// Tick logs one progress line for the interval (prevAt, now].
// Returns the instantaneous and average rates in docs per second.
func (r *Reporter) Tick(now time.Time, prev stats.Snapshot, prevAt time.Time, snap stats.Snapshot) (float64, float64) {
	instant := rate(snap.DocsSent-prev.DocsSent, now.Sub(prevAt))
	average := rate(snap.DocsSent, now.Sub(r.start))
	if r.metrics != nil {
		r.metrics.SetDocsPerSecond(average)
	}

	r.log.Info("progress",
		"docs_sent", snap.DocsSent,
		"batches_failed", snap.BatchesFailed,
		"bytes_sent", humanize.Bytes(uint64(snap.BytesSent)),
		"rate_per_sec", int64(instant),
		"avg_rate_per_sec", int64(average),
	)
	return instant, average
}

func rate(docs int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(docs) / d.Seconds()
}
