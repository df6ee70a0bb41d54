package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/barrier"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/framing"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/metrics"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/partition"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/report"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/sender"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/source"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/stats"
)

// State is a worker lifecycle phase.
type State int

const (
	StateSeeking State = iota
	StateReady
	StateBlocked
	StateSending
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateReady:
		return "ready"
	case StateBlocked:
		return "blocked"
	case StateSending:
		return "sending"
	case StateDraining:
		return "draining"
	default:
		return "done"
	}
}

// BulkSender posts one framed bulk body. *sender.Sender implements it.
type BulkSender interface {
	Send(ctx context.Context, body []byte, docs int) (sender.Result, error)
}

// worker replays one range. All fields are set before run and never change.
type worker struct {
	id       int
	rng      partition.Range
	mode     Mode
	input    source.Input
	format   framing.Format
	action   framing.ActionKind
	bulkSize int

	barrier  *barrier.Barrier
	sender   BulkSender
	counters *stats.Counters
	batchLog *report.BatchLog
	metrics  *metrics.Metrics
	log      *slog.Logger

	seq   int64
	state State
}

func (w *worker) setState(s State) {
	w.state = s
	w.log.Debug("worker state", "state", s.String())
}

// run executes the worker lifecycle. The worker always arrives at the barrier,
// even when positioning fails, so siblings are never left waiting.
func (w *worker) run(ctx context.Context) (err error) {
	defer func() {
		w.setState(StateDone)
		if err != nil && w.metrics != nil {
			w.metrics.IncWorkerErrors()
		}
	}()

	w.setState(StateSeeking)
	rd, openErr := openReader(ctx, w.input, w.mode, w.rng)

	w.setState(StateReady)
	w.barrier.Arrive()
	if w.metrics != nil {
		w.metrics.SetWorkersReady(w.barrier.Arrived())
	}
	if openErr != nil {
		return fmt.Errorf("worker %d: seek: %w", w.id, openErr)
	}
	defer rd.Close()

	w.setState(StateBlocked)
	if err := w.barrier.Wait(ctx); err != nil {
		return fmt.Errorf("worker %d: waiting for release: %w", w.id, err)
	}

	if w.metrics != nil {
		w.metrics.WorkersActive.Inc()
		defer w.metrics.WorkersActive.Dec()
	}

	w.setState(StateSending)
	b := newBatch(w.format, w.action, 64<<10)
	for {
		doc, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("worker %d: read: %w", w.id, err)
		}
		b.add(doc)
		if b.docs == w.bulkSize {
			if err := w.flush(ctx, b); err != nil {
				return err
			}
		}
	}

	w.setState(StateDraining)
	if !b.empty() {
		if err := w.flush(ctx, b); err != nil {
			return err
		}
	}
	w.log.Debug("range complete", "batches", w.seq)
	return nil
}

// flush sends the batch and accounts the outcome. A rejected batch is counted
// and the worker carries on; a transport failure stops the worker.
func (w *worker) flush(ctx context.Context, b *batch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("worker %d: %w", w.id, err)
	}
	defer b.reset()

	seq := w.seq
	w.seq++
	sentAt := time.Now()
	res, err := w.sender.Send(ctx, b.buf, b.docs)

	rec := report.BatchRecord{
		Worker:     int32(w.id),
		Seq:        seq,
		Docs:       int32(b.docs),
		Bytes:      int64(len(b.buf)),
		StatusCode: int32(res.StatusCode),
		LatencyUS:  res.Latency.Microseconds(),
		SentAt:     sentAt,
	}
	w.batchLog.Add(rec)

	if err != nil {
		w.counters.RecordTransportError(b.docs)
		w.log.Error("bulk request failed", "batch", seq, "docs", b.docs, "error", err)
		return fmt.Errorf("worker %d batch %d: %w", w.id, seq, err)
	}

	if res.OK() {
		w.counters.RecordSuccess(b.docs, len(b.buf), res.Latency)
		return nil
	}

	w.counters.RecordFailure(b.docs, len(b.buf), res.Latency)
	w.log.Warn("bulk request rejected",
		"batch", seq,
		"status", res.StatusCode,
		"docs", b.docs,
		"body", res.ErrorBody,
	)
	return nil
}
