// Package loadgen runs a parallel bulk load: it partitions the input, starts
// one worker per range behind a shared barrier, and accounts every batch.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/barrier"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/framing"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/logging"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/metrics"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/partition"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/report"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/sender"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/source"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/stats"
)

// Version information, stamped at build time:
//
//	go build -ldflags "-X github.com/withObsrvr/obsrvr-bulk-loadgen/internal/loadgen.Version=v0.2.0 \
//	  -X github.com/withObsrvr/obsrvr-bulk-loadgen/internal/loadgen.GitSHA=$(git rev-parse --short HEAD)" ./cmd/bulk-loadgen
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// TransportPolicy decides what a transport failure stops.
type TransportPolicy int

const (
	// AbortWorker stops only the worker whose request failed.
	AbortWorker TransportPolicy = iota
	// AbortRun also cancels every other worker before its next batch.
	AbortRun
)

// ParseTransportPolicy accepts "abort-worker" and "abort-run".
func ParseTransportPolicy(s string) (TransportPolicy, error) {
	switch s {
	case "", "abort-worker":
		return AbortWorker, nil
	case "abort-run":
		return AbortRun, nil
	default:
		return 0, fmt.Errorf("unknown transport error policy %q", s)
	}
}

// Options configures an Engine.
type Options struct {
	RunID    string
	Input    source.Input
	Plan     PlanOptions
	Format   framing.Format
	Action   framing.ActionKind
	BulkSize int
	Sender   BulkSender
	Policy   TransportPolicy

	ReportInterval time.Duration
	// Banner receives the startup banner when non-nil.
	Banner io.Writer
	// BatchLog records every batch when non-nil.
	BatchLog *report.BatchLog
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Engine runs one load.
type Engine struct {
	opts     Options
	counters *stats.Counters
	log      *slog.Logger
}

// New validates opts and creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Input == nil {
		return nil, errors.New("input is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if opts.BulkSize <= 0 {
		return nil, fmt.Errorf("bulk size must be positive, got %d", opts.BulkSize)
	}
	if opts.Plan.Workers <= 0 {
		return nil, fmt.Errorf("%w: %d", partition.ErrInvalidWorkers, opts.Plan.Workers)
	}
	if opts.Plan.BlockSize <= 0 {
		opts.Plan.BlockSize = 1
	}
	if opts.Format == framing.FormatBinary {
		opts.Plan.Mode = ModeRecords
	}

	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	return &Engine{
		opts:     opts,
		counters: stats.New(opts.Metrics),
		log:      logging.RunLogger(base, opts.RunID).With("component", "loadgen"),
	}, nil
}

// Counters exposes the live accounting.
func (e *Engine) Counters() *stats.Counters { return e.counters }

// Plan partitions the input without sending anything.
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	return BuildPlan(ctx, e.opts.Input, e.opts.Plan)
}

// Run executes the load and returns its summary. Startup failures return a
// nil summary. Worker failures are joined into the returned error alongside a
// complete summary.
func (e *Engine) Run(ctx context.Context) (*report.Summary, error) {
	plan, err := e.Plan(ctx)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	if e.opts.Banner != nil {
		plan.Print(e.opts.Banner)
	}
	e.log.Info("starting load",
		"input", plan.Input,
		"mode", plan.Mode.String(),
		"workers", len(plan.Ranges),
		"bulk_size", e.opts.BulkSize,
	)

	n := len(plan.Ranges)
	b := barrier.New(n)

	// Without abort-run the group never cancels siblings.
	g := &errgroup.Group{}
	gctx := ctx
	if e.opts.Policy == AbortRun {
		g, gctx = errgroup.WithContext(ctx)
	}

	errs := make([]error, n)
	for i, r := range plan.Ranges {
		w := &worker{
			id:       i,
			rng:      r,
			mode:     plan.Mode,
			input:    e.opts.Input,
			format:   e.opts.Format,
			action:   e.opts.Action,
			bulkSize: e.opts.BulkSize,
			barrier:  b,
			sender:   e.opts.Sender,
			counters: e.counters,
			batchLog: e.opts.BatchLog,
			metrics:  e.opts.Metrics,
			log:      logging.WorkerLogger(e.log, i).With("range_start", r.Start, "range_length", r.Length),
		}
		g.Go(func() error {
			err := w.run(gctx)
			errs[i] = err
			if err != nil && errors.Is(err, sender.ErrTransport) {
				return err
			}
			return nil
		})
	}

	if err := b.AwaitReady(ctx); err != nil {
		g.Wait()
		return e.summarize(plan, time.Now(), 0, e.workerErr(ctx, errs)), fmt.Errorf("waiting for workers: %w", err)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.SetWorkersReady(n)
	}
	b.Release()
	start := b.ReleasedAt()
	e.log.Info("all workers ready, released")

	repCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()
	go report.NewReporter(e.counters, e.opts.ReportInterval, start, e.log, e.opts.Metrics).Run(repCtx)

	g.Wait()
	elapsed := time.Since(start)
	stopReporter()

	werr := e.workerErr(ctx, errs)
	if werr == nil && ctx.Err() == nil {
		// Every range ran to its end, so every planned document must be counted.
		if err := e.counters.Snapshot().Reconcile(plan.Docs()); err != nil {
			e.log.Error("accounting mismatch", "error", err)
			werr = err
		}
	}
	summary := e.summarize(plan, start, elapsed, werr)
	snap := summary.Counters
	e.log.Info("load finished",
		"docs_sent", snap.DocsSent,
		"batches_failed", snap.BatchesFailed,
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"rate_per_sec", int64(summary.DocsPerSec),
	)
	return summary, werr
}

func (e *Engine) summarize(plan *Plan, start time.Time, elapsed time.Duration, werr error) *report.Summary {
	s := report.NewSummary(e.counters.Snapshot(), start, elapsed, werr)
	s.RunID = e.opts.RunID
	s.Format = e.opts.Format.String()
	s.Workers = len(plan.Ranges)
	s.BulkSize = e.opts.BulkSize
	return s
}

// workerErr joins worker failures. Under abort-run, siblings that stopped only
// because the run was cancelled are left out.
func (e *Engine) workerErr(ctx context.Context, errs []error) error {
	var out []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if ctx.Err() == nil && errors.Is(err, context.Canceled) {
			continue
		}
		out = append(out, err)
	}
	return errors.Join(out...)
}
