package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/config"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/framing"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/loadgen"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/logging"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/metrics"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/partition"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/report"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/sender"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/source"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/storage"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk-loadgen [flags] [<url> <index> <bulkSize> <workers> <file>]",
		Short: "Replay a document file as parallel bulk requests and measure throughput",
		Long: `bulk-loadgen partitions an NDJSON or length-prefixed binary file across a
fixed pool of workers, lines them up behind a start barrier, and replays the
documents as bulk requests against <url>/<index>/_bulk.

Configuration is read from defaults, then --config, then BULK_* environment
variables, then positional arguments and flags.`,
		Version:       fmt.Sprintf("%s (%s)", loadgen.Version, loadgen.GitSHA),
		Args:          positionalArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLoad,
	}

	f := cmd.Flags()
	f.String("config", "", "YAML configuration file")
	f.Bool("dry-run", false, "print the partition plan and exit without sending")

	f.String("url", "", "endpoint base URL")
	f.String("index", "", "index or data stream name")
	f.Bool("data-stream", false, "target is a data stream (use create actions)")
	f.String("action", "", "bulk action: index or create (default derived from --data-stream)")
	f.Duration("connect-timeout", 0, "TCP connect timeout (default 10s)")
	f.Duration("read-timeout", 0, "response timeout, 0 for none")
	f.Bool("compress", false, "gzip request bodies")

	f.String("input", "", "input file path or file://, gs://, s3:// URL")
	f.String("format", "", "input format: ndjson or binary")
	f.String("partition", "", "NDJSON partitioning: lines or bytes")
	f.String("strategy", "", "remainder strategy for line partitioning: last or spread")
	f.Int("bulk-size", 0, "documents per bulk request")
	f.Int("workers", 0, "number of workers")
	f.Int("block-size", 0, "records per block when partitioning binary input")

	f.String("on-transport-error", "", "abort-worker or abort-run")
	f.Bool("fail-on-batch-errors", false, "exit non-zero when any batch is rejected")

	f.Duration("report-interval", 0, "progress log interval")
	f.Bool("batch-log", false, "record every batch and publish batches.parquet")
	f.String("results", "", "results backend: local, gcs or s3")
	f.String("results-dir", "", "results directory for the local backend")
	f.String("results-bucket", "", "results bucket for gcs or s3")
	f.String("results-prefix", "", "key prefix for published results")

	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.String("log-format", "", "text or json")
	f.String("log-level", "", "debug, info, warn or error")

	return cmd
}

func positionalArgs(_ *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 5 {
		return fmt.Errorf("expected 0 or 5 positional arguments (<url> <index> <bulkSize> <workers> <file>), got %d", len(args))
	}
	return nil
}

// loadConfig layers defaults, the config file, the environment, positional
// arguments and flags, then validates the result.
func loadConfig(fs *pflag.FlagSet, args []string) (config.Config, error) {
	path, _ := fs.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := applyPositional(&cfg, args); err != nil {
		return cfg, err
	}
	if err := applyFlags(fs, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyPositional(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	bulk, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("%w: bulk size %q is not an integer", config.ErrInvalid, args[2])
	}
	workers, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("%w: worker count %q is not an integer", config.ErrInvalid, args[3])
	}
	cfg.Target.URL = args[0]
	cfg.Target.Index = args[1]
	cfg.Load.BulkSize = bulk
	cfg.Load.Workers = workers
	cfg.Load.Input = args[4]
	return nil
}

// applyFlags copies only the flags set on the command line.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			keep(err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if fs.Changed(name) {
			v, err := fs.GetInt(name)
			keep(err)
			*dst = v
		}
	}
	duration := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, err := fs.GetDuration(name)
			keep(err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, err := fs.GetBool(name)
			keep(err)
			*dst = v
		}
	}
	str("url", &cfg.Target.URL)
	str("index", &cfg.Target.Index)
	boolean("data-stream", &cfg.Target.DataStream)
	str("action", &cfg.Target.Action)
	duration("connect-timeout", &cfg.Target.ConnectTimeout)
	duration("read-timeout", &cfg.Target.ReadTimeout)
	boolean("compress", &cfg.Target.Compress)

	str("input", &cfg.Load.Input)
	str("format", &cfg.Load.Format)
	str("partition", &cfg.Load.Partition)
	str("strategy", &cfg.Load.Strategy)
	integer("bulk-size", &cfg.Load.BulkSize)
	integer("workers", &cfg.Load.Workers)
	integer("block-size", &cfg.Load.BlockSize)

	str("on-transport-error", &cfg.Policy.OnTransportError)
	boolean("fail-on-batch-errors", &cfg.Policy.FailOnBatchErrors)

	duration("report-interval", &cfg.Report.Interval)
	boolean("batch-log", &cfg.Report.BatchLog)
	str("results", &cfg.Results.Backend)
	str("results-dir", &cfg.Results.LocalDir)
	str("results-bucket", &cfg.Results.Bucket)
	str("results-prefix", &cfg.Results.Prefix)

	str("metrics-addr", &cfg.Metrics.Address)
	str("log-format", &cfg.Logging.Format)
	str("log-level", &cfg.Logging.Level)
	return firstErr
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd.Flags(), args)
	if err != nil {
		return err
	}

	logger := logging.SetupWriter(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level}, out)
	runID := uuid.NewString()
	log := logging.RunLogger(logger, runID)
	log.Info("bulk-loadgen starting", "version", loadgen.Version, "git_sha", loadgen.GitSHA)

	format, err := framing.ParseFormat(cfg.Load.Format)
	if err != nil {
		return err
	}
	action := framing.ActionForTarget(cfg.Target.DataStream)
	if cfg.Target.Action != "" {
		if action, err = framing.ParseActionKind(cfg.Target.Action); err != nil {
			return err
		}
	}
	mode, err := loadgen.ParseMode(cfg.Load.Partition, format)
	if err != nil {
		return err
	}
	strategy, err := partition.ParseStrategy(cfg.Load.Strategy)
	if err != nil {
		return err
	}
	policy, err := loadgen.ParseTransportPolicy(cfg.Policy.OnTransportError)
	if err != nil {
		return err
	}
	planOpts := loadgen.PlanOptions{
		Mode:      mode,
		Strategy:  strategy,
		Workers:   cfg.Load.Workers,
		BlockSize: cfg.Load.BlockSize,
	}

	in, err := source.Open(ctx, cfg.Load.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		plan, err := loadgen.BuildPlan(ctx, in, planOpts)
		if err != nil {
			return fmt.Errorf("plan: %w", err)
		}
		plan.Print(out)
		return nil
	}

	var m *metrics.Metrics
	if cfg.Metrics.Address != "" {
		m = metrics.Init(cfg.Metrics.Namespace)
		mlog := logging.Component("metrics")
		go func() {
			if err := m.StartServer(cfg.Metrics.Address); err != nil {
				mlog.Error("metrics server stopped", "addr", cfg.Metrics.Address, "error", err)
			}
		}()
		mlog.Info("serving metrics", "addr", cfg.Metrics.Address)
	}

	snd, err := sender.New(sender.Config{
		BaseURL:        cfg.Target.URL,
		Index:          cfg.Target.Index,
		Format:         format,
		ConnectTimeout: cfg.Target.ConnectTimeout,
		ReadTimeout:    cfg.Target.ReadTimeout,
		MaxConns:       cfg.Load.Workers,
		Compress:       cfg.Target.Compress,
	})
	if err != nil {
		return err
	}
	defer snd.Close()

	var batchLog *report.BatchLog
	if cfg.Report.BatchLog {
		batchLog = report.NewBatchLog()
	}

	engine, err := loadgen.New(loadgen.Options{
		RunID:          runID,
		Input:          in,
		Plan:           planOpts,
		Format:         format,
		Action:         action,
		BulkSize:       cfg.Load.BulkSize,
		Sender:         snd,
		Policy:         policy,
		ReportInterval: cfg.Report.Interval,
		Banner:         out,
		BatchLog:       batchLog,
		Metrics:        m,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	summary, runErr := engine.Run(ctx)
	if summary == nil {
		return runErr
	}
	summary.Endpoint = snd.Endpoint()
	if err := summary.Print(out); err != nil {
		return err
	}

	if cfg.Results.Enabled() {
		// Publish even after an interrupt so partial runs are kept.
		rlog := logging.RunLogger(logging.Component("results"), runID)
		if err := publishResults(context.WithoutCancel(ctx), cfg.Results, runID, summary, batchLog, rlog); err != nil {
			rlog.Error("publish results failed", "error", err)
			if runErr == nil {
				runErr = err
			}
		}
	}

	if runErr != nil {
		return runErr
	}
	if cfg.Policy.FailOnBatchErrors && summary.Failed() {
		return fmt.Errorf("%d bulk requests were rejected", summary.Counters.BatchesFailed)
	}
	return nil
}

func publishResults(ctx context.Context, cfg config.ResultsConfig, runID string, summary *report.Summary, batchLog *report.BatchLog, log *slog.Logger) error {
	store, err := storage.NewStore(ctx, storage.Config{
		Backend:    cfg.Backend,
		LocalDir:   cfg.LocalDir,
		Bucket:     cfg.Bucket,
		S3Endpoint: cfg.S3Endpoint,
		S3Region:   cfg.S3Region,
		Prefix:     cfg.Prefix,
	})
	if err != nil {
		return fmt.Errorf("open results store: %w", err)
	}
	defer store.Close()

	js, err := summary.JSON()
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	artifacts := []storage.Artifact{{Name: "summary.json", Data: js}}
	if batchLog != nil {
		var buf bytes.Buffer
		if err := batchLog.WriteParquet(&buf); err != nil {
			return err
		}
		artifacts = append(artifacts, storage.Artifact{Name: "batches.parquet", Data: buf.Bytes()})
	}

	res, err := storage.Publish(ctx, store, runID, storage.ProducerInfo{
		Name:    "bulk-loadgen",
		Version: loadgen.Version,
		GitSHA:  loadgen.GitSHA,
	}, artifacts)
	if err != nil {
		return err
	}
	if _, err := storage.Verify(ctx, store, res.ManifestKey); err != nil {
		return fmt.Errorf("verify published results: %w", err)
	}
	log.Info("results published", "manifest", store.URI(res.ManifestKey), "files", len(res.Manifest.Files))
	return nil
}
