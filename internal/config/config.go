// Package config loads run configuration from defaults, a YAML file and
// BULK_* environment variables. Command line flags are applied on top by the
// caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that cannot start a run.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Target  TargetConfig  `yaml:"target"`
	Load    LoadConfig    `yaml:"load"`
	Policy  PolicyConfig  `yaml:"policy"`
	Report  ReportConfig  `yaml:"report"`
	Results ResultsConfig `yaml:"results"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type TargetConfig struct {
	URL            string        `yaml:"url"`
	Index          string        `yaml:"index"`
	DataStream     bool          `yaml:"data_stream"`
	Action         string        `yaml:"action"` // "index" | "create"; empty derives it from data_stream
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Compress       bool          `yaml:"compress"`
}

type LoadConfig struct {
	Input     string `yaml:"input"`
	Format    string `yaml:"format"`    // "ndjson" | "binary"
	Partition string `yaml:"partition"` // "lines" | "bytes" for ndjson; binary inputs are always scanned by record
	Strategy  string `yaml:"strategy"`  // "last" | "spread"
	BulkSize  int    `yaml:"bulk_size"`
	Workers   int    `yaml:"workers"`
	BlockSize int    `yaml:"block_size"` // records per block when partitioning binary inputs
}

// Transport error policies.
const (
	AbortWorker = "abort-worker"
	AbortRun    = "abort-run"
)

type PolicyConfig struct {
	OnTransportError  string `yaml:"on_transport_error"`
	FailOnBatchErrors bool   `yaml:"fail_on_batch_errors"`
}

type ReportConfig struct {
	Interval time.Duration `yaml:"interval"`
	BatchLog bool          `yaml:"batch_log"`
}

type ResultsConfig struct {
	Backend    string `yaml:"backend"` // "" disables; "local" | "gcs" | "s3"
	LocalDir   string `yaml:"local_dir"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
}

// Enabled reports whether results are persisted.
func (r ResultsConfig) Enabled() bool { return r.Backend != "" }

type MetricsConfig struct {
	Address   string `yaml:"address"` // empty disables the /metrics server
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Target: TargetConfig{
			ConnectTimeout: 10 * time.Second,
		},
		Load: LoadConfig{
			Format:    "ndjson",
			Partition: "lines",
			Strategy:  "last",
			BulkSize:  1000,
			Workers:   8,
			BlockSize: 1,
		},
		Policy: PolicyConfig{
			OnTransportError: AbortWorker,
		},
		Report: ReportConfig{
			Interval: 5 * time.Second,
		},
		Results: ResultsConfig{
			LocalDir: "./results",
		},
		Metrics: MetricsConfig{
			Namespace: "bulk_loadgen",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load builds a configuration from defaults, then the YAML file at path (if
// any), then the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the file
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and leaves cfg untouched.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays BULK_* variables onto cfg. Unparseable values are
// reported together.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("BULK_URL", &cfg.Target.URL)
	e.str("BULK_INDEX", &cfg.Target.Index)
	e.boolean("BULK_DATA_STREAM", &cfg.Target.DataStream)
	e.str("BULK_ACTION", &cfg.Target.Action)
	e.duration("BULK_CONNECT_TIMEOUT", &cfg.Target.ConnectTimeout)
	e.duration("BULK_READ_TIMEOUT", &cfg.Target.ReadTimeout)
	e.boolean("BULK_COMPRESS", &cfg.Target.Compress)

	e.str("BULK_INPUT", &cfg.Load.Input)
	e.str("BULK_FORMAT", &cfg.Load.Format)
	e.str("BULK_PARTITION", &cfg.Load.Partition)
	e.str("BULK_STRATEGY", &cfg.Load.Strategy)
	e.integer("BULK_SIZE", &cfg.Load.BulkSize)
	e.integer("BULK_WORKERS", &cfg.Load.Workers)
	e.integer("BULK_BLOCK_SIZE", &cfg.Load.BlockSize)

	e.str("BULK_ON_TRANSPORT_ERROR", &cfg.Policy.OnTransportError)
	e.boolean("BULK_FAIL_ON_BATCH_ERRORS", &cfg.Policy.FailOnBatchErrors)

	e.duration("BULK_REPORT_INTERVAL", &cfg.Report.Interval)
	e.boolean("BULK_BATCH_LOG", &cfg.Report.BatchLog)

	e.str("BULK_RESULTS_BACKEND", &cfg.Results.Backend)
	e.str("BULK_RESULTS_DIR", &cfg.Results.LocalDir)
	e.str("BULK_RESULTS_BUCKET", &cfg.Results.Bucket)
	e.str("BULK_RESULTS_PREFIX", &cfg.Results.Prefix)
	e.str("BULK_S3_ENDPOINT", &cfg.Results.S3Endpoint)
	e.str("BULK_S3_REGION", &cfg.Results.S3Region)

	e.str("BULK_METRICS_ADDR", &cfg.Metrics.Address)
	e.str("BULK_METRICS_NAMESPACE", &cfg.Metrics.Namespace)

	e.str("BULK_LOG_FORMAT", &cfg.Logging.Format)
	e.str("BULK_LOG_LEVEL", &cfg.Logging.Level)

	if len(e.errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(e.errs...))
	}
	return nil
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s=%q: not an integer", key, v))
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s=%q: not a boolean", key, v))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s=%q: not a duration", key, v))
			return
		}
		*dst = d
	}
}

// Validate reports every problem that would stop a run from starting.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Target.URL == "" {
		add("target url is required")
	}
	if c.Target.Index == "" {
		add("target index is required")
	}
	switch c.Target.Action {
	case "", "create":
	case "index":
		if c.Target.DataStream {
			add("data streams only accept the create action")
		}
	default:
		add("unknown bulk action %q (want index or create)", c.Target.Action)
	}
	if c.Target.ConnectTimeout < 0 || c.Target.ReadTimeout < 0 {
		add("timeouts must not be negative")
	}
	if c.Load.Input == "" {
		add("input file is required")
	}
	if c.Load.BulkSize <= 0 {
		add("bulk size must be positive, got %d", c.Load.BulkSize)
	}
	if c.Load.Workers <= 0 {
		add("worker count must be positive, got %d", c.Load.Workers)
	}
	if c.Load.BlockSize <= 0 {
		add("block size must be positive, got %d", c.Load.BlockSize)
	}

	switch c.Load.Format {
	case "ndjson", "json":
		switch c.Load.Partition {
		case "lines", "bytes":
		default:
			add("unknown partition mode %q (want lines or bytes)", c.Load.Partition)
		}
	case "binary", "smile":
	default:
		add("unknown format %q (want ndjson or binary)", c.Load.Format)
	}
	switch c.Load.Strategy {
	case "last", "spread":
	default:
		add("unknown remainder strategy %q (want last or spread)", c.Load.Strategy)
	}

	switch c.Policy.OnTransportError {
	case AbortWorker, AbortRun:
	default:
		add("unknown transport error policy %q (want %s or %s)", c.Policy.OnTransportError, AbortWorker, AbortRun)
	}
	if c.Report.Interval <= 0 {
		add("report interval must be positive")
	}

	switch c.Results.Backend {
	case "":
	case "local":
		if c.Results.LocalDir == "" {
			add("results local_dir is required for the local backend")
		}
	case "gcs", "s3":
		if c.Results.Bucket == "" {
			add("results bucket is required for the %s backend", c.Results.Backend)
		}
	default:
		add("unknown results backend %q", c.Results.Backend)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
