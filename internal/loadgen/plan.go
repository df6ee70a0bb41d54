package loadgen

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/framing"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/partition"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/source"
)

// Mode selects how the input is divided between workers.
type Mode int

const (
	// ModeLines splits NDJSON by line count.
	ModeLines Mode = iota
	// ModeBytes splits NDJSON by byte offset; workers align to line starts.
	ModeBytes
	// ModeRecords splits binary records after a pre-scan into blocks.
	ModeRecords
)

func (m Mode) String() string {
	switch m {
	case ModeBytes:
		return "bytes"
	case ModeRecords:
		return "records"
	default:
		return "lines"
	}
}

// ParseMode maps a configured partition name to a Mode for the given format.
// Binary inputs always use ModeRecords.
func ParseMode(name string, format framing.Format) (Mode, error) {
	if format == framing.FormatBinary {
		return ModeRecords, nil
	}
	switch name {
	case "", "lines":
		return ModeLines, nil
	case "bytes":
		return ModeBytes, nil
	default:
		return 0, fmt.Errorf("unknown partition mode %q", name)
	}
}

// PlanOptions controls partitioning.
type PlanOptions struct {
	Mode      Mode
	Strategy  partition.Strategy
	Workers   int
	BlockSize int // records per block in ModeRecords
}

// Plan is the immutable work assignment of a run.
type Plan struct {
	Input  string
	Mode   Mode
	Size   int64 // stored input size in bytes
	Total  int64 // lines, bytes or records depending on Mode
	Ranges []partition.Range
}

// Docs returns the number of documents the plan covers, or -1 when it is not
// known up front (byte mode).
func (p *Plan) Docs() int64 {
	if p.Mode == ModeBytes {
		return -1
	}
	return p.Total
}

// BuildPlan sizes the input and partitions it across workers.
func BuildPlan(ctx context.Context, in source.Input, opts PlanOptions) (*Plan, error) {
	size, err := in.Size(ctx)
	if err != nil {
		return nil, err
	}
	compressed := source.DetectCompression(in.Name()) != source.CompressionNone
	plan := &Plan{Input: in.Name(), Mode: opts.Mode, Size: size}

	switch opts.Mode {
	case ModeLines:
		rc, err := source.OpenDecoded(ctx, in, 0)
		if err != nil {
			return nil, err
		}
		plan.Total, err = source.CountLines(ctx, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		plan.Ranges, err = partition.ByCount(plan.Total, opts.Workers, opts.Strategy)
		if err != nil {
			return nil, err
		}

	case ModeBytes:
		if compressed {
			return nil, fmt.Errorf("byte partitioning of %s: %w", in.Name(), source.ErrUnsupportedSeek)
		}
		plan.Total = size
		plan.Ranges, err = partition.ByBytes(size, opts.Workers)
		if err != nil {
			return nil, err
		}

	case ModeRecords:
		if compressed {
			return nil, fmt.Errorf("record partitioning of %s: %w", in.Name(), source.ErrUnsupportedSeek)
		}
		rc, err := in.Open(ctx, 0)
		if err != nil {
			return nil, err
		}
		blocks, err := partition.ScanRecords(ctx, rc, opts.BlockSize)
		rc.Close()
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			plan.Total += b.Records
		}
		plan.Ranges, err = partition.ByBlocks(blocks, opts.Workers)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown partition mode %d", opts.Mode)
	}

	if err := partition.Validate(plan.Ranges, plan.Total).Err(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return plan, nil
}

// Print writes the startup banner.
func (p *Plan) Print(w io.Writer) {
	fmt.Fprintf(w, "Input: %s (%s)\n", p.Input, humanize.Bytes(uint64(p.Size)))
	switch p.Mode {
	case ModeBytes:
		fmt.Fprintf(w, "Partitioning %s by byte offset across %d workers\n", humanize.Bytes(uint64(p.Total)), len(p.Ranges))
	default:
		fmt.Fprintf(w, "Partitioning %s documents by %s across %d workers\n", humanize.Comma(p.Total), p.Mode, len(p.Ranges))
	}
	for _, r := range p.Ranges {
		fmt.Fprintf(w, "  %s\n", r)
	}
}
