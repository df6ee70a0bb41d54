// Package partition splits an input into one contiguous range per worker.
package partition

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("worker count must be positive")
	// ErrEmptyInput is returned when there is nothing to partition.
	ErrEmptyInput = errors.New("input is empty")
)

// Unit tells how a Range is measured.
type Unit int

const (
	// UnitRecords ranges count lines or binary records.
	UnitRecords Unit = iota
	// UnitBytes ranges are byte offsets into the file.
	UnitBytes
)

func (u Unit) String() string {
	if u == UnitBytes {
		return "bytes"
	}
	return "records"
}

// Strategy decides where the remainder of an uneven split goes.
type Strategy int

const (
	// AbsorbLast gives every range total/n and the whole remainder to the last.
	AbsorbLast Strategy = iota
	// Spread gives one extra to each of the first total%n ranges.
	Spread
)

// ParseStrategy parses "last" or "spread".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "last":
		return AbsorbLast, nil
	case "spread":
		return Spread, nil
	default:
		return AbsorbLast, fmt.Errorf("unknown remainder strategy %q", s)
	}
}

func (s Strategy) String() string {
	if s == Spread {
		return "spread"
	}
	return "last"
}

// Range is one worker's exclusive slice of the input.
type Range struct {
	Worker int
	Unit   Unit
	// Start is the first record ordinal, or the first byte offset for UnitBytes.
	Start int64
	// Length is the record count, or the byte count for UnitBytes.
	Length int64
	// Offset is the byte offset of record Start when known (binary records).
	Offset int64
}

// End returns the exclusive end of the range.
func (r Range) End() int64 { return r.Start + r.Length }

// Empty reports whether the range has nothing to process.
func (r Range) Empty() bool { return r.Length == 0 }

func (r Range) String() string {
	if r.Unit == UnitBytes {
		return fmt.Sprintf("worker=%d bytes=[%d,%d)", r.Worker, r.Start, r.End())
	}
	return fmt.Sprintf("worker=%d start=%d count=%d", r.Worker, r.Start, r.Length)
}

func check(total int64, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, n)
	}
	if total <= 0 {
		return ErrEmptyInput
	}
	return nil
}

// ByCount splits total records into n contiguous ranges.
func ByCount(total int64, n int, strategy Strategy) ([]Range, error) {
	if err := check(total, n); err != nil {
		return nil, err
	}
	return split(total, n, strategy, UnitRecords), nil
}

// ByBytes splits a file of size bytes into n approximate byte ranges. The last
// range absorbs the remainder; workers align to record boundaries themselves.
func ByBytes(size int64, n int) ([]Range, error) {
	if err := check(size, n); err != nil {
		return nil, err
	}
	return split(size, n, AbsorbLast, UnitBytes), nil
}

func split(total int64, n int, strategy Strategy, unit Unit) []Range {
	per := total / int64(n)
	rem := total % int64(n)

	out := make([]Range, 0, n)
	var cur int64
	for i := 0; i < n; i++ {
		length := per
		switch {
		case strategy == Spread && int64(i) < rem:
			length++
		case strategy == AbsorbLast && i == n-1:
			length += rem
		}
		out = append(out, Range{Worker: i, Unit: unit, Start: cur, Length: length})
		cur += length
	}
	return out
}
