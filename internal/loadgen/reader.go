package loadgen

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/framing"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/partition"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/source"
)

// ErrUnexpectedEOF is returned when the input ends before a worker has read
// every record of its range.
var ErrUnexpectedEOF = errors.New("input ended before the assigned range")

const readBufferSize = 1 << 20

// docReader yields the documents of one range. Next returns io.EOF once the
// range is exhausted. Returned slices are only valid until the next call.
type docReader interface {
	Next() ([]byte, error)
	Close() error
}

// openReader positions a reader at the start of r. This is the worker's
// seeking phase.
func openReader(ctx context.Context, in source.Input, mode Mode, r partition.Range) (docReader, error) {
	switch mode {
	case ModeLines:
		return openLineReader(ctx, in, r)
	case ModeBytes:
		return openByteLineReader(ctx, in, r)
	case ModeRecords:
		return openRecordReader(ctx, in, r)
	default:
		return nil, fmt.Errorf("unknown partition mode %d", mode)
	}
}

// lineScanner reads newline-terminated lines, tolerating lines longer than
// its buffer and a final line without a newline.
type lineScanner struct {
	br      *bufio.Reader
	scratch []byte
}

func newLineScanner(r io.Reader) *lineScanner {
	return &lineScanner{br: bufio.NewReaderSize(r, readBufferSize)}
}

// next returns the line without its newline and the number of bytes consumed.
func (s *lineScanner) next() ([]byte, int, error) {
	line, err := s.br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		s.scratch = append(s.scratch[:0], line...)
		for errors.Is(err, bufio.ErrBufferFull) {
			line, err = s.br.ReadSlice('\n')
			s.scratch = append(s.scratch, line...)
		}
		line = s.scratch
	}
	consumed := len(line)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, consumed, err
	}
	if consumed == 0 {
		return nil, 0, io.EOF
	}
	return bytes.TrimSuffix(line, []byte{'\n'}), consumed, nil
}

// lineReader serves a count range of NDJSON lines. Compressed inputs are
// decoded on the fly, so positioning always reads from the start.
type lineReader struct {
	rc        io.ReadCloser
	sc        *lineScanner
	remaining int64
}

func openLineReader(ctx context.Context, in source.Input, r partition.Range) (*lineReader, error) {
	rc, err := source.OpenDecoded(ctx, in, 0)
	if err != nil {
		return nil, err
	}
	lr := &lineReader{rc: rc, sc: newLineScanner(rc), remaining: r.Length}
	for i := int64(0); i < r.Start; i++ {
		if i%65536 == 0 {
			if err := ctx.Err(); err != nil {
				rc.Close()
				return nil, err
			}
		}
		if _, _, err := lr.sc.next(); err != nil {
			rc.Close()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("skip to line %d: %w", r.Start, ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("skip to line %d: %w", r.Start, err)
		}
	}
	return lr, nil
}

func (lr *lineReader) Next() ([]byte, error) {
	if lr.remaining == 0 {
		return nil, io.EOF
	}
	line, _, err := lr.sc.next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%d lines short: %w", lr.remaining, ErrUnexpectedEOF)
	}
	if err != nil {
		return nil, err
	}
	lr.remaining--
	return line, nil
}

func (lr *lineReader) Close() error { return lr.rc.Close() }

// byteLineReader serves the lines that start inside a byte range.
type byteLineReader struct {
	rc  io.ReadCloser
	sc  *lineScanner
	pos int64 // offset of the next unread line
	end int64
}

func openByteLineReader(ctx context.Context, in source.Input, r partition.Range) (*byteLineReader, error) {
	// Opening one byte early and discarding through the first newline drops
	// the line that straddles Start, while a line beginning exactly at Start
	// is kept.
	offset := r.Start
	if offset > 0 {
		offset--
	}
	rc, err := in.Open(ctx, offset)
	if err != nil {
		return nil, err
	}
	br := &byteLineReader{rc: rc, sc: newLineScanner(rc), pos: offset, end: r.End()}
	if r.Start > 0 {
		_, n, err := br.sc.next()
		br.pos += int64(n)
		if err != nil && !errors.Is(err, io.EOF) {
			rc.Close()
			return nil, fmt.Errorf("align to line at byte %d: %w", r.Start, err)
		}
	}
	return br, nil
}

func (br *byteLineReader) Next() ([]byte, error) {
	if br.pos >= br.end {
		return nil, io.EOF
	}
	line, n, err := br.sc.next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("byte %d of range ending at %d: %w", br.pos, br.end, ErrUnexpectedEOF)
	}
	if err != nil {
		return nil, err
	}
	br.pos += int64(n)
	// Only the last line of the whole input may lack its newline.
	if n == len(line) && br.pos < br.end {
		return nil, fmt.Errorf("line cut at byte %d of range ending at %d: %w", br.pos, br.end, ErrUnexpectedEOF)
	}
	return line, nil
}

func (br *byteLineReader) Close() error { return br.rc.Close() }

// recordReader serves a count range of length-prefixed binary records.
type recordReader struct {
	rc        io.ReadCloser
	rr        *framing.RecordReader
	remaining int64
}

func openRecordReader(ctx context.Context, in source.Input, r partition.Range) (*recordReader, error) {
	rc, err := in.Open(ctx, r.Offset)
	if err != nil {
		return nil, err
	}
	// Inputs with random access get the first record checked while the worker
	// is still seeking, so a shrunk or shifted file fails before release.
	if ra, ok := rc.(io.ReaderAt); ok && r.Length > 0 {
		if _, _, err := framing.ReadRecordAt(ra, r.Offset); err != nil {
			rc.Close()
			if errors.Is(err, io.EOF) {
				err = ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("first record at byte %d: %w", r.Offset, err)
		}
	}
	return &recordReader{rc: rc, rr: framing.NewRecordReader(rc), remaining: r.Length}, nil
}

func (rr *recordReader) Next() ([]byte, error) {
	if rr.remaining == 0 {
		return nil, io.EOF
	}
	payload, err := rr.rr.Next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%d records short: %w", rr.remaining, ErrUnexpectedEOF)
	}
	if err != nil {
		return nil, err
	}
	rr.remaining--
	return payload, nil
}

func (rr *recordReader) Close() error { return rr.rc.Close() }
