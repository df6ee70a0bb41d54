package framing

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthPrefixSize is the size of the big-endian record length.
const LengthPrefixSize = 4

// MaxRecordSize bounds a single payload; larger lengths mean a corrupt file.
const MaxRecordSize = 256 << 20

var (
	// ErrRecordTooLarge is returned for a length prefix above MaxRecordSize.
	ErrRecordTooLarge = errors.New("record length exceeds limit")
	// ErrTruncatedRecord is returned when a record is cut short by end of input.
	ErrTruncatedRecord = errors.New("truncated record")
)

// AppendRecord appends the binary action record, the 4-byte length and the payload.
func AppendRecord(dst []byte, action ActionKind, payload []byte) []byte {
	dst = append(dst, action.BinaryHeader()...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteRecord writes one length-prefixed record.
func WriteRecord(w io.Writer, payload []byte) error {
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func decodeLength(prefix []byte) (int, error) {
	n := binary.BigEndian.Uint32(prefix)
	if n > MaxRecordSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, n)
	}
	return int(n), nil
}

// RecordReader decodes records sequentially from a stream.
type RecordReader struct {
	r      *bufio.Reader
	prefix [LengthPrefixSize]byte
	offset int64
}

// NewRecordReader wraps r. The reader is buffered internally.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReaderSize(r, 128*1024)}
}

// Offset returns the number of bytes consumed so far.
func (rr *RecordReader) Offset() int64 { return rr.offset }

// Next returns the next payload. The slice is freshly allocated.
// It returns io.EOF only at a clean record boundary.
func (rr *RecordReader) Next() ([]byte, error) {
	n, err := rr.readLength()
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(rr.r, payload); err != nil {
		return nil, truncated(err, rr.offset)
	}
	rr.offset += int64(LengthPrefixSize + n)
	return payload, nil
}

// Skip advances past the next record without returning it and reports its
// payload length.
func (rr *RecordReader) Skip() (int, error) {
	n, err := rr.readLength()
	if err != nil {
		return 0, err
	}
	skipped, err := rr.r.Discard(n)
	if err != nil {
		return skipped, truncated(err, rr.offset)
	}
	rr.offset += int64(LengthPrefixSize + n)
	return n, nil
}

func (rr *RecordReader) readLength() (int, error) {
	if _, err := io.ReadFull(rr.r, rr.prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, truncated(err, rr.offset)
	}
	n, err := decodeLength(rr.prefix[:])
	if err != nil {
		return 0, fmt.Errorf("record at offset %d: %w", rr.offset, err)
	}
	return n, nil
}

// ReadRecordAt decodes the record starting at off and returns its payload and
// the offset of the following record.
func ReadRecordAt(ra io.ReaderAt, off int64) ([]byte, int64, error) {
	var prefix [LengthPrefixSize]byte
	if n, err := ra.ReadAt(prefix[:], off); n < LengthPrefixSize {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, off, io.EOF
		}
		return nil, off, truncated(err, off)
	}
	n, err := decodeLength(prefix[:])
	if err != nil {
		return nil, off, fmt.Errorf("record at offset %d: %w", off, err)
	}
	payload := make([]byte, n)
	if n > 0 {
		if m, err := ra.ReadAt(payload, off+LengthPrefixSize); m < n {
			return nil, off, truncated(err, off)
		}
	}
	return payload, off + LengthPrefixSize + int64(n), nil
}

func truncated(err error, off int64) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w at offset %d", ErrTruncatedRecord, off)
	}
	return fmt.Errorf("read record at offset %d: %w", off, err)
}
