package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*31 + 7)
	}
	return p
}

func encodeAll(t *testing.T, payloads ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range payloads {
		require.NoError(t, WriteRecord(&buf, p))
	}
	return buf.Bytes()
}

func TestRecordRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		payloads [][]byte
	}{
		{"single", [][]byte{[]byte("hello")}},
		{"empty payload", [][]byte{{}}},
		{"large payload", [][]byte{payloadOf(70 * 1024)}},
		{"mixed 10/0/500000", [][]byte{payloadOf(10), {}, payloadOf(500000)}},
		{"binary bytes", [][]byte{{0x00, 0xFF, 0x0A, 0x0D, 0x00}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodeAll(t, tt.payloads...)

			rr := NewRecordReader(bytes.NewReader(data))
			for i, want := range tt.payloads {
				got, err := rr.Next()
				require.NoError(t, err, "record %d", i)
				assert.Len(t, got, len(want))
				assert.True(t, bytes.Equal(want, got), "record %d payload mismatch", i)
			}
			_, err := rr.Next()
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, int64(len(data)), rr.Offset())

			ra := bytes.NewReader(data)
			var off int64
			for i, want := range tt.payloads {
				got, next, err := ReadRecordAt(ra, off)
				require.NoError(t, err, "record %d", i)
				assert.True(t, bytes.Equal(want, got), "record %d payload mismatch", i)
				assert.Equal(t, off+LengthPrefixSize+int64(len(want)), next)
				off = next
			}
			_, _, err = ReadRecordAt(ra, off)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestRecordReaderSkip(t *testing.T) {
	data := encodeAll(t, payloadOf(3), payloadOf(0), payloadOf(9))
	rr := NewRecordReader(bytes.NewReader(data))

	n, err := rr.Skip()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = rr.Skip()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, payloadOf(9), got)
}

func TestRecordReaderTruncated(t *testing.T) {
	data := encodeAll(t, payloadOf(16))

	tests := []struct {
		name string
		data []byte
	}{
		{"partial length", data[:2]},
		{"partial payload", data[:10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecordReader(bytes.NewReader(tt.data)).Next()
			assert.ErrorIs(t, err, ErrTruncatedRecord)

			_, _, err = ReadRecordAt(bytes.NewReader(tt.data), 0)
			assert.ErrorIs(t, err, ErrTruncatedRecord)
		})
	}
}

func TestRecordTooLarge(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxRecordSize+1)

	_, err := NewRecordReader(bytes.NewReader(prefix[:])).Next()
	assert.True(t, errors.Is(err, ErrRecordTooLarge), "got %v", err)
}

func TestAppendRecord(t *testing.T) {
	payload := []byte{0x3A, 0x29, 0x0A, 0x01, 0xFA, 0xFB}
	got := AppendRecord(nil, ActionIndex, payload)

	header := ActionIndex.BinaryHeader()
	require.Equal(t, header, got[:len(header)])

	// Both the action and the document decode as records of the same stream.
	rr := NewRecordReader(bytes.NewReader(got))
	action, err := rr.Next()
	require.NoError(t, err)
	assert.Len(t, action, 14)
	doc, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, payload, doc)
}
