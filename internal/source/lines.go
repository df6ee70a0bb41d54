package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

const scanChunk = 256 << 10

// CountLines counts newline-terminated lines in r. A final line without a
// trailing newline is counted too.
func CountLines(ctx context.Context, r io.Reader) (int64, error) {
	buf := make([]byte, scanChunk)
	var lines int64
	var last byte = '\n'
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			lines += int64(bytes.Count(buf[:n], []byte{'\n'}))
			last = buf[n-1]
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("count lines: %w", err)
		}
	}
	if last != '\n' {
		lines++
	}
	return lines, nil
}
