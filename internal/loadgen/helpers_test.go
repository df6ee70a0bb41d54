package loadgen

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/framing"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/sender"
	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/source"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func docLine(i int) string { return fmt.Sprintf(`{"id":%d}`, i) }

// writeLines writes n NDJSON documents and returns the input.
func writeLines(t *testing.T, n int) source.Input {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(docLine(i))
		sb.WriteByte('\n')
	}
	return writeInput(t, "docs.ndjson", []byte(sb.String()))
}

func writeInput(t *testing.T, name string, data []byte) source.Input {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0644))
	in, err := source.NewLocalInput(p)
	require.NoError(t, err)
	return in
}

type respondFunc func(ctx context.Context, call int, body []byte) (int, error)

// fakeSender records every body and answers with respond (200 by default).
type fakeSender struct {
	mu      sync.Mutex
	bodies  [][]byte
	docs    []int
	respond respondFunc
}

func (f *fakeSender) Send(ctx context.Context, body []byte, docs int) (sender.Result, error) {
	f.mu.Lock()
	call := len(f.bodies)
	f.bodies = append(f.bodies, append([]byte(nil), body...))
	f.docs = append(f.docs, docs)
	f.mu.Unlock()

	status, err := 200, error(nil)
	if f.respond != nil {
		status, err = f.respond(ctx, call, body)
	}
	res := sender.Result{StatusCode: status, Docs: docs, Bytes: len(body), Latency: time.Microsecond}
	if err != nil {
		res.StatusCode = 0
	}
	return res, err
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func (f *fakeSender) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.docs...)
}

// ndjsonDocs returns the documents of every recorded NDJSON body, sorted.
func (f *fakeSender) ndjsonDocs(t *testing.T, action framing.ActionKind) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, body := range f.bodies {
		out = append(out, splitNDJSON(t, body, action)...)
	}
	sort.Strings(out)
	return out
}

func splitNDJSON(t *testing.T, body []byte, action framing.ActionKind) []string {
	t.Helper()
	lines := strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")
	require.Equal(t, 0, len(lines)%2, "action and document lines come in pairs")
	header := strings.TrimSuffix(string(action.TextHeader()), "\n")
	var docs []string
	for i := 0; i < len(lines); i += 2 {
		require.Equal(t, header, lines[i])
		docs = append(docs, lines[i+1])
	}
	return docs
}

// binaryPayloads decodes every recorded binary body.
func (f *fakeSender) binaryPayloads(t *testing.T, action framing.ActionKind) [][]byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	header := action.BinaryHeader()
	var out [][]byte
	for _, body := range f.bodies {
		r := bytes.NewReader(body)
		for r.Len() > 0 {
			got := make([]byte, len(header))
			_, err := io.ReadFull(r, got)
			require.NoError(t, err)
			require.Equal(t, header, got)

			var prefix [framing.LengthPrefixSize]byte
			_, err = io.ReadFull(r, prefix[:])
			require.NoError(t, err)
			payload := make([]byte, binary.BigEndian.Uint32(prefix[:]))
			_, err = io.ReadFull(r, payload)
			require.NoError(t, err)
			out = append(out, payload)
		}
	}
	return out
}

func expectedDocs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = docLine(i)
	}
	sort.Strings(out)
	return out
}

// countingInput counts Open calls and can fail or truncate selected ones.
type countingInput struct {
	source.Input
	opens    atomic.Int32
	failOpen int32 // 1-based call number that fails, 0 for none
	truncate  int64 // when > 0, opens after the first fullOpens see only this many bytes
	fullOpens int32
	delay    time.Duration
	onOpen   func(n int32)
}

func (c *countingInput) Open(ctx context.Context, offset int64) (io.ReadCloser, error) {
	n := c.opens.Add(1)
	if c.onOpen != nil {
		c.onOpen(n)
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.failOpen != 0 && n == c.failOpen {
		return nil, fmt.Errorf("open call %d: simulated failure", n)
	}
	rc, err := c.Input.Open(ctx, offset)
	if err != nil {
		return nil, err
	}
	if c.truncate > 0 && n > c.fullOpens {
		return struct {
			io.Reader
			io.Closer
		}{io.LimitReader(rc, c.truncate-offset), rc}, nil
	}
	return rc, nil
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 10 * time.Millisecond
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}
