package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/stats"
)

func TestTickRates(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	start := time.Unix(1000, 0)
	r := NewReporter(stats.New(nil), time.Second, start, log, nil)

	prev := stats.Snapshot{DocsSent: 1000}
	snap := stats.Snapshot{DocsSent: 3000, BytesSent: 2 << 20}
	instant, avg := r.Tick(start.Add(4*time.Second), prev, start.Add(2*time.Second), snap)

	assert.InDelta(t, 1000.0, instant, 0.001)
	assert.InDelta(t, 750.0, avg, 0.001)
	assert.Contains(t, buf.String(), "docs_sent=3000")
	assert.Contains(t, buf.String(), "rate_per_sec=1000")
	assert.Contains(t, buf.String(), "component=reporter")
}

func TestRunStopsOnCancel(t *testing.T) {
	var buf syncBuffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	c := stats.New(nil)
	c.RecordSuccess(10, 100, time.Millisecond)

	r := NewReporter(c, 5*time.Millisecond, time.Now(), log, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return strings.Contains(buf.String(), "progress") }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop after cancel")
	}
}

func TestSummary(t *testing.T) {
	snap := stats.Snapshot{DocsAttempted: 1000, DocsSent: 800, DocsFailed: 200, BatchesSent: 8, BatchesFailed: 2, BytesSent: 123456}
	werr := errors.Join(fmt.Errorf("worker 1: %w", errors.New("unexpected EOF")), fmt.Errorf("worker 3: boom"))
	s := NewSummary(snap, time.Now(), 2*time.Second, werr)

	assert.InDelta(t, 400.0, s.DocsPerSec, 0.001)
	assert.True(t, s.Failed())
	assert.Equal(t, []string{"worker 1: unexpected EOF", "worker 3: boom"}, s.Errors)

	var out bytes.Buffer
	require.NoError(t, s.Print(&out))
	assert.Contains(t, out.String(), "documents sent:    800")
	assert.Contains(t, out.String(), "batches failed:    2")
	assert.Contains(t, out.String(), "400 docs/sec")
	assert.Contains(t, out.String(), "worker error:      worker 3: boom")

	js, err := s.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(js), `"docs_sent": 800`)
}

func TestSummaryElapsedNeverZero(t *testing.T) {
	s := NewSummary(stats.Snapshot{DocsSent: 5}, time.Now(), 0, nil)
	assert.Positive(t, s.Elapsed)
	assert.False(t, s.Failed())
}

func TestBatchLogParquet(t *testing.T) {
	l := NewBatchLog()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				l.Add(BatchRecord{Worker: int32(w), Seq: int64(i), Docs: 100, Bytes: 4096, StatusCode: 200, LatencyUS: 1500, SentAt: time.UnixMilli(1700000000000)})
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 100, l.Len())

	var buf bytes.Buffer
	require.NoError(t, l.WriteParquet(&buf))

	rows, err := parquet.Read[BatchRecord](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, rows, 100)
	var docs int64
	for _, r := range rows {
		docs += int64(r.Docs)
	}
	assert.Equal(t, int64(10000), docs)
}

func TestNilBatchLogDiscards(t *testing.T) {
	var l *BatchLog
	assert.NotPanics(t, func() { l.Add(BatchRecord{}) })
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
