package report

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
)

// BatchRecord is one row of the per-batch log.
type BatchRecord struct {
	Worker     int32     `parquet:"worker"`
	Seq        int64     `parquet:"seq"`
	Docs       int32     `parquet:"docs"`
	Bytes      int64     `parquet:"bytes"`
	StatusCode int32     `parquet:"status_code"` // 0 on transport failure
	LatencyUS  int64     `parquet:"latency_us"`
	SentAt     time.Time `parquet:"sent_at,timestamp(millisecond)"`
}

// BatchLog collects batch records from all workers.
type BatchLog struct {
	mu      sync.Mutex
	records []BatchRecord
}

// NewBatchLog creates an empty log.
func NewBatchLog() *BatchLog {
	return &BatchLog{}
}

// Add appends a record. Safe for concurrent use; a nil log discards.
func (l *BatchLog) Add(rec BatchRecord) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
}

// Len returns the number of records.
func (l *BatchLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a copy of the records.
func (l *BatchLog) Records() []BatchRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]BatchRecord(nil), l.records...)
}

// WriteParquet encodes the log as a zstd-compressed parquet file.
func (l *BatchLog) WriteParquet(w io.Writer) error {
	rows := l.Records()

	pw := parquet.NewGenericWriter[BatchRecord](w, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write batch rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
