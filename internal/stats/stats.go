// Package stats holds the shared accounting of a load run.
package stats

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/metrics"
)

// ErrUnaccounted is returned when the sent and failed documents of a finished
// run do not add up to the documents it planned to send.
var ErrUnaccounted = errors.New("documents unaccounted for")

// Counters is shared by every worker and the reporter. All methods are safe
// for concurrent use; reads are eventually consistent snapshots.
type Counters struct {
	docsAttempted  atomic.Int64
	docsSent       atomic.Int64
	docsFailed     atomic.Int64
	batchesSent    atomic.Int64
	batchesFailed  atomic.Int64
	bytesSent      atomic.Int64
	transportFails atomic.Int64

	metrics *metrics.Metrics
}

// New creates zeroed counters. m may be nil.
func New(m *metrics.Metrics) *Counters {
	return &Counters{metrics: m}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	DocsAttempted   int64 `json:"docs_attempted"`
	DocsSent        int64 `json:"docs_sent"`
	DocsFailed      int64 `json:"docs_failed"`
	BatchesSent     int64 `json:"batches_sent"`
	BatchesFailed   int64 `json:"batches_failed"`
	BytesSent       int64 `json:"bytes_sent"`
	TransportErrors int64 `json:"transport_errors"`
}

// Batches returns the number of bulk requests attempted.
func (s Snapshot) Batches() int64 { return s.BatchesSent + s.BatchesFailed }

// Reconcile checks that each of planned documents was counted exactly once,
// as sent or as part of a failed batch. A negative planned count is unknown
// up front and skips the check.
func (s Snapshot) Reconcile(planned int64) error {
	if planned < 0 {
		return nil
	}
	if got := s.DocsSent + s.DocsFailed; got != planned {
		return fmt.Errorf("%w: planned %d, sent %d, failed %d", ErrUnaccounted, planned, s.DocsSent, s.DocsFailed)
	}
	return nil
}

// RecordSuccess accounts a batch accepted by the endpoint.
func (c *Counters) RecordSuccess(docs, bytes int, latency time.Duration) {
	c.docsAttempted.Add(int64(docs))
	c.docsSent.Add(int64(docs))
	c.bytesSent.Add(int64(bytes))
	c.batchesSent.Add(1)
	if c.metrics != nil {
		c.metrics.ObserveBatch(true, docs, bytes, latency)
	}
}

// RecordFailure accounts a batch the endpoint answered with a failure status.
// Its bytes reached the endpoint and are counted; its documents are not sent.
func (c *Counters) RecordFailure(docs, bytes int, latency time.Duration) {
	c.docsAttempted.Add(int64(docs))
	c.docsFailed.Add(int64(docs))
	c.bytesSent.Add(int64(bytes))
	c.batchesFailed.Add(1)
	if c.metrics != nil {
		c.metrics.ObserveBatch(false, docs, bytes, latency)
	}
}

// RecordTransportError accounts a batch that got no HTTP response.
func (c *Counters) RecordTransportError(docs int) {
	c.docsAttempted.Add(int64(docs))
	c.docsFailed.Add(int64(docs))
	c.batchesFailed.Add(1)
	c.transportFails.Add(1)
	if c.metrics != nil {
		c.metrics.ObserveTransportError(docs)
	}
}

// DocsSent returns the running total of sent documents.
func (c *Counters) DocsSent() int64 { return c.docsSent.Load() }

// Snapshot copies the current values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		DocsAttempted:   c.docsAttempted.Load(),
		DocsSent:        c.docsSent.Load(),
		DocsFailed:      c.docsFailed.Load(),
		BatchesSent:     c.batchesSent.Load(),
		BatchesFailed:   c.batchesFailed.Load(),
		BytesSent:       c.bytesSent.Load(),
		TransportErrors: c.transportFails.Load(),
	}
}
