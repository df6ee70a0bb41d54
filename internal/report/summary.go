package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/stats"
)

// Summary is the outcome of a run.
type Summary struct {
	RunID      string         `json:"run_id"`
	Endpoint   string         `json:"endpoint"`
	Format     string         `json:"format"`
	Workers    int            `json:"workers"`
	BulkSize   int            `json:"bulk_size"`
	Counters   stats.Snapshot `json:"counters"`
	StartedAt  time.Time      `json:"started_at"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
	DocsPerSec float64        `json:"docs_per_sec"`
	Errors     []string       `json:"worker_errors,omitempty"`
}

// minElapsed keeps throughput finite when a run finishes within clock resolution.
const minElapsed = time.Microsecond

// NewSummary computes throughput over the elapsed time since release.
func NewSummary(snap stats.Snapshot, startedAt time.Time, elapsed time.Duration, workerErr error) *Summary {
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	s := &Summary{
		Counters:   snap,
		StartedAt:  startedAt,
		Elapsed:    elapsed,
		DocsPerSec: float64(snap.DocsSent) / elapsed.Seconds(),
	}
	s.Errors = flatten(workerErr)
	return s
}

func flatten(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

// Failed reports whether any batch was rejected or any worker stopped early.
func (s *Summary) Failed() bool {
	return s.Counters.BatchesFailed > 0 || len(s.Errors) > 0
}

// Print writes the human readable summary.
func (s *Summary) Print(w io.Writer) error {
	c := s.Counters
	_, err := fmt.Fprintf(w, `
Run %s finished
  documents sent:    %s
  documents failed:  %s
  batches sent:      %s
  batches failed:    %s
  bytes sent:        %s
  elapsed:           %s
  throughput:        %s docs/sec
`,
		s.RunID,
		humanize.Comma(c.DocsSent),
		humanize.Comma(c.DocsFailed),
		humanize.Comma(c.BatchesSent),
		humanize.Comma(c.BatchesFailed),
		humanize.Bytes(uint64(c.BytesSent)),
		s.Elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(s.DocsPerSec, 1),
	)
	if err != nil {
		return err
	}
	for _, e := range s.Errors {
		if _, err := fmt.Fprintf(w, "  worker error:      %s\n", e); err != nil {
			return err
		}
	}
	return nil
}

// JSON encodes the summary.
func (s *Summary) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
