package loadgen

import "github.com/withObsrvr/obsrvr-bulk-loadgen/internal/framing"

// batch accumulates framed documents for one bulk request. It is owned by a
// single worker and reused across flushes.
type batch struct {
	format framing.Format
	action framing.ActionKind
	buf    []byte
	docs   int
}

func newBatch(format framing.Format, action framing.ActionKind, sizeHint int) *batch {
	return &batch{format: format, action: action, buf: make([]byte, 0, sizeHint)}
}

func (b *batch) add(doc []byte) {
	b.buf = b.format.Append(b.buf, b.action, doc)
	b.docs++
}

func (b *batch) empty() bool { return b.docs == 0 }

func (b *batch) reset() {
	b.buf = b.buf[:0]
	b.docs = 0
}
