// Package framing encodes bulk request bodies and decodes the length-prefixed
// binary record format.
package framing

import (
	"fmt"
	"strings"
)

// ActionKind selects the per-document action header of a bulk request.
type ActionKind int

const (
	// ActionIndex upserts into a mutable index.
	ActionIndex ActionKind = iota
	// ActionCreate appends to a data stream, which only accepts create.
	ActionCreate
)

// Text action lines, newline terminated.
var (
	indexLine  = []byte("{\"index\":{}}\n")
	createLine = []byte("{\"create\":{}}\n")
)

// Length-prefixed Smile encodings of the same action objects.
var (
	// {"index":{}}
	smileIndexAction = []byte{
		0x00, 0x00, 0x00, 0x0E, // payload length 14
		0x3A, 0x29, 0x0A, 0x01, // smile header
		0xFA,                               // start root object
		0x84, 0x69, 0x6E, 0x64, 0x65, 0x78, // short field name "index"
		0xFA, 0xFB, // empty object value
		0xFB, // end root object
	}

	// {"create":{}}
	smileCreateAction = []byte{
		0x00, 0x00, 0x00, 0x0F, // payload length 15
		0x3A, 0x29, 0x0A, 0x01,
		0xFA,
		0x85, 0x63, 0x72, 0x65, 0x61, 0x74, 0x65, // short field name "create"
		0xFA, 0xFB,
		0xFB,
	}
)

// ActionForTarget returns ActionCreate for data streams and ActionIndex otherwise.
func ActionForTarget(dataStream bool) ActionKind {
	if dataStream {
		return ActionCreate
	}
	return ActionIndex
}

// ParseActionKind parses "index" or "create".
func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "index":
		return ActionIndex, nil
	case "create":
		return ActionCreate, nil
	default:
		return ActionIndex, fmt.Errorf("unknown action %q", s)
	}
}

func (a ActionKind) String() string {
	if a == ActionCreate {
		return "create"
	}
	return "index"
}

// TextHeader returns the newline-terminated JSON action line.
func (a ActionKind) TextHeader() []byte {
	if a == ActionCreate {
		return createLine
	}
	return indexLine
}

// BinaryHeader returns the length-prefixed Smile action record.
func (a ActionKind) BinaryHeader() []byte {
	if a == ActionCreate {
		return smileCreateAction
	}
	return smileIndexAction
}
