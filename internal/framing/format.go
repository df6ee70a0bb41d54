package framing

import (
	"fmt"
	"net/http"
	"strings"
)

// Format is the wire format of both the input file and the bulk body.
type Format int

const (
	// FormatNDJSON is one JSON document per line.
	FormatNDJSON Format = iota
	// FormatBinary is a sequence of [int32 BE length][payload] records.
	FormatBinary
)

const (
	ContentTypeNDJSON = "application/x-ndjson"
	ContentTypeSmile  = "application/smile"

	// BulkFormatHeader tells the endpoint that every entry is length prefixed.
	BulkFormatHeader = "Bulk-Format"
	BulkFormatPrefix = "prefix-length"
)

// ParseFormat parses "ndjson" or "binary" ("smile" is accepted as an alias).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ndjson", "json":
		return FormatNDJSON, nil
	case "binary", "smile":
		return FormatBinary, nil
	default:
		return FormatNDJSON, fmt.Errorf("unknown format %q", s)
	}
}

func (f Format) String() string {
	if f == FormatBinary {
		return "binary"
	}
	return "ndjson"
}

// ContentType returns the Content-Type of a bulk body in this format.
func (f Format) ContentType() string {
	if f == FormatBinary {
		return ContentTypeSmile
	}
	return ContentTypeNDJSON
}

// SetHeaders sets the content headers for a bulk request body.
func (f Format) SetHeaders(h http.Header) {
	h.Set("Content-Type", f.ContentType())
	if f == FormatBinary {
		h.Set(BulkFormatHeader, BulkFormatPrefix)
	}
}

// Append frames one source record into dst using the format's framing.
func (f Format) Append(dst []byte, action ActionKind, record []byte) []byte {
	if f == FormatBinary {
		return AppendRecord(dst, action, record)
	}
	return AppendLine(dst, action, record)
}

// AppendLine appends the action line, the document line and a newline.
func AppendLine(dst []byte, action ActionKind, line []byte) []byte {
	dst = append(dst, action.TextHeader()...)
	dst = append(dst, line...)
	return append(dst, '\n')
}
