package sse

import (
	"bufio"
	"io"
	"strings"
)

const (
	initialBufSize = 64 * 1024
	maxLineSize    = 1024 * 1024
)

// Reader reads SSE events from a source io.Reader. When constructed with
// NewTeeReader, every raw line is also written verbatim to a destination
// writer, which the stream reconciler uses for wire transcripts.
type Reader struct {
	scanner *bufio.Scanner
	dest    io.Writer

	// current accumulates fields for the event being built in the current scan.
	current *Event
	hasData bool
}

// NewReader returns a Reader that parses SSE events from src.
func NewReader(src io.Reader) *Reader {
	return NewTeeReader(src, nil)
}

// NewTeeReader returns a Reader that parses SSE events from src and writes
// all raw bytes through to dest. A nil dest disables the tee.
func NewTeeReader(src io.Reader, dest io.Writer) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, initialBufSize), maxLineSize)

	return &Reader{
		scanner: scanner,
		dest:    dest,
		current: &Event{},
	}
}

// Next returns the next parsed SSE event. It blocks until a complete event
// is available (terminated by a blank line in the stream).
// Next returns nil, nil when the source is exhausted.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		raw := r.scanner.Text()

		if r.dest != nil {
			// bufio.Scanner strips the newline, reinsert it for the copy.
			if _, err := io.WriteString(r.dest, raw+"\n"); err != nil {
				return nil, err
			}
		}

		// A blank line signals the end of the current event.
		if raw == "" {
			if r.hasData {
				ev := r.current
				r.reset()
				return ev, nil
			}

			// Leading blank lines or keep-alive newlines.
			continue
		}

		// Lines starting with ':' are comments.
		if strings.HasPrefix(raw, ":") {
			continue
		}

		r.parseLine(raw)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// Stream ended without a trailing blank line: yield what we have.
	if r.hasData {
		ev := r.current
		r.reset()
		return ev, nil
	}

	return nil, nil
}

// parseLine processes a single non-empty, non-comment SSE line of the form
// "field:value", where one space after the colon is optional.
func (r *Reader) parseLine(line string) {
	var field, value string

	if before, after, ok := strings.Cut(line, ":"); ok {
		field = before
		value = strings.TrimPrefix(after, " ")
	} else {
		// No colon: the whole line is the field name with an empty value.
		field = line
	}

	switch field {
	case "data":
		if r.hasData && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.hasData = true
	case "event":
		r.current.Type = value
		r.hasData = true
	case "id":
		r.current.ID = value
		r.hasData = true
	default:
		// "retry" and unknown fields are ignored per the SSE spec.
	}
}

func (r *Reader) reset() {
	r.current = &Event{}
	r.hasData = false
}
