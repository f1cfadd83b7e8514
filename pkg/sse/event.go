// Package sse provides a minimal SSE (Server-Sent Events) reader for the
// chat stream endpoint. It parses events from the backend's response body
// and can optionally copy the raw bytes to a transcript writer.
//
// This package does NOT provide SSE writer or server capabilities.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single parsed SSE event, delimited by a blank line
// in the byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the SSE spec.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n".
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string
}
