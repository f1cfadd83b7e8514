package testutils

import (
	"io"
	"strings"
	"sync/atomic"
)

// ScriptedStream is an SSE body a test writes events into while the code
// under test reads them. Writes block until the reader consumes them.
type ScriptedStream struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	closed atomic.Bool
}

// NewScriptedStream creates an open, empty stream.
func NewScriptedStream() *ScriptedStream {
	r, w := io.Pipe()
	return &ScriptedStream{r: r, w: w}
}

func (s *ScriptedStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// Close is called by the consumer to release the body.
func (s *ScriptedStream) Close() error {
	s.closed.Store(true)
	return s.r.Close()
}

// Closed reports whether the consumer released the body.
func (s *ScriptedStream) Closed() bool {
	return s.closed.Load()
}

// Send writes one data event.
func (s *ScriptedStream) Send(data string) error {
	_, err := io.WriteString(s.w, "data: "+data+"\n\n")
	return err
}

// Comment writes a keep-alive comment line.
func (s *ScriptedStream) Comment(text string) error {
	_, err := io.WriteString(s.w, ": "+text+"\n")
	return err
}

// End closes the stream cleanly; the reader sees EOF.
func (s *ScriptedStream) End() error {
	return s.w.Close()
}

// Fail breaks the stream; the reader sees err.
func (s *ScriptedStream) Fail(err error) error {
	return s.w.CloseWithError(err)
}

// StreamOf returns a finished body carrying the given data events.
func StreamOf(events ...string) io.ReadCloser {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString("data: " + ev + "\n\n")
	}
	return io.NopCloser(strings.NewReader(b.String()))
}
