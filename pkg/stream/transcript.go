package stream

import (
	"io"
	"log/slog"
	"sync"
)

// transcriptWriter copies wire bytes to a best-effort destination. The first
// write failure is logged and turns the copy off; it never reaches the
// stream reading through it.
type transcriptWriter struct {
	mu     sync.Mutex
	dest   io.Writer
	failed bool
	logger *slog.Logger
}

func newTranscriptWriter(dest io.Writer, logger *slog.Logger) io.Writer {
	if dest == nil {
		return nil
	}
	return &transcriptWriter{dest: dest, logger: logger}
}

func (t *transcriptWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failed {
		return len(p), nil
	}
	if _, err := t.dest.Write(p); err != nil {
		t.failed = true
		t.logger.Warn("transcript write failed, no longer copying streams", "error", err)
	}
	return len(p), nil
}
