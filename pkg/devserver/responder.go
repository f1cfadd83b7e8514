package devserver

import (
	"context"
	"fmt"
	"strings"
)

// Responder produces the assistant reply to a prompt as an ordered list of
// chunks. Joining the chunks yields the full reply.
type Responder interface {
	Respond(ctx context.Context, model, prompt string) ([]string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, model, prompt string) ([]string, error)

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, model, prompt string) ([]string, error) {
	return f(ctx, model, prompt)
}

// EchoResponder answers every prompt by repeating it, one word per chunk.
type EchoResponder struct{}

// Respond implements Responder.
func (EchoResponder) Respond(_ context.Context, model, prompt string) ([]string, error) {
	return SplitWords(fmt.Sprintf("(%s) You said: %s", model, prompt)), nil
}

// SplitWords splits s after every space. The chunks concatenate back to s.
func SplitWords(s string) []string {
	var out []string
	for _, w := range strings.SplitAfter(s, " ") {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
