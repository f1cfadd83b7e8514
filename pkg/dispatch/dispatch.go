// Package dispatch accepts a user prompt for a session and routes it to the
// backend, either as a single-shot request or through a stream reconciler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/papercomputeco/parley/pkg/backend"
	"github.com/papercomputeco/parley/pkg/session"
	"github.com/papercomputeco/parley/pkg/stream"
	"github.com/papercomputeco/parley/pkg/utils"
)

// TitleLength is how many runes of the first prompt become a session title.
const TitleLength = 30

var (
	// ErrEmptyPrompt is returned for a prompt that is blank after trimming.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrEmptyModel is returned when no model is named.
	ErrEmptyModel = errors.New("model is empty")

	// ErrReplyPending is returned for a session still waiting on a
	// single-shot reply.
	ErrReplyPending = errors.New("reply already pending for session")
)

// Sender performs single-shot chat requests.
type Sender interface {
	Send(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
}

// Streamer opens streaming replies.
type Streamer interface {
	Open(ctx context.Context, sessionID, prompt, model string) (*stream.Handle, error)
}

// Config configures a Dispatcher.
type Config struct {
	Store    *session.Store
	Sender   Sender
	Streamer Streamer

	// Syncer refreshes history after a single-shot send binds a new chat.
	// Optional.
	Syncer stream.Syncer

	// OnUnauthorized runs instead of recording an error reply when the
	// backend rejects the token. Optional.
	OnUnauthorized func()

	Logger *slog.Logger
}

// Request is one user submission.
type Request struct {
	// SessionID targets a session. Empty means the active session, or a new
	// one when nothing is selected.
	SessionID string
	Prompt    string
	Model     string
	Streaming bool
}

// Outcome describes what a dispatched request did.
type Outcome struct {
	SessionID string
	ChatID    int64

	// Streamed reports whether the reply went through a stream. State is
	// only meaningful when it did.
	Streamed bool
	State    stream.State

	// Err is the network or protocol failure, if any. The session already
	// reflects it.
	Err error
}

// Dispatcher routes prompts.
type Dispatcher struct {
	store          *session.Store
	sender         Sender
	streamer       Streamer
	syncer         stream.Syncer
	onUnauthorized func()
	logger         *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a Dispatcher.
func New(c *Config) (*Dispatcher, error) {
	if c.Store == nil {
		return nil, errors.New("dispatcher requires a session store")
	}
	if c.Sender == nil && c.Streamer == nil {
		return nil, errors.New("dispatcher requires a sender or a streamer")
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Dispatcher{
		store:          c.Store,
		sender:         c.Sender,
		streamer:       c.Streamer,
		syncer:         c.Syncer,
		onUnauthorized: c.OnUnauthorized,
		logger:         logger,
		pending:        make(map[string]struct{}),
	}, nil
}

// Dispatch validates req, records the user message and obtains the reply.
// It returns an error only when the request is rejected, in which case
// nothing was changed. Failures after the user message is recorded are
// reported through Outcome.Err.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, ErrEmptyModel
	}
	if req.Streaming && d.streamer == nil {
		return nil, errors.New("streaming is not configured")
	}
	if !req.Streaming && d.sender == nil {
		return nil, errors.New("single-shot sending is not configured")
	}

	id, err := d.resolve(req.SessionID, !req.Streaming)
	if err != nil {
		return nil, err
	}
	if !req.Streaming {
		defer d.release(id)
	}

	if _, err := d.store.AppendMessage(id, session.Message{Role: session.RoleUser, Content: prompt}); err != nil {
		return nil, err
	}

	sess, err := d.store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Title == session.DefaultTitle {
		if err := d.store.SetTitle(id, utils.TruncateRunes(prompt, TitleLength)); err != nil {
			d.logger.Debug("titling session", "session_id", id, "error", err)
		}
	}

	d.logger.Debug("dispatching prompt",
		"session_id", id,
		"chat_id", sess.ChatID,
		"model", model,
		"streaming", req.Streaming,
	)

	if req.Streaming {
		return d.stream(ctx, sess, prompt, model), nil
	}
	return d.send(ctx, sess, prompt, model), nil
}

// resolve picks the target session, creating one only when nothing is
// selected. A session with a reply in flight is refused before anything
// changes. With reserve set the session is marked pending until release.
func (d *Dispatcher) resolve(id string, reserve bool) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id == "" {
		id = d.store.ActiveID()
	}
	if id == "" {
		id = d.store.Create()
	} else {
		if _, err := d.store.Get(id); err != nil {
			return "", err
		}
		if d.store.StreamActive(id) {
			return "", session.ErrStreamActive
		}
		if _, ok := d.pending[id]; ok {
			return "", ErrReplyPending
		}
	}

	if reserve {
		d.pending[id] = struct{}{}
	}
	return id, nil
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
}

func (d *Dispatcher) stream(ctx context.Context, sess session.Session, prompt, model string) *Outcome {
	out := &Outcome{
		SessionID: sess.ID,
		ChatID:    sess.ChatID,
		Streamed:  true,
	}

	h, err := d.streamer.Open(ctx, sess.ID, prompt, model)
	if err != nil {
		out.State = stream.StateClosedError
		out.Err = fmt.Errorf("opening stream: %w", err)
		return out
	}

	out.State, out.Err = h.Wait()
	if chatID := h.BoundChatID(); out.ChatID == 0 && chatID != 0 {
		out.ChatID = chatID
	}
	d.checkAuth(out.Err)
	return out
}

func (d *Dispatcher) send(ctx context.Context, sess session.Session, prompt, model string) *Outcome {
	out := &Outcome{
		SessionID: sess.ID,
		ChatID:    sess.ChatID,
	}

	resp, err := d.sender.Send(ctx, backend.ChatRequest{
		Prompt: prompt,
		Model:  model,
		ChatID: sess.ChatID,
	})
	if err != nil {
		out.Err = err
		if d.checkAuth(err) {
			return out
		}

		d.logger.Warn("chat request failed",
			"session_id", sess.ID,
			"chat_id", sess.ChatID,
			"error", err,
		)
		if _, appendErr := d.store.AppendMessage(sess.ID, session.Message{
			Role:    session.RoleAssistant,
			Content: session.ErrorContent,
			Error:   true,
		}); appendErr != nil {
			out.Err = errors.Join(err, appendErr)
		}
		return out
	}

	if _, err := d.store.AppendMessage(sess.ID, session.Message{
		Role:    session.RoleAssistant,
		Content: resp.Response,
	}); err != nil {
		out.Err = fmt.Errorf("recording reply: %w", err)
		return out
	}

	switch {
	case resp.ChatID <= 0:
	case !sess.Bound():
		bound, err := d.store.BindChatID(sess.ID, resp.ChatID)
		if err != nil {
			d.logger.Warn("binding chat id",
				"session_id", sess.ID,
				"chat_id", resp.ChatID,
				"error", err,
			)
			break
		}
		out.ChatID = resp.ChatID
		if bound && d.syncer != nil {
			d.syncer.Trigger(context.WithoutCancel(ctx))
		}
	case resp.ChatID != sess.ChatID:
		d.logger.Warn("backend reported a different chat id for a bound session",
			"session_id", sess.ID,
			"chat_id", sess.ChatID,
			"reported_chat_id", resp.ChatID,
		)
	}

	return out
}

// checkAuth runs the logout hook for 401 failures and reports whether it
// did.
func (d *Dispatcher) checkAuth(err error) bool {
	if err == nil || !errors.Is(err, backend.ErrUnauthorized) {
		return false
	}
	if d.onUnauthorized != nil {
		d.onUnauthorized()
	}
	return true
}
