package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/parley/pkg/backend"
	"github.com/papercomputeco/parley/pkg/session"
	"github.com/papercomputeco/parley/pkg/sse"
	"github.com/papercomputeco/parley/pkg/utils"
)

// ErrUpstreamFailure is the close cause when the backend reports a failure
// through the stream itself.
var ErrUpstreamFailure = errors.New("backend reported a stream failure")

// Opener opens the SSE channel for a streaming send.
type Opener interface {
	Stream(ctx context.Context, req backend.StreamRequest) (io.ReadCloser, error)
}

// Syncer refreshes the chat history in the background.
type Syncer interface {
	Trigger(ctx context.Context)
}

// Config configures a Reconciler.
type Config struct {
	Store  *session.Store
	Opener Opener

	// Syncer is told to refresh history when a stream binds a new chat.
	// Optional.
	Syncer Syncer

	// IdleTimeout closes a stream that produced no event for this long.
	// Defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Transcript receives a verbatim copy of every stream's wire bytes.
	// Optional. A failing transcript is dropped without affecting streams.
	Transcript io.Writer

	Logger *slog.Logger
}

// Reconciler drives streams into the session store.
type Reconciler struct {
	store       *session.Store
	opener      Opener
	syncer      Syncer
	idleTimeout time.Duration
	transcript  io.Writer
	logger      *slog.Logger
}

// New creates a Reconciler.
func New(c *Config) (*Reconciler, error) {
	if c.Store == nil {
		return nil, errors.New("reconciler requires a session store")
	}
	if c.Opener == nil {
		return nil, errors.New("reconciler requires a stream opener")
	}

	idle := c.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Reconciler{
		store:       c.Store,
		opener:      c.Opener,
		syncer:      c.Syncer,
		idleTimeout: idle,
		transcript:  newTranscriptWriter(c.Transcript, logger),
		logger:      logger,
	}, nil
}

// Open appends an empty assistant message to the session and starts
// streaming the reply to prompt into it. It fails without side effects when
// the session is unknown or already streaming. The returned handle closes on
// its own; cancelling ctx or calling Close ends it early.
func (r *Reconciler) Open(ctx context.Context, sessionID, prompt, model string) (*Handle, error) {
	sess, err := r.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	msg, err := r.store.BeginStream(sessionID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(sessionID, msg.ID, cancel)

	req := backend.StreamRequest{
		Prompt: prompt,
		Model:  model,
		ChatID: sess.ChatID,
	}

	r.logger.Debug("stream opened",
		"session_id", sessionID,
		"chat_id", sess.ChatID,
		"model", model,
	)

	go r.run(runCtx, h, req, sess.Bound())
	return h, nil
}

// Run opens a stream and waits for it to close. An Open failure is returned
// with StateClosedError.
func (r *Reconciler) Run(ctx context.Context, sessionID, prompt, model string) (State, error) {
	h, err := r.Open(ctx, sessionID, prompt, model)
	if err != nil {
		return StateClosedError, err
	}
	return h.Wait()
}

func (r *Reconciler) run(ctx context.Context, h *Handle, req backend.StreamRequest, wasBound bool) {
	defer close(h.done)
	defer h.cancel()

	state, err := r.consume(ctx, h, req, wasBound)

	if endErr := r.store.EndStream(h.SessionID, h.MessageID, state == StateClosedError); endErr != nil {
		// The session vanished under the stream, e.g. a logout reset.
		r.logger.Debug("releasing stream target",
			"session_id", h.SessionID,
			"error", endErr,
		)
	}
	h.finish(state, err)

	if state == StateClosedError && !wasBound && h.BoundChatID() != 0 {
		r.trigger(ctx)
	}

	attrs := []any{
		"session_id", h.SessionID,
		"chat_id", h.BoundChatID(),
		"state", state.String(),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		r.logger.Warn("stream closed", attrs...)
		return
	}
	r.logger.Debug("stream closed", attrs...)
}

// consume pumps events until the stream reaches a closed state. A reader
// goroutine opens the channel and forwards parsed events; this loop applies
// them and races completion against the idle timer and cancellation.
func (r *Reconciler) consume(ctx context.Context, h *Handle, req backend.StreamRequest, wasBound bool) (State, error) {
	p := &pump{
		events: make(chan *sse.Event),
		errc:   make(chan error, 1),
		stop:   make(chan struct{}),
	}

	p.wg.Add(1)
	go p.read(ctx, r.opener, req, r.transcript)
	defer p.shutdown(h.cancel)

	timer := time.NewTimer(r.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return StateClosedError, ctx.Err()

		case <-timer.C:
			return StateClosedTimeout, nil

		case err := <-p.errc:
			if ctx.Err() != nil {
				return StateClosedError, ctx.Err()
			}
			if err != nil {
				return StateClosedError, err
			}
			return StateClosedComplete, nil

		case ev := <-p.events:
			timer.Reset(r.idleTimeout)

			for _, frag := range Decode(ev.Data) {
				switch frag.Kind {
				case KindChatID:
					r.bind(ctx, h, frag.ChatID, req.ChatID, wasBound)

				case KindText:
					if err := r.store.AppendFragment(h.SessionID, h.MessageID, frag.Text); err != nil {
						return StateClosedError, fmt.Errorf("applying fragment: %w", err)
					}

				case KindDone:
					return StateClosedComplete, nil

				case KindFailure:
					return StateClosedError, ErrUpstreamFailure

				default:
					r.logger.Debug("dropping unrecognized stream event",
						"session_id", h.SessionID,
						"data", utils.Truncate(strings.TrimSpace(ev.Data), 120),
					)
				}
			}
		}
	}
}

// bind handles a reported chat id. Only the first report per stream counts.
// An unbound session is bound and history is refreshed once.
func (r *Reconciler) bind(ctx context.Context, h *Handle, chatID, sessionChatID int64, wasBound bool) {
	if !h.bind(chatID) {
		return
	}

	if wasBound {
		if chatID != sessionChatID {
			r.logger.Warn("backend reported a different chat id for a bound session",
				"session_id", h.SessionID,
				"chat_id", sessionChatID,
				"reported_chat_id", chatID,
			)
		}
		return
	}

	bound, err := r.store.BindChatID(h.SessionID, chatID)
	if err != nil {
		r.logger.Warn("binding chat id",
			"session_id", h.SessionID,
			"chat_id", chatID,
			"error", err,
		)
		return
	}
	if bound {
		r.logger.Debug("session bound",
			"session_id", h.SessionID,
			"chat_id", chatID,
		)
		r.trigger(ctx)
	}
}

func (r *Reconciler) trigger(ctx context.Context) {
	if r.syncer == nil {
		return
	}
	// The refresh outlives the stream that asked for it.
	r.syncer.Trigger(context.WithoutCancel(ctx))
}

// pump owns the reader goroutine of one stream and the body it reads.
type pump struct {
	events chan *sse.Event
	errc   chan error
	stop   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	body    io.ReadCloser
	stopped bool
}

// read opens the channel and forwards events until the source is exhausted
// (nil on errc), fails (the error on errc) or the pump is stopped.
func (p *pump) read(ctx context.Context, opener Opener, req backend.StreamRequest, transcript io.Writer) {
	defer p.wg.Done()

	body, err := opener.Stream(ctx, req)
	if err != nil {
		p.errc <- fmt.Errorf("opening stream: %w", err)
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		_ = body.Close()
		return
	}
	p.body = body
	p.mu.Unlock()

	rd := sse.NewTeeReader(body, transcript)
	for {
		ev, err := rd.Next()
		if err != nil || ev == nil {
			p.errc <- err
			return
		}

		select {
		case p.events <- ev:
		case <-p.stop:
			return
		}
	}
}

// shutdown stops the reader goroutine, releases the body and waits for the
// goroutine to exit.
func (p *pump) shutdown(cancel context.CancelFunc) {
	cancel()

	p.mu.Lock()
	p.stopped = true
	close(p.stop)
	if p.body != nil {
		_ = p.body.Close()
	}
	p.mu.Unlock()

	p.wg.Wait()
}
