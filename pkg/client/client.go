// Package client wires the session store, backend client, dispatcher,
// stream reconciler and history sync into one chat client, and owns the
// pieces that outlive a process: credentials and persisted sessions.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/parley/pkg/backend"
	"github.com/papercomputeco/parley/pkg/credentials"
	"github.com/papercomputeco/parley/pkg/dispatch"
	"github.com/papercomputeco/parley/pkg/dotdir"
	"github.com/papercomputeco/parley/pkg/history"
	"github.com/papercomputeco/parley/pkg/session"
	"github.com/papercomputeco/parley/pkg/stream"
)

// ErrLoggedOut is returned by Send after the backend rejected the token.
var ErrLoggedOut = errors.New("logged out: run \"parley auth login\"")

// Config configures a Client.
type Config struct {
	// Target is the backend URL.
	Target string

	// Token overrides the token stored in credentials.toml. Optional.
	Token string

	// IdleTimeout bounds silence on a stream. Defaults to
	// stream.DefaultIdleTimeout.
	IdleTimeout time.Duration

	// ConfigDir overrides .parley/ resolution. Optional.
	ConfigDir string

	// Persist restores sessions from sessions.json on start and writes
	// them back on Save.
	Persist bool

	// Transcript receives a copy of every stream's raw SSE bytes. Optional.
	Transcript io.Writer

	// HTTPClient overrides the transport. Optional.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client is a chat client bound to one backend.
type Client struct {
	target    string
	configDir string
	persist   bool

	store      *session.Store
	backend    *backend.Client
	history    *history.Sync
	reconciler *stream.Reconciler
	dispatcher *dispatch.Dispatcher

	creds *credentials.Manager
	dirs  *dotdir.Manager

	loggedOut atomic.Bool
	logger    *slog.Logger
}

// New creates a Client. When persistence is on, the previous session list is
// restored before New returns.
func New(c *Config) (*Client, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	creds, err := credentials.NewManager(c.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("opening credentials: %w", err)
	}

	token := c.Token
	if token == "" {
		token, err = creds.Token(c.Target)
		if err != nil {
			return nil, fmt.Errorf("loading token: %w", err)
		}
	}

	be, err := backend.New(&backend.Config{
		BaseURL:    c.Target,
		Token:      token,
		HTTPClient: c.HTTPClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	cl := &Client{
		target:    c.Target,
		configDir: c.ConfigDir,
		persist:   c.Persist,
		store:     session.NewStore(),
		backend:   be,
		creds:     creds,
		dirs:      dotdir.NewManager(),
		logger:    logger,
	}

	cl.history, err = history.New(&history.Config{
		Store:          cl.store,
		Backend:        be,
		OnUnauthorized: cl.expire,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	cl.reconciler, err = stream.New(&stream.Config{
		Store:       cl.store,
		Opener:      be,
		Syncer:      cl.history,
		IdleTimeout: c.IdleTimeout,
		Transcript:  c.Transcript,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	cl.dispatcher, err = dispatch.New(&dispatch.Config{
		Store:          cl.store,
		Sender:         be,
		Streamer:       cl.reconciler,
		Syncer:         cl.history,
		OnUnauthorized: cl.expire,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	if cl.persist {
		snap, err := cl.dirs.LoadSessions(cl.configDir)
		if err != nil {
			// A damaged state file should not keep the client from starting.
			logger.Warn("ignoring persisted sessions", "error", err)
		} else if snap != nil {
			cl.store.Restore(snap)
		}
	}

	return cl, nil
}

// Store returns the session store UIs render from.
func (c *Client) Store() *session.Store {
	return c.store
}

// Target returns the backend URL.
func (c *Client) Target() string {
	return c.target
}

// Authenticated reports whether a token is configured.
func (c *Client) Authenticated() bool {
	return c.backend.Token() != ""
}

// LoggedOut reports whether the backend rejected the token during this run.
func (c *Client) LoggedOut() bool {
	return c.loggedOut.Load()
}

// Send dispatches a prompt. See dispatch.Dispatcher.Dispatch.
func (c *Client) Send(ctx context.Context, req dispatch.Request) (*dispatch.Outcome, error) {
	if c.loggedOut.Load() {
		return nil, ErrLoggedOut
	}

	out, err := c.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	c.save()
	return out, nil
}

// NewSession creates and selects an empty session.
func (c *Client) NewSession() string {
	return c.store.Create()
}

// Open selects a session and loads its messages from the backend.
func (c *Client) Open(ctx context.Context, sessionID string) error {
	return c.history.Open(ctx, sessionID)
}

// Refresh reloads the chat list from the backend.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.history.Refresh(ctx); err != nil {
		return err
	}
	c.save()
	return nil
}

// Delete removes a session, deleting its chat on the backend when bound.
func (c *Client) Delete(ctx context.Context, sessionID string) error {
	if err := c.history.Remove(ctx, sessionID); err != nil {
		return err
	}
	c.save()
	return nil
}

// Login exchanges credentials for a token, stores it and starts using it.
func (c *Client) Login(ctx context.Context, username, password string) error {
	resp, err := c.backend.Login(ctx, username, password)
	if err != nil {
		return err
	}

	if err := c.creds.SetToken(c.target, resp.Token, resp.Username); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	c.backend.SetToken(resp.Token)
	c.loggedOut.Store(false)

	c.logger.Info("logged in", "target", c.target, "username", resp.Username)
	return nil
}

// Register creates an account on the backend.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.backend.Register(ctx, username, password)
}

// Logout forgets the token and every local session.
func (c *Client) Logout() error {
	c.backend.SetToken("")
	c.store.Reset()

	var errs []error
	if err := c.creds.Remove(c.target); err != nil {
		errs = append(errs, fmt.Errorf("removing token: %w", err))
	}
	if err := c.dirs.ClearSessions(c.configDir); err != nil {
		errs = append(errs, fmt.Errorf("clearing sessions: %w", err))
	}
	return errors.Join(errs...)
}

// Save writes the session list to sessions.json when persistence is on.
func (c *Client) Save() error {
	if !c.persist || c.loggedOut.Load() {
		return nil
	}
	return c.dirs.SaveSessions(c.store.Snapshot(), c.configDir)
}

// Close waits for background history refreshes and saves the session list.
func (c *Client) Close() error {
	c.history.Wait()
	return c.Save()
}

// expire is the logout hook for a 401 from any call. It runs at most once
// per login.
func (c *Client) expire() {
	if c.loggedOut.Swap(true) {
		return
	}

	c.logger.Warn("backend rejected the token, logging out", "target", c.target)
	if err := c.Logout(); err != nil {
		c.logger.Error("logging out", "error", err)
	}
}

func (c *Client) save() {
	if err := c.Save(); err != nil {
		c.logger.Warn("saving sessions", "error", err)
	}
}
