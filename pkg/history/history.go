// Package history keeps the session store in step with the backend's chat
// history: listing chats, loading a chat's messages and deleting chats.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/parley/pkg/backend"
	"github.com/papercomputeco/parley/pkg/session"
)

// Backend is the part of the backend client history needs.
type Backend interface {
	ListChats(ctx context.Context) ([]backend.Chat, error)
	ListMessages(ctx context.Context, chatID int64) ([]backend.HistoryMessage, error)
	DeleteChat(ctx context.Context, chatID int64) error
}

// Config configures a Sync.
type Config struct {
	Store   *session.Store
	Backend Backend

	// OnUnauthorized runs when the backend rejects the token. Optional.
	OnUnauthorized func()

	Logger *slog.Logger
}

// Sync mirrors backend history into the session store.
type Sync struct {
	store          *session.Store
	backend        Backend
	onUnauthorized func()
	logger         *slog.Logger

	// wg tracks refreshes started by Trigger.
	wg sync.WaitGroup
}

// New creates a Sync.
func New(c *Config) (*Sync, error) {
	if c.Store == nil {
		return nil, errors.New("history sync requires a session store")
	}
	if c.Backend == nil {
		return nil, errors.New("history sync requires a backend")
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Sync{
		store:          c.Store,
		backend:        c.Backend,
		onUnauthorized: c.OnUnauthorized,
		logger:         logger,
	}, nil
}

// Refresh fetches the chat list and replaces the store's bound sessions
// with it.
func (s *Sync) Refresh(ctx context.Context) error {
	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		s.checkAuth(err)
		return fmt.Errorf("refreshing history: %w", err)
	}

	summaries := make([]session.Summary, 0, len(chats))
	for _, c := range chats {
		summaries = append(summaries, session.Summary{
			ChatID:    c.ID,
			Title:     c.Title,
			CreatedAt: parseTime(c.CreatedAt),
		})
	}
	s.store.SyncRemote(summaries)

	s.logger.Debug("history refreshed", "chats", len(summaries))
	return nil
}

// Remove deletes a session. A bound session is deleted on the backend first
// and only removed locally once that succeeds.
func (s *Sync) Remove(ctx context.Context, sessionID string) error {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return err
	}

	if sess.Bound() {
		if err := s.backend.DeleteChat(ctx, sess.ChatID); err != nil {
			s.checkAuth(err)
			return fmt.Errorf("deleting chat %d: %w", sess.ChatID, err)
		}
	}

	if err := s.store.Delete(sessionID); err != nil {
		return err
	}

	s.logger.Debug("session removed",
		"session_id", sessionID,
		"chat_id", sess.ChatID,
	)
	return nil
}

// Open selects a session and, when it is bound and not streaming, loads
// its messages from the backend.
func (s *Sync) Open(ctx context.Context, sessionID string) error {
	if err := s.store.Select(sessionID); err != nil {
		return err
	}

	sess, err := s.store.Get(sessionID)
	if err != nil {
		return err
	}
	if !sess.Bound() || s.store.StreamActive(sessionID) {
		return nil
	}

	stored, err := s.backend.ListMessages(ctx, sess.ChatID)
	if err != nil {
		s.checkAuth(err)
		return fmt.Errorf("loading chat %d: %w", sess.ChatID, err)
	}

	msgs := make([]session.Message, 0, len(stored))
	for _, m := range stored {
		role, ok := mapRole(m.Role)
		if !ok {
			s.logger.Debug("skipping message with unknown role",
				"chat_id", sess.ChatID,
				"role", m.Role,
			)
			continue
		}
		msgs = append(msgs, session.Message{
			Role:      role,
			Content:   m.Text,
			CreatedAt: parseTime(m.CreatedAt),
		})
	}

	return s.store.Hydrate(sessionID, msgs)
}

// Trigger starts a Refresh in the background. Failures are logged.
func (s *Sync) Trigger(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Refresh(ctx); err != nil {
			s.logger.Warn("background history refresh failed", "error", err)
		}
	}()
}

// Wait blocks until every triggered refresh has finished.
func (s *Sync) Wait() {
	s.wg.Wait()
}

func (s *Sync) checkAuth(err error) {
	if errors.Is(err, backend.ErrUnauthorized) && s.onUnauthorized != nil {
		s.onUnauthorized()
	}
}

// mapRole translates backend roles. The backend stores replies as "ai".
func mapRole(role string) (session.Role, bool) {
	switch role {
	case "user":
		return session.RoleUser, true
	case "ai", "assistant":
		return session.RoleAssistant, true
	default:
		return "", false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTime accepts the timestamp shapes the backend emits; anything else
// yields the zero time, which the store replaces with now.
func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
