package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is an in-memory, mutex-guarded collection of sessions.
type Store struct {
	// mu guards every field below.
	mu sync.RWMutex

	// sessions maps local session id to session.
	sessions map[string]*Session

	// order is the display order of session ids, newest first.
	order []string

	// active is the selected session id, empty for "no session".
	active string

	// streams maps session id to the id of the assistant message an open
	// stream is assembling.
	streams map[string]string

	subs    map[int]chan struct{}
	nextSub int

	now func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		streams:  make(map[string]string),
		subs:     make(map[int]chan struct{}),
		now:      time.Now,
	}
}

// Create adds a new unassigned session at the top of the list, selects it
// and returns its id.
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: s.now(),
	}
	s.sessions[sess.ID] = sess
	s.order = append([]string{sess.ID}, s.order...)
	s.active = sess.ID

	s.notify()
	return sess.ID
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return copySession(sess), nil
}

// List returns copies of all sessions in display order.
func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copySession(s.sessions[id]))
	}
	return out
}

// FindByChatID returns the id of the session bound to chatID.
func (s *Store) FindByChatID(chatID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := s.findByChatIDLocked(chatID)
	return id, id != ""
}

// Active returns the selected session, if any.
func (s *Store) Active() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active == "" {
		return Session{}, false
	}
	return copySession(s.sessions[s.active]), true
}

// ActiveID returns the selected session id, empty when none is selected.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Select makes id the active session.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.active != id {
		s.active = id
		s.notify()
	}
	return nil
}

// ClearSelection switches the active selection to "no session".
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" {
		s.active = ""
		s.notify()
	}
}

// SetTitle changes the display label of a session.
func (s *Store) SetTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Title = title
	s.notify()
	return nil
}

// AppendMessage appends msg to the end of the session. ID and CreatedAt are
// filled in when empty. Appending is refused while a stream is assembling
// the session's last message.
func (s *Store) AppendMessage(id string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if _, streaming := s.streams[id]; streaming {
		return Message{}, ErrStreamActive
	}

	msg = s.stamp(msg)
	sess.Messages = append(sess.Messages, msg)

	s.notify()
	return msg, nil
}

// BindChatID assigns the server chat id to an unassigned session. It returns
// false without changing anything when the session is already bound.
//
// If another session already carries chatID (a history refresh can list a
// freshly created chat before the stream that created it reports the id),
// that placeholder is folded into this one when it holds no messages.
func (s *Store) BindChatID(id string, chatID int64) (bool, error) {
	if chatID <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidChatID, chatID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if sess.ChatID != 0 {
		return false, nil
	}

	if other := s.findByChatIDLocked(chatID); other != "" {
		dup := s.sessions[other]
		_, streaming := s.streams[other]
		if len(dup.Messages) > 0 || streaming {
			return false, fmt.Errorf("chat %d already bound to session %s", chatID, other)
		}
		if sess.Title == DefaultTitle && dup.Title != "" {
			sess.Title = dup.Title
		}
		s.removeLocked(other)
	}

	sess.ChatID = chatID
	s.notify()
	return true, nil
}

// StreamActive reports whether the session has an open stream.
func (s *Store) StreamActive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.streams[id]
	return ok
}

// BeginStream appends an empty assistant message and marks it as the
// session's stream target. Only one target may exist per session.
func (s *Store) BeginStream(id string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if _, streaming := s.streams[id]; streaming {
		return Message{}, ErrStreamActive
	}

	msg := s.stamp(Message{Role: RoleAssistant})
	sess.Messages = append(sess.Messages, msg)
	s.streams[id] = msg.ID

	s.notify()
	return msg, nil
}

// AppendFragment concatenates text onto the stream target message.
// Empty fragments are accepted and change nothing.
func (s *Store) AppendFragment(id, msgID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if target, streaming := s.streams[id]; !streaming || target != msgID {
		return ErrNotStreamTarget
	}
	if text == "" {
		return nil
	}

	// The target is always the last message while the stream is open.
	last := &sess.Messages[len(sess.Messages)-1]
	last.Content += text

	s.notify()
	return nil
}

// EndStream releases the stream target; no fragment can be applied to the
// message afterwards. When failed is set and nothing arrived, the message
// is finalized with the error-indicator payload.
func (s *Store) EndStream(id, msgID string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target, streaming := s.streams[id]; !streaming || target != msgID {
		return ErrNotStreamTarget
	}
	delete(s.streams, id)

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if failed {
		last := &sess.Messages[len(sess.Messages)-1]
		if last.ID == msgID && last.Content == "" {
			last.Content = ErrorContent
			last.Error = true
		}
	}

	s.notify()
	return nil
}

// Delete removes a session. If it was active, the selection becomes
// "no session".
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.removeLocked(id)

	s.notify()
	return nil
}

// SyncRemote replaces the bound sessions with the backend's chat list.
// Existing sessions keep their id and messages; chats not yet known locally
// are added without messages; bound sessions missing from remote are
// dropped unless a stream is open on them. Unassigned local sessions stay
// at the top of the list.
func (s *Store) SyncRemote(remote []Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byChat := make(map[int64]string, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.ChatID != 0 {
			byChat[sess.ChatID] = id
		}
	}

	order := make([]string, 0, len(remote)+len(s.order))
	kept := make(map[string]bool, len(remote)+len(s.order))

	for _, id := range s.order {
		sess := s.sessions[id]
		_, streaming := s.streams[id]
		if sess.ChatID == 0 || (streaming && !containsChat(remote, sess.ChatID)) {
			order = append(order, id)
			kept[id] = true
		}
	}

	for _, r := range remote {
		if r.ChatID <= 0 {
			continue
		}
		id, ok := byChat[r.ChatID]
		if ok && kept[id] {
			continue
		}
		if !ok {
			created := r.CreatedAt
			if created.IsZero() {
				created = s.now()
			}
			sess := &Session{
				ID:        uuid.NewString(),
				ChatID:    r.ChatID,
				Title:     DefaultTitle,
				CreatedAt: created,
			}
			s.sessions[sess.ID] = sess
			id = sess.ID
			byChat[r.ChatID] = id
		}
		if r.Title != "" {
			s.sessions[id].Title = r.Title
		}
		order = append(order, id)
		kept[id] = true
	}

	for id := range s.sessions {
		if !kept[id] {
			delete(s.sessions, id)
			delete(s.streams, id)
		}
	}
	if s.active != "" && !kept[s.active] {
		s.active = ""
	}
	s.order = order

	s.notify()
}

// Hydrate replaces the messages of a session with msgs loaded from history.
func (s *Store) Hydrate(id string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if _, streaming := s.streams[id]; streaming {
		return ErrStreamActive
	}

	loaded := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		loaded = append(loaded, s.stamp(m))
	}
	sess.Messages = loaded

	s.notify()
	return nil
}

// Reset drops every session and the selection.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*Session)
	s.streams = make(map[string]string)
	s.order = nil
	s.active = ""

	s.notify()
}

// Snapshot returns a persistable copy of the store.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Active:   s.active,
		Sessions: make([]Session, 0, len(s.order)),
	}
	for _, id := range s.order {
		snap.Sessions = append(snap.Sessions, copySession(s.sessions[id]))
	}
	return snap
}

// Restore replaces the store contents with snap. Stream targets are not
// persisted, so every restored message is immutable.
func (s *Store) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*Session)
	s.streams = make(map[string]string)
	s.order = nil
	s.active = ""

	if snap != nil {
		for _, sess := range snap.Sessions {
			if sess.ID == "" {
				continue
			}
			if _, dup := s.sessions[sess.ID]; dup {
				continue
			}
			restored := copySession(&sess)
			s.sessions[sess.ID] = &restored
			s.order = append(s.order, sess.ID)
		}
		if _, ok := s.sessions[snap.Active]; ok {
			s.active = snap.Active
		}
	}

	s.notify()
}

// Subscribe returns a channel that receives a value after every change.
// Notifications coalesce: a slow reader sees at least one pending value,
// not one per change. The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	key := s.nextSub
	s.nextSub++
	s.subs[key] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, key)
	}
}

// notify signals every subscriber. Callers hold mu.
func (s *Store) notify() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) stamp(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	return msg
}

func (s *Store) findByChatIDLocked(chatID int64) string {
	if chatID == 0 {
		return ""
	}
	for id, sess := range s.sessions {
		if sess.ChatID == chatID {
			return id
		}
	}
	return ""
}

func (s *Store) removeLocked(id string) {
	delete(s.sessions, id)
	delete(s.streams, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	if s.active == id {
		s.active = ""
	}
}

func containsChat(remote []Summary, chatID int64) bool {
	return slices.ContainsFunc(remote, func(r Summary) bool { return r.ChatID == chatID })
}

func copySession(sess *Session) Session {
	out := *sess
	out.Messages = slices.Clone(sess.Messages)
	return out
}
