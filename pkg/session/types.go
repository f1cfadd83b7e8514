// Package session holds the in-memory Session Store: the set of chat
// sessions, their ordered messages, the active selection, and which
// assistant message (if any) is currently being assembled by a stream.
//
// The Store is the single source of truth a UI renders from. All operations
// are synchronous and immediately observable through Subscribe.
package session

import "time"

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// DefaultTitle is the placeholder label of a session that has no title yet.
	DefaultTitle = "New Chat"

	// ErrorContent is the error-indicator payload of a failed assistant reply.
	ErrorContent = "Error: Failed to get response."
)

// Message is a single entry in a session's conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Error     bool      `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one conversation. A zero ChatID means the session has not yet
// been assigned a server chat id.
type Session struct {
	ID        string    `json:"id"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// Bound reports whether the session has a server chat id.
func (s Session) Bound() bool {
	return s.ChatID != 0
}

// LastMessage returns the final message of the session, if any.
func (s Session) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Summary is one entry of the backend's chat list.
type Summary struct {
	ChatID    int64
	Title     string
	CreatedAt time.Time
}

// Snapshot is the persistable form of a Store.
type Snapshot struct {
	Active   string    `json:"active,omitempty"`
	Sessions []Session `json:"sessions"`
}
