package session

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStreamActive is returned when a session already has an open stream.
	ErrStreamActive = errors.New("stream already open for session")

	// ErrNotStreamTarget is returned when a fragment targets a message that
	// is not the session's open stream target.
	ErrNotStreamTarget = errors.New("message is not the active stream target")

	// ErrInvalidChatID is returned when binding a non-positive chat id.
	ErrInvalidChatID = errors.New("invalid chat id")
)
