// Package devserver is an in-memory chat backend serving the same HTTP
// surface as the production service. It backs "parley devserver" and the
// end-to-end tests.
package devserver

import "time"

// Config is the development server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// ChunkDelay is the pause before each streamed chunk, so that local runs
	// look like a model generating tokens. Zero streams as fast as possible.
	ChunkDelay time.Duration

	// Responder produces assistant replies. Defaults to EchoResponder.
	Responder Responder
}
