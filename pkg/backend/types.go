package backend

// ChatRequest is the single-shot send payload.
type ChatRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	ChatID int64  `json:"chat_id"`
}

// ChatResponse is the single-shot send reply.
type ChatResponse struct {
	Response string `json:"response"`
	ChatID   int64  `json:"chat_id"`
}

// StreamRequest describes a streaming send. A zero ChatID asks the backend
// to allocate a new conversation.
type StreamRequest struct {
	Prompt string
	Model  string
	ChatID int64
}

// Chat is one entry of the chat history list.
type Chat struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at,omitempty"`
}

// HistoryMessage is one stored message of a chat. The backend names the
// message body "text".
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at,omitempty"`
}

// AuthRequest carries login or registration credentials.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by a successful login.
type AuthResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// ErrorResponse is the JSON error body some endpoints return.
type ErrorResponse struct {
	Error string `json:"error"`
}
