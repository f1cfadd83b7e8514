// Package backend is the HTTP client for the chat service: single-shot and
// streaming sends, chat history, and login.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout = 5 * time.Minute

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 4 * 1024
)

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root, e.g. http://localhost:8080. API paths are
	// appended under /api.
	BaseURL string

	// Token is the bearer token sent with authenticated calls.
	Token string

	// Timeout bounds single-shot calls. Streams are bounded by the caller's
	// context and idle timeout instead. Defaults to 5 minutes.
	Timeout time.Duration

	// HTTPClient overrides the transport. Optional.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client talks to the chat backend.
type Client struct {
	baseURL *url.URL

	mu    sync.RWMutex
	token string

	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// New creates a Client.
func New(c *Config) (*Client, error) {
	if c.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}

	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported backend URL scheme %q", base.Scheme)
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	var transport http.RoundTripper
	if c.HTTPClient != nil {
		transport = c.HTTPClient.Transport
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		baseURL: base,
		token:   c.Token,
		httpClient: &http.Client{
			Transport: transport,
			// LLM responses can be slow
			Timeout: timeout,
		},
		// No overall timeout: a stream lives as long as it keeps producing.
		streamClient: &http.Client{Transport: transport},
		logger:       logger,
	}, nil
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges a username and password for a token. The token is not
// installed on the client; callers decide whether to persist it.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	out := &AuthResponse{}
	err := c.doJSON(ctx, http.MethodPost, "/login", nil, AuthRequest{Username: username, Password: password}, out, false)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	if out.Token == "" {
		return nil, errors.New("logging in: backend returned an empty token")
	}
	return out, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, password string) error {
	err := c.doJSON(ctx, http.MethodPost, "/register", nil, AuthRequest{Username: username, Password: password}, nil, false)
	if err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	return nil
}

// Send performs a single-shot chat request.
func (c *Client) Send(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	c.logger.Debug("sending chat request",
		"model", req.Model,
		"chat_id", req.ChatID,
	)

	out := &ChatResponse{}
	if err := c.doJSON(ctx, http.MethodPost, "/chat", nil, req, out, true); err != nil {
		return nil, fmt.Errorf("sending chat request: %w", err)
	}
	return out, nil
}

// StreamURL returns the streaming endpoint URL for req. The token travels
// as a query parameter because the stream endpoint is a plain GET.
func (c *Client) StreamURL(req StreamRequest) string {
	q := url.Values{}
	q.Set("prompt", req.Prompt)
	q.Set("model", req.Model)
	q.Set("chat_id", strconv.FormatInt(req.ChatID, 10))
	q.Set("token", c.Token())
	return c.endpoint("/chat/stream", q)
}

// Stream opens the SSE channel for req and returns its body. The caller
// owns the body and must close it; cancelling ctx also tears it down.
func (c *Client) Stream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	c.logger.Debug("opening chat stream",
		"model", req.Model,
		"chat_id", req.ChatID,
	)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("opening stream: %w", statusError(resp))
	}

	return resp.Body, nil
}

// ListChats returns the user's chats, newest first.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var out []Chat
	if err := c.doJSON(ctx, http.MethodGet, "/history/chats", nil, nil, &out, true); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	return out, nil
}

// ListMessages returns the stored messages of a chat in conversation order.
func (c *Client) ListMessages(ctx context.Context, chatID int64) ([]HistoryMessage, error) {
	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))

	var out []HistoryMessage
	if err := c.doJSON(ctx, http.MethodGet, "/history/messages", q, nil, &out, true); err != nil {
		return nil, fmt.Errorf("listing messages for chat %d: %w", chatID, err)
	}
	return out, nil
}

// DeleteChat deletes a chat on the backend.
func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))

	if err := c.doJSON(ctx, http.MethodDelete, "/history/delete", q, nil, nil, true); err != nil {
		return fmt.Errorf("deleting chat %d: %w", chatID, err)
	}
	return nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/api" + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// doJSON performs a JSON request. A nil in skips the body; a nil out skips
// decoding.
func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, in, out any, auth bool) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if auth {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token())
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// statusError builds a StatusError from a failed response, preferring a
// JSON {"error": ...} body and falling back to the raw text.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(raw))
	var er ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return StatusError{StatusCode: resp.StatusCode, Message: msg}
}
