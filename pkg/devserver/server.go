package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/papercomputeco/parley/pkg/backend"
	"github.com/papercomputeco/parley/pkg/stream"
)

const userIDKey = "user_id"

// Server is the in-memory development backend.
type Server struct {
	config    Config
	responder Responder
	mem       *memory
	logger    *slog.Logger
	app       *fiber.App
}

// New creates a Server with no users.
func New(config Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	responder := config.Responder
	if responder == nil {
		responder = EchoResponder{}
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	s := &Server{
		config:    config,
		responder: responder,
		mem:       newMemory(),
		logger:    logger,
		app:       app,
	}

	app.Get("/ping", s.handlePing)

	api := app.Group("/api")
	api.Post("/register", s.handleRegister)
	api.Post("/login", s.handleLogin)
	api.Post("/chat", s.requireAuth, s.handleChat)
	api.Get("/chat/stream", s.requireAuth, s.handleStream)
	api.Get("/history/chats", s.requireAuth, s.handleListChats)
	api.Get("/history/messages", s.requireAuth, s.handleListMessages)
	api.Delete("/history/delete", s.requireAuth, s.handleDeleteChat)

	return s
}

// App returns the underlying fiber app, for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// IssueToken makes token valid for username, creating the user if needed.
func (s *Server) IssueToken(username, token string) {
	s.mem.issueToken(username, token)
}

// RevokeToken invalidates token. Later calls carrying it get 401.
func (s *Server) RevokeToken(token string) {
	s.mem.revoke(token)
}

// Run starts the server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting devserver",
		"listen", s.config.ListenAddr,
		"chunk_delay", s.config.ChunkDelay,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting devserver",
		"listen", listener.Addr().String(),
		"chunk_delay", s.config.ChunkDelay,
	)
	return s.app.Listener(listener)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req backend.AuthRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request")
	}

	err := s.mem.register(req.Username, req.Password)
	switch {
	case errors.Is(err, errUserExists):
		return fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, errInvalidUsername):
		return fail(c, fiber.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("registering user", "error", err)
		return fail(c, fiber.StatusInternalServerError, "server error")
	}

	s.logger.Info("registered user", "username", req.Username)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "User registered successfully"})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req backend.AuthRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request")
	}

	token, err := s.mem.login(req.Username, req.Password)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, err.Error())
	}
	return c.JSON(backend.AuthResponse{Token: token, Username: req.Username})
}

// requireAuth accepts a bearer token, or a token query parameter for the
// stream endpoint which cannot carry headers from a browser EventSource.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	var token string
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		token, _ = strings.CutPrefix(h, "Bearer ")
	} else {
		token = c.Query("token")
	}

	id, ok := s.mem.authenticate(token)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "invalid token")
	}
	c.Locals(userIDKey, id)
	return c.Next()
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	var req backend.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fail(c, fiber.StatusBadRequest, "missing prompt")
	}

	chatID, err := s.mem.openChat(userID(c), req.ChatID, req.Prompt)
	if err != nil {
		return fail(c, fiber.StatusNotFound, err.Error())
	}
	s.mem.appendMessage(chatID, roleUser, req.Prompt)

	chunks, err := s.responder.Respond(c.UserContext(), req.Model, req.Prompt)
	if err != nil {
		s.logger.Warn("responder failed", "chat_id", chatID, "error", err)
		return fail(c, fiber.StatusBadGateway, "upstream error: "+err.Error())
	}

	reply := strings.Join(chunks, "")
	s.mem.appendMessage(chatID, roleAssistant, reply)

	return c.JSON(backend.ChatResponse{Response: reply, ChatID: chatID})
}

func (s *Server) handleStream(c *fiber.Ctx) error {
	prompt := c.Query("prompt")
	model := c.Query("model")
	if strings.TrimSpace(prompt) == "" {
		return fail(c, fiber.StatusBadRequest, "missing prompt")
	}

	requested, err := queryChatID(c, true)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	chatID, err := s.mem.openChat(userID(c), requested, prompt)
	if err != nil {
		return fail(c, fiber.StatusNotFound, err.Error())
	}
	s.mem.appendMessage(chatID, roleUser, prompt)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// io.Pipe gives per-chunk flushing: fasthttp writes each chunk to the
	// socket as the reader consumes it. The writer runs detached from the
	// request context because fasthttp recycles it when the handler returns.
	pr, pw := io.Pipe()
	go s.streamReply(pw, chatID, model, prompt)
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

func (s *Server) streamReply(pw *io.PipeWriter, chatID int64, model, prompt string) {
	defer pw.Close()

	log := s.logger.With("chat_id", chatID, "model", model)

	if err := writeEvent(pw, map[string]int64{"chat_id": chatID}); err != nil {
		log.Debug("client went away", "error", err)
		return
	}

	chunks, err := s.responder.Respond(context.Background(), model, prompt)
	if err != nil {
		log.Warn("responder failed", "error", err)
		_, _ = fmt.Fprintf(pw, "data: %s\n\n", stream.FailureSentinel)
		return
	}

	var reply strings.Builder
	for _, chunk := range chunks {
		if s.config.ChunkDelay > 0 {
			time.Sleep(s.config.ChunkDelay)
		}
		if err := writeEvent(pw, map[string]string{"chunk": chunk}); err != nil {
			log.Debug("client went away", "error", err)
			s.mem.appendMessage(chatID, roleAssistant, reply.String())
			return
		}
		reply.WriteString(chunk)
	}

	s.mem.appendMessage(chatID, roleAssistant, reply.String())
	_, _ = fmt.Fprintf(pw, "data: %s\n\n", stream.DoneSentinel)
	log.Debug("stream complete", "chunks", len(chunks))
}

func (s *Server) handleListChats(c *fiber.Ctx) error {
	chats := s.mem.list(userID(c))

	out := make([]backend.Chat, 0, len(chats))
	for _, ch := range chats {
		out = append(out, backend.Chat{
			ID:        ch.id,
			Title:     ch.title,
			CreatedAt: ch.createdAt.Format(time.RFC3339Nano),
		})
	}
	return c.JSON(out)
}

func (s *Server) handleListMessages(c *fiber.Ctx) error {
	chatID, err := queryChatID(c, false)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	msgs, err := s.mem.messages(userID(c), chatID)
	if err != nil {
		return fail(c, fiber.StatusNotFound, err.Error())
	}

	out := make([]backend.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, backend.HistoryMessage{
			Role:      m.role,
			Text:      m.text,
			CreatedAt: m.createdAt.Format(time.RFC3339Nano),
		})
	}
	return c.JSON(out)
}

func (s *Server) handleDeleteChat(c *fiber.Ctx) error {
	chatID, err := queryChatID(c, false)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	if err := s.mem.remove(userID(c), chatID); err != nil {
		return fail(c, fiber.StatusNotFound, "chat not found or access denied")
	}

	s.logger.Info("deleted chat", "chat_id", chatID)
	return c.SendStatus(fiber.StatusOK)
}

// queryChatID parses the chat_id query parameter. With allowZero, a missing
// or zero id means "new chat".
func queryChatID(c *fiber.Ctx, allowZero bool) (int64, error) {
	raw := c.Query("chat_id")
	if raw == "" && allowZero {
		return 0, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 || (id == 0 && !allowZero) {
		return 0, errors.New("invalid chat ID")
	}
	return id, nil
}

func userID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(userIDKey).(int64)
	return id
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(backend.ErrorResponse{Error: msg})
}

func writeEvent(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
