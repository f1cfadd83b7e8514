package devserver

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/papercomputeco/parley/pkg/utils"
)

const titleLength = 30

// Backend roles as stored and listed by the history endpoints.
const (
	roleUser      = "user"
	roleAssistant = "ai"
)

var (
	errUserExists      = errors.New("username already exists")
	errBadCredentials  = errors.New("invalid credentials")
	errChatNotFound    = errors.New("chat not found")
	errInvalidUsername = errors.New("username and password are required")
)

type user struct {
	id       int64
	username string
	hash     []byte
}

type chat struct {
	id        int64
	owner     int64
	title     string
	createdAt time.Time
	messages  []message
}

type message struct {
	role      string
	text      string
	createdAt time.Time
}

// memory holds users, tokens and chats. Chat ids are allocated from one
// counter across users, like a SERIAL column.
type memory struct {
	mu       sync.Mutex
	nextUser int64
	nextChat int64
	users    map[string]*user
	tokens   map[string]int64
	chats    map[int64]*chat
}

func newMemory() *memory {
	return &memory{
		users:  make(map[string]*user),
		tokens: make(map[string]int64),
		chats:  make(map[int64]*chat),
	}
}

func (m *memory) register(username, password string) error {
	if username == "" || password == "" {
		return errInvalidUsername
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; ok {
		return errUserExists
	}
	m.nextUser++
	m.users[username] = &user{id: m.nextUser, username: username, hash: hash}
	return nil
}

func (m *memory) login(username, password string) (string, error) {
	m.mu.Lock()
	u, ok := m.users[username]
	m.mu.Unlock()
	if !ok {
		return "", errBadCredentials
	}

	if bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return "", errBadCredentials
	}

	token := uuid.NewString()

	m.mu.Lock()
	m.tokens[token] = u.id
	m.mu.Unlock()
	return token, nil
}

// issueToken registers a token for username directly, creating the user
// when needed. Used to seed a server without going through login.
func (m *memory) issueToken(username, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		m.nextUser++
		u = &user{id: m.nextUser, username: username}
		m.users[username] = u
	}
	m.tokens[token] = u.id
}

func (m *memory) revoke(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
}

func (m *memory) authenticate(token string) (int64, bool) {
	if token == "" {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokens[token]
	return id, ok
}

// openChat returns chatID when owner has it, or allocates a new chat titled
// after the prompt when chatID is zero.
func (m *memory) openChat(owner, chatID int64, prompt string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if chatID != 0 {
		c, ok := m.chats[chatID]
		if !ok || c.owner != owner {
			return 0, errChatNotFound
		}
		return chatID, nil
	}

	m.nextChat++
	m.chats[m.nextChat] = &chat{
		id:        m.nextChat,
		owner:     owner,
		title:     utils.TruncateRunes(prompt, titleLength),
		createdAt: time.Now().UTC(),
	}
	return m.nextChat, nil
}

func (m *memory) appendMessage(chatID int64, role, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		// deleted while a reply was streaming
		return
	}
	c.messages = append(c.messages, message{role: role, text: text, createdAt: time.Now().UTC()})
}

// list returns owner's chats, newest first.
func (m *memory) list(owner int64) []chat {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []chat
	for _, c := range m.chats {
		if c.owner == owner {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b chat) int {
		if d := b.createdAt.Compare(a.createdAt); d != 0 {
			return d
		}
		return cmp.Compare(b.id, a.id)
	})
	return out
}

func (m *memory) messages(owner, chatID int64) ([]message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok || c.owner != owner {
		return nil, errChatNotFound
	}
	return slices.Clone(c.messages), nil
}

func (m *memory) remove(owner, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok || c.owner != owner {
		return errChatNotFound
	}
	delete(m.chats, chatID)
	return nil
}
