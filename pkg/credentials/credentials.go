package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/parley/pkg/dotdir"
)

const (
	credentialsFile = "credentials.toml"

	currentVersion = 0

	// TokenEnvVar overrides the stored token for every backend.
	TokenEnvVar = "PARLEY_TOKEN"
)

// Manager manages reading and writing credentials.toml in the .parley/ directory.
type Manager struct {
	ddm        *dotdir.Manager
	targetPath string
}

// NewManager creates a new credentials Manager. If override is non-empty it is
// used as the .parley/ directory; otherwise the standard dotdir resolution applies.
func NewManager(override string) (*Manager, error) {
	mgr := &Manager{}
	mgr.ddm = dotdir.NewManager()

	target, err := mgr.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	mgr.targetPath = filepath.Join(target, credentialsFile)

	return mgr, nil
}

// Load reads credentials.toml from the target directory.
// Returns an empty Credentials if the file does not exist.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Credentials{
				Version:  currentVersion,
				Backends: make(map[string]BackendCredential),
			}, nil
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	creds := &Credentials{}
	if err := toml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	if creds.Backends == nil {
		creds.Backends = make(map[string]BackendCredential)
	}

	return creds, nil
}

// Save writes credentials to credentials.toml with 0600 permissions.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil {
		return errors.New("cannot save nil credentials")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.WriteFile(m.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	return nil
}

// SetToken stores the token issued by the backend at target.
func (m *Manager) SetToken(target, token, username string) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}

	creds.Backends[normalize(target)] = BackendCredential{Token: token, Username: username}

	return m.Save(creds)
}

// Get returns the stored credential for target. The PARLEY_TOKEN
// environment variable, when set, takes precedence over the file.
func (m *Manager) Get(target string) (BackendCredential, bool, error) {
	if tok := os.Getenv(TokenEnvVar); tok != "" {
		return BackendCredential{Token: tok}, true, nil
	}

	creds, err := m.Load()
	if err != nil {
		return BackendCredential{}, false, err
	}

	bc, ok := creds.Backends[normalize(target)]
	return bc, ok, nil
}

// Token returns the token for target, or an empty string if none is stored.
func (m *Manager) Token(target string) (string, error) {
	bc, _, err := m.Get(target)
	return bc.Token, err
}

// Remove deletes the stored credential for target.
func (m *Manager) Remove(target string) error {
	creds, err := m.Load()
	if err != nil {
		return err
	}

	key := normalize(target)
	if _, ok := creds.Backends[key]; !ok {
		return nil
	}
	delete(creds.Backends, key)

	return m.Save(creds)
}

// ListTargets returns the backends that have stored credentials.
func (m *Manager) ListTargets() ([]string, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(creds.Backends))
	for name := range creds.Backends {
		targets = append(targets, name)
	}

	sort.Strings(targets)

	return targets, nil
}

// GetTarget returns the resolved path to the credentials file.
func (m *Manager) GetTarget() string {
	return m.targetPath
}

// normalize makes "http://host:8080/" and "http://host:8080" the same key.
func normalize(target string) string {
	return strings.TrimRight(strings.TrimSpace(target), "/")
}
