package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/papercomputeco/parley/pkg/session"
)

const (
	sessionsFile = "sessions.json"
)

// LoadSessions loads the persisted session list from .parley/sessions.json.
// Returns nil, nil if nothing has been persisted yet.
// If overrideDir is non-empty, it is used instead of the default location.
func (m *Manager) LoadSessions(overrideDir string) (*session.Snapshot, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, sessionsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session state: %w", err)
	}

	snap := &session.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parsing session state: %w", err)
	}

	return snap, nil
}

// SaveSessions persists snap to .parley/sessions.json. The file is written
// to a temporary name first so a crash never leaves a truncated list.
func (m *Manager) SaveSessions(snap *session.Snapshot, overrideDir string) error {
	if snap == nil {
		return errors.New("cannot save nil session state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	path := filepath.Join(dir, sessionsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing session state: %w", err)
	}

	return nil
}

// ClearSessions removes the persisted session list.
// Returns nil if the file doesn't exist (already cleared).
func (m *Manager) ClearSessions(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, sessionsFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing session state: %w", err)
	}

	return nil
}
