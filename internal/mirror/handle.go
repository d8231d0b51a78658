package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

// HandleState tracks what the store currently knows about its granted
// directory. A handle restored from a previous session starts stale and
// is probed before first use; a failed probe parks it as revoked so a
// later Reconnect can retry without asking for the path again.
type HandleState string

const (
	HandleUnbound HandleState = "unbound"
	HandleStale   HandleState = "bound-stale"
	HandleLive    HandleState = "bound-live"
	HandleRevoked HandleState = "bound-revoked"
)

const handleFileName = "handle.json"

// handleRef is the persisted reference to the granted directory. Only
// the reference survives restarts; the permission it implies is
// re-validated every session.
type handleRef struct {
	Path      string `json:"path"`
	GrantedAt int64  `json:"grantedAt"`
}

func (s *Store) handlePath() string {
	return filepath.Join(s.dataDir, handleFileName)
}

func (s *Store) loadHandle() {
	raw, err := os.ReadFile(s.handlePath())
	if err != nil {
		return
	}
	var ref handleRef
	if err := json.Unmarshal(raw, &ref); err != nil || ref.Path == "" {
		return
	}
	s.handle = ref
	s.state = HandleStale
}

func (s *Store) saveHandle() error {
	raw, err := json.Marshal(s.handle)
	if err != nil {
		return err
	}
	return os.WriteFile(s.handlePath(), raw, 0o600)
}

// probeDirectory checks that the path still exists, is a directory and
// is writable, by creating and removing a marker file.
func probeDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	marker := filepath.Join(path, ".chatkeeper-probe")
	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		return err
	}
	return os.Remove(marker)
}

// GrantDirectory binds the store to a directory. This is the explicit
// user gesture; it always re-validates, persists the reference and
// moves the handle to live.
func (s *Store) GrantDirectory(path string) error {
	if err := probeDirectory(path); err != nil {
		return fmt.Errorf("granting mirror directory: %w: %w", common.ErrPermissionDenied, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = handleRef{Path: path, GrantedAt: time.Now().UnixMilli()}
	s.state = HandleLive
	if err := s.saveHandle(); err != nil {
		return fmt.Errorf("persisting mirror handle: %w", err)
	}
	if len(s.pending) > 0 {
		s.armTimerLocked()
	}
	s.log.Info(context.Background(), "mirror directory granted", "path", path)
	return nil
}

// Reconnect re-probes a previously granted handle, including one parked
// as revoked. It never prompts for a new path; a store with no handle
// at all needs GrantDirectory instead.
func (s *Store) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == HandleUnbound {
		return fmt.Errorf("no mirror directory granted: %w", common.ErrPermissionDenied)
	}
	if err := probeDirectory(s.handle.Path); err != nil {
		s.state = HandleRevoked
		return fmt.Errorf("reconnecting mirror directory: %w: %w", common.ErrPermissionDenied, err)
	}
	s.state = HandleLive
	if len(s.pending) > 0 {
		s.armTimerLocked()
	}
	return nil
}

// State returns the current handle state.
func (s *Store) State() HandleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ensureLive promotes a stale handle by probing it, and fails for
// unbound or revoked handles. Callers hold no locks.
func (s *Store) ensureLive() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case HandleLive:
		return s.handle.Path, nil
	case HandleStale:
		if err := probeDirectory(s.handle.Path); err != nil {
			s.state = HandleRevoked
			s.log.Warn(context.Background(), "mirror directory no longer accessible", "path", s.handle.Path, "error", err.Error())
			return "", fmt.Errorf("mirror directory revoked: %w: %w", common.ErrPermissionDenied, err)
		}
		s.state = HandleLive
		return s.handle.Path, nil
	case HandleRevoked:
		return "", fmt.Errorf("mirror directory revoked: %w", common.ErrPermissionDenied)
	default:
		return "", fmt.Errorf("no mirror directory granted: %w", common.ErrPermissionDenied)
	}
}
