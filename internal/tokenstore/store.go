package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sundialhq/standup/internal/identity"
)

// Sentinel errors
var (
	// ErrStoreUnavailable is returned by internal helpers when persistent
	// storage could not be initialized. Public read/write paths never return
	// it; they degrade to "no persisted session".
	ErrStoreUnavailable = errors.New("token store unavailable")
)

const (
	sessionFile = "session.json"
	stateFile   = "tabstate.json"
)

// Store persists the current session and tab state on the local filesystem.
// It is the desktop rendition of the browser's localStorage slot: a single
// session key shared by every process pointed at the same directory,
// last-writer-wins, no locking.
type Store struct {
	baseDir   string
	lifetime  time.Duration
	available bool

	mu sync.Mutex
}

// NewStore creates a session store rooted at baseDir.
// If baseDir is empty, uses ~/.standup/session/
//
// Storage being unavailable is not an error: the store degrades to a no-op
// and every read reports "no session".
func NewStore(baseDir string, lifetime time.Duration) *Store {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Warn().Err(err).Msg("no home directory, session persistence disabled")
			return &Store{lifetime: lifetime}
		}
		baseDir = filepath.Join(home, ".standup", "session")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		log.Warn().Err(err).Str("baseDir", baseDir).Msg("storage unavailable, session persistence disabled")
		return &Store{baseDir: baseDir, lifetime: lifetime}
	}

	log.Debug().Str("baseDir", baseDir).Msg("token store initialized")

	return &Store{baseDir: baseDir, lifetime: lifetime, available: true}
}

// Available reports whether persistent storage could be initialized.
func (s *Store) Available() bool {
	return s.available
}

// ExtendExpiry returns a copy of the session with its expiry pushed out to
// now plus the configured lifetime. It is a pure transformation; composing it
// with ReadRaw/Write keeps the expiry rewrite explicit instead of a hidden
// side effect of reading.
func (s *Store) ExtendExpiry(sess identity.Session, now time.Time) identity.Session {
	sess.ExpiresAt = now.Add(s.lifetime).UTC()
	return sess
}

// ReadRaw returns the persisted session without touching it.
// A missing file or unavailable storage yields (nil, nil).
func (s *Store) ReadRaw() (*identity.Session, error) {
	if !s.available {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readLocked()
}

// ReadFresh returns the persisted session with its expiry extended, and
// re-persists the extended copy. Consumers reading through this path always
// see a non-expired token.
func (s *Store) ReadFresh(now time.Time) *identity.Session {
	if !s.available {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.readLocked()
	if err != nil || sess == nil {
		return nil
	}

	fresh := s.ExtendExpiry(*sess, now)
	if err := s.writeLocked(&fresh); err != nil {
		log.Warn().Err(err).Msg("failed to re-persist extended session")
	}

	return &fresh
}

// Write persists the session, extending its expiry first so externally
// issued short expiries never reach disk.
func (s *Store) Write(sess identity.Session, now time.Time) {
	if !s.available {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := s.ExtendExpiry(sess, now)
	if err := s.writeLocked(&fresh); err != nil {
		log.Warn().Err(err).Msg("failed to persist session")
	}
}

// Remove deletes the persisted session.
func (s *Store) Remove() {
	if !s.available {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, sessionFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to remove persisted session")
	}
}

func (s *Store) readLocked() (*identity.Session, error) {
	path := filepath.Join(s.baseDir, sessionFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess identity.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A corrupt session file is treated as "no session"; the next
		// sign-in overwrites it.
		log.Warn().Err(err).Msg("corrupt session file, ignoring")
		return nil, nil
	}

	return &sess, nil
}

// writeLocked writes the session file atomically.
func (s *Store) writeLocked(sess *identity.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	path := filepath.Join(s.baseDir, sessionFile)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}
