package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// TabState is the per-profile state shared across tabs: the last successful
// session re-validation and a heartbeat used to tell "returning from
// background" apart from a fresh reload.
type TabState struct {
	LastCheckAt time.Time `json:"last_check_at"`
	TabID       string    `json:"tab_id,omitempty"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// LoadState reads the shared tab state. Missing or unreadable state yields
// the zero value, which callers treat as "never checked".
func (s *Store) LoadState() TabState {
	if !s.available {
		return TabState{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to read tab state")
		}
		return TabState{}
	}

	var state TabState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn().Err(err).Msg("corrupt tab state, ignoring")
		return TabState{}
	}

	return state
}

// SaveState writes the shared tab state, last-writer-wins.
func (s *Store) SaveState(state TabState) {
	if !s.available {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeStateLocked(state); err != nil {
		log.Warn().Err(err).Msg("failed to save tab state")
	}
}

// SetLastCheck records a successful session re-validation instant.
func (s *Store) SetLastCheck(at time.Time) {
	if !s.available {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.loadStateLocked()
	state.LastCheckAt = at.UTC()
	if err := s.writeStateLocked(state); err != nil {
		log.Warn().Err(err).Msg("failed to record last check")
	}
}

func (s *Store) loadStateLocked() TabState {
	path := filepath.Join(s.baseDir, stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return TabState{}
	}

	var state TabState
	if err := json.Unmarshal(data, &state); err != nil {
		return TabState{}
	}
	return state
}

func (s *Store) writeStateLocked(state TabState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tab state: %w", err)
	}

	path := filepath.Join(s.baseDir, stateFile)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write tab state: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save tab state: %w", err)
	}

	return nil
}

// WriteBlob persists a named auxiliary blob (form autosave and the like)
// alongside the session state.
func (s *Store) WriteBlob(name string, data []byte) {
	if !s.available {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, name+".blob")
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		log.Warn().Err(err).Str("name", name).Msg("failed to write blob")
		return
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		log.Warn().Err(err).Str("name", name).Msg("failed to save blob")
	}
}

// ReadBlob returns a named auxiliary blob, nil if absent.
func (s *Store) ReadBlob(name string) []byte {
	if !s.available {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, name+".blob"))
	if err != nil {
		return nil
	}
	return data
}

// RemoveBlob deletes a named auxiliary blob.
func (s *Store) RemoveBlob(name string) {
	if !s.available {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, name+".blob")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("name", name).Msg("failed to remove blob")
	}
}
