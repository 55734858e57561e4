package reports

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BlobStore persists named blobs. Satisfied by tokenstore.Store.
type BlobStore interface {
	WriteBlob(name string, data []byte)
	ReadBlob(name string) []byte
	RemoveBlob(name string)
}

// Autosaver persists in-progress form state keyed by form name and user id,
// debounced so rapid edits collapse into one write.
type Autosaver struct {
	store    BlobStore
	debounce time.Duration

	mu      sync.Mutex
	pending map[string][]byte
	timers  map[string]*time.Timer
}

// NewAutosaver creates an autosaver. A zero debounce writes immediately.
func NewAutosaver(store BlobStore, debounce time.Duration) *Autosaver {
	return &Autosaver{
		store:    store,
		debounce: debounce,
		pending:  make(map[string][]byte),
		timers:   make(map[string]*time.Timer),
	}
}

func autosaveKey(form string, userID uuid.UUID) string {
	return fmt.Sprintf("autosave-%s-%s", form, userID)
}

// Save schedules a persisted snapshot of the form state.
func (a *Autosaver) Save(form string, userID uuid.UUID, data []byte) {
	key := autosaveKey(form, userID)

	if a.debounce <= 0 {
		a.store.WriteBlob(key, data)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending[key] = data
	if timer, ok := a.timers[key]; ok {
		timer.Stop()
	}
	a.timers[key] = time.AfterFunc(a.debounce, func() {
		a.flush(key)
	})
}

// Flush writes any pending snapshot for the form immediately.
func (a *Autosaver) Flush(form string, userID uuid.UUID) {
	a.flush(autosaveKey(form, userID))
}

func (a *Autosaver) flush(key string) {
	a.mu.Lock()
	data, ok := a.pending[key]
	delete(a.pending, key)
	if timer, t := a.timers[key]; t {
		timer.Stop()
		delete(a.timers, key)
	}
	a.mu.Unlock()

	if !ok {
		return
	}

	a.store.WriteBlob(key, data)
	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("form state autosaved")
}

// Load returns the saved form state, nil if absent.
func (a *Autosaver) Load(form string, userID uuid.UUID) []byte {
	return a.store.ReadBlob(autosaveKey(form, userID))
}

// Clear removes the saved form state, typically after a successful submit.
func (a *Autosaver) Clear(form string, userID uuid.UUID) {
	key := autosaveKey(form, userID)

	a.mu.Lock()
	delete(a.pending, key)
	if timer, ok := a.timers[key]; ok {
		timer.Stop()
		delete(a.timers, key)
	}
	a.mu.Unlock()

	a.store.RemoveBlob(key)
}
