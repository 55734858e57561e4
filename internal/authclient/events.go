package authclient

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sundialhq/standup/internal/identity"
)

// EventType classifies auth-state-change notifications.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is an auth-state-change notification. Session is nil for sign-out.
type Event struct {
	Type    EventType
	Session *identity.Session
}

// Broadcaster fans auth-state-change events out to subscribers. It is the
// push path for changes originating elsewhere (another tab, the provider),
// mirrored locally for changes this client makes itself.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]func(Event))}
}

// Subscribe registers a callback and returns an unsubscribe function.
func (b *Broadcaster) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Emit delivers an event to every subscriber. Callbacks run synchronously on
// the caller's goroutine, matching the single event-loop delivery model the
// consumers assume.
func (b *Broadcaster) Emit(event Event) {
	b.mu.Lock()
	callbacks := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		callbacks = append(callbacks, fn)
	}
	b.mu.Unlock()

	log.Debug().Str("event", string(event.Type)).Int("subscribers", len(callbacks)).Msg("auth state change")

	for _, fn := range callbacks {
		fn(event)
	}
}
