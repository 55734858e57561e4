package visibility

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/sundialhq/standup/internal/tokenstore"
)

// heartbeatWindow is how recent the persisted heartbeat must be for a
// Visible transition to count as "returning from background" rather than a
// fresh reload.
const heartbeatWindow = 30 * time.Second

// SessionController is the subset of the session controller the reconciler
// drives.
type SessionController interface {
	Initialized() bool
	Reconcile(ctx context.Context) bool
}

// StateStore persists the last-check timestamp and tab heartbeat.
type StateStore interface {
	LoadState() tokenstore.TabState
	SaveState(tokenstore.TabState)
	SetLastCheck(at time.Time)
}

// Reconciler re-validates the session when the tab returns to the
// foreground, rate-limited by the shared last-check timestamp. It never runs
// side effects while hidden and stays inert until the controller's own
// initialization has covered the first load.
type Reconciler struct {
	controller  SessionController
	store       StateStore
	interval    time.Duration
	tabID       string
	unsubscribe func()
}

// NewReconciler creates a reconciler and subscribes it to the dispatcher.
func NewReconciler(controller SessionController, store StateStore, dispatcher *Dispatcher, interval time.Duration) *Reconciler {
	r := &Reconciler{
		controller: controller,
		store:      store,
		interval:   interval,
		tabID:      newTabID(),
	}
	r.unsubscribe = dispatcher.Subscribe(r.onTransition)

	// Seed the heartbeat so the next foreground transition can tell a
	// background return from a fresh reload.
	state := store.LoadState()
	state.TabID = r.tabID
	state.HeartbeatAt = time.Now().UTC()
	store.SaveState(state)

	return r
}

// Close unsubscribes the reconciler from visibility transitions.
func (r *Reconciler) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// ReturningFromBackground reports whether the persisted heartbeat indicates
// this tab was alive recently, as opposed to a fresh reload.
func (r *Reconciler) ReturningFromBackground(now time.Time) bool {
	state := r.store.LoadState()
	if state.HeartbeatAt.IsZero() {
		return false
	}
	return now.Sub(state.HeartbeatAt) < heartbeatWindow && state.TabID == r.tabID
}

func (r *Reconciler) onTransition(state State) {
	now := time.Now().UTC()

	if state == Hidden {
		// Record the transition only; no side effects while hidden.
		tab := r.store.LoadState()
		tab.TabID = r.tabID
		tab.HeartbeatAt = now
		r.store.SaveState(tab)
		log.Debug().Msg("tab hidden, heartbeat recorded")
		return
	}

	if !r.controller.Initialized() {
		// The controller's initialize covers the first load.
		log.Debug().Msg("tab visible before initialize completed, skipping")
		return
	}

	tab := r.store.LoadState()
	if !ShouldCheck(now, tab.LastCheckAt, false, r.interval) {
		log.Debug().
			Time("last_check", tab.LastCheckAt).
			Msg("tab visible inside check interval, skipping re-validation")
		return
	}

	log.Debug().Msg("tab visible, re-validating session")
	if !r.controller.Reconcile(context.Background()) {
		// The timestamp records successful re-validations only; a failed
		// read stays due for the next foreground transition.
		log.Warn().Msg("re-validation failed, last-check not advanced")
		return
	}
	r.store.SetLastCheck(now)
}

func newTabID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "tab-unknown"
	}
	return base58.Encode(buf)
}
