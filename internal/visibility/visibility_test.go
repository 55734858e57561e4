package visibility

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundialhq/standup/internal/tokenstore"
)

func TestShouldCheck(t *testing.T) {
	interval := 5 * time.Minute
	now := time.Now()

	t.Run("always on initial load", func(t *testing.T) {
		assert.True(t, ShouldCheck(now, now, true, interval))
	})

	t.Run("skipped inside the interval", func(t *testing.T) {
		// Last check two minutes ago, inside the five minute window.
		assert.False(t, ShouldCheck(now, now.Add(-2*time.Minute), false, interval))
	})

	t.Run("due after the interval", func(t *testing.T) {
		assert.True(t, ShouldCheck(now, now.Add(-6*time.Minute), false, interval))
	})

	t.Run("zero last check is always due", func(t *testing.T) {
		assert.True(t, ShouldCheck(now, time.Time{}, false, interval))
	})
}

func TestDispatcher(t *testing.T) {
	t.Run("starts visible", func(t *testing.T) {
		d := NewDispatcher()
		assert.Equal(t, Visible, d.State())
	})

	t.Run("notifies on transitions only", func(t *testing.T) {
		d := NewDispatcher()

		var mu sync.Mutex
		var seen []State
		d.Subscribe(func(s State) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		})

		d.Set(Visible) // no transition
		d.Set(Hidden)
		d.Set(Hidden) // no transition
		d.Set(Visible)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []State{Hidden, Visible}, seen)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		d := NewDispatcher()

		var mu sync.Mutex
		calls := 0
		unsub := d.Subscribe(func(State) {
			mu.Lock()
			calls++
			mu.Unlock()
		})

		d.Set(Hidden)
		unsub()
		d.Set(Visible)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, calls)
	})
}

type fakeController struct {
	mu           sync.Mutex
	initialized  bool
	reconcileErr bool
	reconciles   int
}

func (f *fakeController) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *fakeController) Reconcile(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles++
	return !f.reconcileErr
}

func (f *fakeController) reconcileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconciles
}

func newTestStore(t *testing.T) *tokenstore.Store {
	t.Helper()
	return tokenstore.NewStore(t.TempDir(), 24*time.Hour)
}

func TestReconciler(t *testing.T) {
	interval := 5 * time.Minute

	t.Run("hidden transition has no side effects", func(t *testing.T) {
		ctrl := &fakeController{initialized: true}
		store := newTestStore(t)
		d := NewDispatcher()
		r := NewReconciler(ctrl, store, d, interval)
		defer r.Close()

		store.SetLastCheck(time.Now().Add(-time.Hour))

		d.Set(Hidden)

		assert.Equal(t, 0, ctrl.reconcileCount())
		// The transition itself is recorded via the heartbeat.
		assert.False(t, store.LoadState().HeartbeatAt.IsZero())
	})

	t.Run("refocus outside the interval re-validates", func(t *testing.T) {
		ctrl := &fakeController{initialized: true}
		store := newTestStore(t)
		d := NewDispatcher()
		r := NewReconciler(ctrl, store, d, interval)
		defer r.Close()

		store.SetLastCheck(time.Now().Add(-time.Hour))

		d.Set(Hidden)
		d.Set(Visible)

		assert.Equal(t, 1, ctrl.reconcileCount())
		assert.WithinDuration(t, time.Now(), store.LoadState().LastCheckAt, 2*time.Second)
	})

	t.Run("refocus inside the interval is a no-op", func(t *testing.T) {
		ctrl := &fakeController{initialized: true}
		store := newTestStore(t)
		d := NewDispatcher()
		r := NewReconciler(ctrl, store, d, interval)
		defer r.Close()

		// Two minutes old: within the five minute window.
		lastCheck := time.Now().Add(-2 * time.Minute)
		store.SetLastCheck(lastCheck)

		d.Set(Hidden)
		d.Set(Visible)

		assert.Equal(t, 0, ctrl.reconcileCount())
		assert.WithinDuration(t, lastCheck, store.LoadState().LastCheckAt, 2*time.Second)
	})

	t.Run("failed re-validation leaves last-check untouched", func(t *testing.T) {
		ctrl := &fakeController{initialized: true, reconcileErr: true}
		store := newTestStore(t)
		d := NewDispatcher()
		r := NewReconciler(ctrl, store, d, interval)
		defer r.Close()

		lastCheck := time.Now().Add(-time.Hour)
		store.SetLastCheck(lastCheck)

		d.Set(Hidden)
		d.Set(Visible)

		assert.Equal(t, 1, ctrl.reconcileCount())
		assert.WithinDuration(t, lastCheck, store.LoadState().LastCheckAt, 2*time.Second,
			"last-check records successful re-validations only")
	})

	t.Run("inert before initialize completes", func(t *testing.T) {
		ctrl := &fakeController{initialized: false}
		store := newTestStore(t)
		d := NewDispatcher()
		r := NewReconciler(ctrl, store, d, interval)
		defer r.Close()

		store.SetLastCheck(time.Now().Add(-time.Hour))

		d.Set(Hidden)
		d.Set(Visible)

		assert.Equal(t, 0, ctrl.reconcileCount())
	})

	t.Run("close stops reacting", func(t *testing.T) {
		ctrl := &fakeController{initialized: true}
		store := newTestStore(t)
		d := NewDispatcher()
		r := NewReconciler(ctrl, store, d, interval)

		store.SetLastCheck(time.Now().Add(-time.Hour))
		r.Close()

		d.Set(Hidden)
		d.Set(Visible)

		assert.Equal(t, 0, ctrl.reconcileCount())
	})
}

func TestReconciler_Heartbeat(t *testing.T) {
	t.Run("fresh reconciler seeds the heartbeat", func(t *testing.T) {
		ctrl := &fakeController{initialized: true}
		store := newTestStore(t)
		d := NewDispatcher()
		r := NewReconciler(ctrl, store, d, time.Minute)
		defer r.Close()

		state := store.LoadState()
		assert.NotEmpty(t, state.TabID)
		assert.False(t, state.HeartbeatAt.IsZero())
	})

	t.Run("recent heartbeat means returning from background", func(t *testing.T) {
		ctrl := &fakeController{initialized: true}
		store := newTestStore(t)
		d := NewDispatcher()
		r := NewReconciler(ctrl, store, d, time.Minute)
		defer r.Close()

		assert.True(t, r.ReturningFromBackground(time.Now()))
		assert.False(t, r.ReturningFromBackground(time.Now().Add(time.Hour)), "stale heartbeat means fresh reload")
	})

	t.Run("another tab's heartbeat does not count", func(t *testing.T) {
		ctrl := &fakeController{initialized: true}
		store := newTestStore(t)
		d := NewDispatcher()
		r := NewReconciler(ctrl, store, d, time.Minute)
		defer r.Close()

		state := store.LoadState()
		state.TabID = "some-other-tab"
		store.SaveState(state)

		assert.False(t, r.ReturningFromBackground(time.Now()))
	})
}

func TestStateString(t *testing.T) {
	require.Equal(t, "visible", Visible.String())
	require.Equal(t, "hidden", Hidden.String())
}
