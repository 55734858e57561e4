package visibility

import (
	"sync"
	"time"
)

// State is the tab's foreground/background status.
type State int

const (
	Visible State = iota
	Hidden
)

func (s State) String() string {
	if s == Hidden {
		return "hidden"
	}
	return "visible"
}

// Dispatcher is the single registered sink for the platform's visibility
// signal. Interested components subscribe here instead of each hooking the
// platform event independently.
type Dispatcher struct {
	mu      sync.Mutex
	state   State
	nextID  int
	subs    map[int]func(State)
}

// NewDispatcher creates a dispatcher starting in the Visible state.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{state: Visible, subs: make(map[int]func(State))}
}

// State returns the current visibility state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers a transition callback and returns an unsubscribe
// function. The callback receives the new state.
func (d *Dispatcher) Subscribe(fn func(State)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.subs[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// Set records a visibility transition and notifies subscribers. Setting the
// current state again is a no-op.
func (d *Dispatcher) Set(state State) {
	d.mu.Lock()
	if d.state == state {
		d.mu.Unlock()
		return
	}
	d.state = state
	fns := make([]func(State), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// ShouldCheck decides whether a session re-validation is due. Always true on
// the initial load; afterwards only when the last successful check is older
// than the interval, which bounds request volume across refocus events.
func ShouldCheck(now, lastCheck time.Time, isInitialLoad bool, interval time.Duration) bool {
	if isInitialLoad {
		return true
	}
	return now.Sub(lastCheck) > interval
}
