package guard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/sundialhq/standup/internal/config"
	"github.com/sundialhq/standup/internal/identity"
	"github.com/sundialhq/standup/internal/visibility"
)

var errRefreshFailed = errors.New("session refresh failed")

// Decision is the guard's per-navigation state.
type Decision int

const (
	// Checking means the guard is still waiting for auth resolution; the UI
	// shows a loading placeholder.
	Checking Decision = iota
	// Authorized means the user's role is in the allow-list; render children.
	Authorized
	// Redirecting means the guard issued a route replacement.
	Redirecting
	// Bypassed means children are rendered despite incomplete auth
	// resolution, restricted to operationally-sensitive routes.
	Bypassed
)

func (d Decision) String() string {
	switch d {
	case Authorized:
		return "authorized"
	case Redirecting:
		return "redirecting"
	case Bypassed:
		return "bypassed"
	default:
		return "checking"
	}
}

// RenderChildren reports whether the protected content should be shown.
func (d Decision) RenderChildren() bool {
	return d == Authorized || d == Bypassed
}

// Controller is the subset of the session controller the guard consumes.
type Controller interface {
	CurrentUser() *identity.User
	IsLoading() bool
	ForceSessionRefresh(ctx context.Context) bool
	OnChange(fn func()) func()
}

// Navigator performs a route replacement.
type Navigator interface {
	Replace(path string)
}

// Guard gates protected routes on the session controller's state. One Guard
// serves the whole app; each navigation gets its own Navigation state
// machine from Check.
type Guard struct {
	controller Controller
	dispatcher *visibility.Dispatcher
	routes     config.Routes

	safetyTimeout  time.Duration
	retryCap       int
	bypassPrefixes []string
}

// New creates a route guard.
func New(controller Controller, dispatcher *visibility.Dispatcher, cfg config.Config) *Guard {
	return &Guard{
		controller:     controller,
		dispatcher:     dispatcher,
		routes:         cfg.Routes,
		safetyTimeout:  cfg.GuardSafetyTimeout,
		retryCap:       cfg.GuardRetryCap,
		bypassPrefixes: cfg.BypassPathPrefixes,
	}
}

// RedirectTarget is the pure routing function for a settled auth state: it
// maps the (possibly absent) user onto the route they belong on.
func (g *Guard) RedirectTarget(user *identity.User) string {
	if user == nil {
		return g.routes.Landing
	}
	switch user.Role {
	case identity.RoleAdmin, identity.RoleManager:
		return g.routes.ManagementDashboard
	case identity.RoleUser:
		return g.routes.UserDashboard
	default:
		return g.routes.Landing
	}
}

func (g *Guard) isBypassPath(path string) bool {
	for _, prefix := range g.bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Navigation is the per-navigation state machine:
// Checking -> {Authorized, Redirecting, Bypassed}.
type Navigation struct {
	guard     *Guard
	ctx       context.Context
	path      string
	allowed   []identity.Role
	navigator Navigator

	mu               sync.Mutex
	decision         Decision
	retries          int
	timedOut         bool
	redirectInFlight bool
	pendingTimeout   bool
	pendingRedirect  string
	timer            *time.Timer
	done             chan struct{}

	unsubController func()
	unsubVisibility func()
}

// Check starts gating a navigation to path for the given role allow-list.
// The returned Navigation settles into a terminal decision within
// safetyTimeout + retryCap*refreshLatency of the call; Close it when the
// route unmounts.
func (g *Guard) Check(ctx context.Context, path string, allowed []identity.Role, navigator Navigator) *Navigation {
	n := &Navigation{
		guard:     g,
		ctx:       ctx,
		path:      path,
		allowed:   allowed,
		navigator: navigator,
		done:      make(chan struct{}),
	}

	n.unsubController = g.controller.OnChange(n.evaluate)
	n.unsubVisibility = g.dispatcher.Subscribe(n.onVisibility)

	log.Debug().Str("path", path).Msg("route guard checking")

	n.evaluate()

	return n
}

// Decision returns the current state of the navigation.
func (n *Navigation) Decision() Decision {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.decision
}

// Done is closed once the navigation reaches a terminal decision.
func (n *Navigation) Done() <-chan struct{} {
	return n.done
}

// Close releases the navigation's subscriptions and timer. Safe to call at
// any point; pending effects are dropped.
func (n *Navigation) Close() {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	if n.unsubController != nil {
		n.unsubController()
	}
	if n.unsubVisibility != nil {
		n.unsubVisibility()
	}
}

// evaluate advances the state machine. It runs on mount, on every controller
// transition, and after visibility or timer events.
func (n *Navigation) evaluate() {
	n.mu.Lock()
	if n.decision != Checking {
		n.mu.Unlock()
		return
	}

	user := n.guard.controller.CurrentUser()

	// Role match renders immediately, regardless of loading state.
	if user != nil && user.Role.In(n.allowed) {
		n.settleLocked(Authorized)
		n.mu.Unlock()
		log.Debug().Str("path", n.path).Str("role", string(user.Role)).Msg("route authorized")
		return
	}

	if !n.guard.controller.IsLoading() {
		target := n.guard.RedirectTarget(user)
		n.mu.Unlock()
		n.redirect(target)
		return
	}

	// Still loading: arm the safety timer once.
	if n.timer == nil && !n.timedOut {
		n.timer = time.AfterFunc(n.guard.safetyTimeout, n.onSafetyTimeout)
	}
	n.mu.Unlock()
}

// onSafetyTimeout handles the stalled-resolution escape hatch. Loading is
// re-checked at fire time; the controller may have settled while the timer
// was pending.
func (n *Navigation) onSafetyTimeout() {
	n.mu.Lock()
	if n.decision != Checking {
		n.mu.Unlock()
		return
	}
	n.timer = nil
	n.timedOut = true

	if n.guard.dispatcher.State() == visibility.Hidden {
		// No timer-driven side effects while hidden; handled on refocus.
		n.pendingTimeout = true
		n.mu.Unlock()
		log.Debug().Str("path", n.path).Msg("safety timeout while hidden, deferring")
		return
	}
	n.mu.Unlock()

	n.handleTimeout()
}

func (n *Navigation) handleTimeout() {
	if !n.guard.controller.IsLoading() {
		n.evaluate()
		return
	}

	if n.guard.isBypassPath(n.path) {
		// Availability over consistency on operator routes: render children
		// rather than locking operators out during provider slowness.
		n.mu.Lock()
		if n.decision == Checking {
			n.settleLocked(Bypassed)
			n.mu.Unlock()
			log.Warn().Str("path", n.path).Msg("auth resolution stalled, bypassing protection on sensitive route")
			return
		}
		n.mu.Unlock()
		return
	}

	n.mu.Lock()
	remaining := n.guard.retryCap - n.retries
	n.mu.Unlock()

	if remaining > 0 {
		refreshed, _ := backoff.Retry(n.ctx, func() (bool, error) {
			n.mu.Lock()
			n.retries++
			n.mu.Unlock()
			if n.guard.controller.ForceSessionRefresh(n.ctx) {
				return true, nil
			}
			return false, errRefreshFailed
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(uint(remaining)),
		)

		if refreshed {
			// Re-enter checking with a fresh safety window.
			n.mu.Lock()
			n.timedOut = false
			if n.decision == Checking && n.timer == nil {
				n.timer = time.AfterFunc(n.guard.safetyTimeout, n.onSafetyTimeout)
			}
			n.mu.Unlock()
			n.evaluate()
			return
		}
	}

	// Retries exhausted: give the controller one last look, then force a
	// terminal decision rather than waiting on a transition.
	n.evaluate()

	n.mu.Lock()
	settled := n.decision != Checking
	n.mu.Unlock()
	if settled {
		return
	}

	n.redirect(n.guard.RedirectTarget(n.guard.controller.CurrentUser()))
}

// redirect issues a single route replacement, deferred while the tab is
// hidden and guarded against duplicate concurrent calls.
func (n *Navigation) redirect(target string) {
	n.mu.Lock()
	if n.decision != Checking || n.redirectInFlight {
		n.mu.Unlock()
		return
	}

	if n.guard.dispatcher.State() == visibility.Hidden {
		n.pendingRedirect = target
		n.mu.Unlock()
		log.Debug().Str("path", n.path).Str("target", target).Msg("redirect deferred while hidden")
		return
	}

	n.redirectInFlight = true
	n.settleLocked(Redirecting)
	n.mu.Unlock()

	log.Debug().Str("path", n.path).Str("target", target).Msg("route redirecting")

	n.navigator.Replace(target)
}

// onVisibility applies deferred decisions once the tab is visible again.
func (n *Navigation) onVisibility(state visibility.State) {
	if state != visibility.Visible {
		return
	}

	n.mu.Lock()
	pendingTimeout := n.pendingTimeout
	pendingRedirect := n.pendingRedirect
	n.pendingTimeout = false
	n.pendingRedirect = ""
	n.mu.Unlock()

	if pendingRedirect != "" {
		n.redirect(pendingRedirect)
		return
	}
	if pendingTimeout {
		n.handleTimeout()
	}
}

// settleLocked marks a terminal decision. Caller holds n.mu.
func (n *Navigation) settleLocked(d Decision) {
	n.decision = d
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	close(n.done)
}
