package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sundialhq/standup/internal/authclient"
	"github.com/sundialhq/standup/internal/identity"
)

// Phase is the controller's lifecycle state.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseReady
)

// AuthClient is the subset of the remote auth client the controller needs.
type AuthClient interface {
	GetSession(ctx context.Context) (*identity.Session, error)
	RefreshSession(ctx context.Context) (*identity.Session, error)
	SignOut(ctx context.Context) error
}

// RoleResolver resolves a user's role from the profile record.
type RoleResolver interface {
	LookupRole(ctx context.Context, userID uuid.UUID) (identity.Role, error)
}

// Navigator performs a route replacement. The UI shell provides the real
// implementation.
type Navigator interface {
	Replace(path string)
}

// Notifier surfaces a user-visible, non-fatal notification.
type Notifier interface {
	Notify(message string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string) {}

// Controller owns the in-memory representation of the current user. It is
// constructed once at the application root with an explicit lifecycle
// (Initialize/Close) and injected into consumers; there is no package-level
// auth state.
type Controller struct {
	auth      AuthClient
	roles     RoleResolver
	navigator Navigator
	notifier  Notifier
	landing   string

	initOnce    sync.Once
	unsubscribe func()

	mu          sync.Mutex
	phase       Phase
	refreshing  bool
	initialized bool
	live        bool
	user        *identity.User
	sess        *identity.Session
	// generation increments whenever the user identity changes; role lookups
	// in flight for a superseded generation are discarded.
	generation uint64

	listenerMu   sync.Mutex
	nextListener int
	listeners    map[int]func()
}

// New creates a session controller. events may be nil when no push channel
// exists (tests).
func New(auth AuthClient, roles RoleResolver, navigator Navigator, notifier Notifier, landing string, events *authclient.Broadcaster) *Controller {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	c := &Controller{
		auth:      auth,
		roles:     roles,
		navigator: navigator,
		notifier:  notifier,
		landing:   landing,
		phase:     PhaseUninitialized,
		live:      true,
		listeners: make(map[int]func()),
	}

	if events != nil {
		c.unsubscribe = events.Subscribe(c.onAuthEvent)
	}

	return c
}

// Initialize resolves the current session and role. It runs exactly once per
// controller; later calls are no-ops. Errors are logged and converted into
// "no user" state so the loading phase always ends.
func (c *Controller) Initialize(ctx context.Context) {
	c.initOnce.Do(func() {
		c.mu.Lock()
		c.phase = PhaseLoading
		c.mu.Unlock()
		c.notifyListeners()

		defer func() {
			c.mu.Lock()
			c.phase = PhaseReady
			c.initialized = true
			c.mu.Unlock()
			c.notifyListeners()
		}()

		sess, err := c.auth.GetSession(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to read session during initialize")
			return
		}

		if sess == nil {
			log.Debug().Msg("no session at initialize")
			c.setUser(nil, nil)
			return
		}

		c.applySession(ctx, sess)
	})
}

// Initialized reports whether Initialize has completed. The visibility
// reconciler stays inert until this is true.
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// IsLoading reports whether the controller has not yet settled.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase != PhaseReady
}

// Refreshing reports whether a forced refresh is in flight.
func (c *Controller) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// CurrentUser returns a copy of the current user, nil when signed out. The
// user and its role are always swapped together, so callers never observe an
// old user's role against a new user's identity.
func (c *Controller) CurrentUser() *identity.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// CurrentSession returns a copy of the current session, nil when signed out.
func (c *Controller) CurrentSession() *identity.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	s := *c.sess
	return &s
}

// ForceSessionRefresh refreshes the session through the auth client, subject
// to its interception policy. Returns true on success; failures surface a
// user-visible notification and return false.
func (c *Controller) ForceSessionRefresh(ctx context.Context) bool {
	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return false
	}
	c.refreshing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
		c.notifyListeners()
	}()

	sess, err := c.auth.RefreshSession(ctx)
	if err != nil || sess == nil {
		log.Warn().Err(err).Msg("forced session refresh failed")
		c.notifier.Notify("Could not refresh your session. Please sign in again if this persists.")
		return false
	}

	c.applySession(ctx, sess)
	return true
}

// SignOut revokes the session and navigates to the landing route. The
// loading flag is held for the duration and always cleared, so a provider
// failure cannot leave the UI stuck.
func (c *Controller) SignOut(ctx context.Context) {
	c.mu.Lock()
	c.phase = PhaseLoading
	c.mu.Unlock()
	c.notifyListeners()

	defer func() {
		c.mu.Lock()
		c.phase = PhaseReady
		c.mu.Unlock()
		c.notifyListeners()
	}()

	if err := c.auth.SignOut(ctx); err != nil {
		log.Warn().Err(err).Msg("provider sign-out failed")
	}

	c.setUser(nil, nil)

	if c.navigator != nil {
		c.navigator.Replace(c.landing)
	}
}

// Reconcile performs a silent session read and applies the result only when
// it differs from the in-memory session. Used by the visibility reconciler
// on tab refocus; never triggers a provider refresh. Returns false when the
// read failed, so callers do not record a successful re-validation.
func (c *Controller) Reconcile(ctx context.Context) bool {
	sess, err := c.auth.GetSession(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("silent session read failed")
		return false
	}

	c.mu.Lock()
	current := c.sess
	c.mu.Unlock()

	switch {
	case sess == nil && current == nil:
		return true
	case sess != nil && sess.Equal(current):
		return true
	case sess == nil:
		log.Info().Msg("session disappeared while tab was hidden")
		c.setUser(nil, nil)
	default:
		log.Debug().Msg("session changed while tab was hidden, applying")
		c.applySession(ctx, sess)
	}

	return true
}

// Close ends the controller's lifecycle. Callbacks and in-flight operations
// observe the liveness flag and stop mutating state; this is the cooperative
// stand-in for cancelling network calls.
func (c *Controller) Close() {
	c.mu.Lock()
	c.live = false
	c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// OnChange registers a listener fired after every state transition. Returns
// an unsubscribe function.
func (c *Controller) OnChange(fn func()) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn

	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Controller) notifyListeners() {
	c.listenerMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// setUser replaces user and session atomically. A nil user clears both.
func (c *Controller) setUser(user *identity.User, sess *identity.Session) {
	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return
	}
	c.user = user
	c.sess = sess
	c.generation++
	c.mu.Unlock()
	c.notifyListeners()
}

// applySession installs a session and resolves its user's role. The role
// lookup result is discarded if the user identity changed underneath it or
// the controller was closed in the meantime.
func (c *Controller) applySession(ctx context.Context, sess *identity.Session) {
	user, err := identity.UserFromSession(sess)
	if err != nil {
		log.Error().Err(err).Msg("session carries an unusable token")
		c.setUser(nil, nil)
		return
	}

	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return
	}
	c.user = user
	c.sess = sess
	c.generation++
	gen := c.generation
	c.mu.Unlock()
	c.notifyListeners()

	role, err := c.roles.LookupRole(ctx, user.ID)
	if err != nil {
		// Role stays unresolved: present but unauthorized for gated routes.
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("role lookup failed")
		return
	}

	c.mu.Lock()
	if c.live && c.generation == gen && c.user != nil {
		u := *c.user
		u.Role = role
		c.user = &u
		c.mu.Unlock()
		c.notifyListeners()
		return
	}
	c.mu.Unlock()

	log.Debug().Str("user_id", user.ID.String()).Msg("discarded role lookup for superseded user")
}

// onAuthEvent is the push path: sign-in/out/refresh originating elsewhere.
// It applies the same user/role-resolution logic as the explicit paths;
// last writer wins on user identity.
func (c *Controller) onAuthEvent(event authclient.Event) {
	c.mu.Lock()
	live := c.live
	current := c.sess
	c.mu.Unlock()

	if !live {
		return
	}

	switch event.Type {
	case authclient.EventSignedOut:
		log.Info().Msg("signed out via auth state change")
		c.setUser(nil, nil)

	case authclient.EventSignedIn, authclient.EventTokenRefreshed:
		if event.Session == nil {
			return
		}
		if event.Session.Equal(current) {
			// Same credentials; applying again would only churn listeners.
			return
		}
		c.applySession(context.Background(), event.Session)
	}
}
