package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sundialhq/standup/internal/config"
	"github.com/sundialhq/standup/internal/identity"
	"github.com/sundialhq/standup/internal/tokenstore"
)

// Sentinel errors
var (
	// ErrNoSession is returned when an operation needs a session and none exists.
	ErrNoSession = errors.New("no session")

	// ErrSignInFailed is returned when the provider rejects credentials.
	ErrSignInFailed = errors.New("sign in failed")

	// ErrRefreshFailed is returned when a token refresh could not produce a session.
	ErrRefreshFailed = errors.New("session refresh failed")
)

const (
	tokenPath  = "/auth/v1/token"
	otpPath    = "/auth/v1/otp"
	logoutPath = "/auth/v1/logout"
)

// Client talks to the identity provider's session endpoints. All outbound
// requests flow through a composable interceptor pipeline; the refresh
// suppression policy lives there rather than being patched into the
// transport from outside.
type Client struct {
	baseURL string
	apiKey  string
	store   *tokenstore.Store
	policy  config.RefreshPolicy

	transport RoundTripFunc

	events *Broadcaster
	nav    *NavigationState
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the base HTTP transport. Used in tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt.RoundTrip
	}
}

// New creates an auth client for the given provider.
func New(cfg config.Config, store *tokenstore.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.ProviderURL, "/"),
		apiKey:  cfg.APIKey,
		store:   store,
		policy:  cfg.RefreshPolicy,
		events:  NewBroadcaster(),
		nav:     &NavigationState{},
	}
	c.transport = (&http.Client{Timeout: cfg.FetchTimeout}).Do

	for _, opt := range opts {
		opt(c)
	}

	// Assemble the pipeline. The suppression interceptor sits closest to the
	// wire so everything above it sees a normal response.
	c.transport = Chain(c.transport,
		c.headerInterceptor(),
		c.refreshSuppressionInterceptor(),
	)

	log.Debug().
		Str("baseURL", c.baseURL).
		Str("policy", string(c.policy)).
		Msg("auth client initialized")

	return c
}

// Navigation exposes the navigation-in-flight state so the app shell can
// mark page transitions (set on unload, cleared on load).
func (c *Client) Navigation() *NavigationState {
	return c.nav
}

// Events exposes the auth-state-change broadcaster.
func (c *Client) Events() *Broadcaster {
	return c.events
}

// sessionEnvelope is the provider's token response shape.
type sessionEnvelope struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (e *sessionEnvelope) session(now time.Time) (*identity.Session, error) {
	if e.AccessToken == "" {
		return nil, ErrNoSession
	}

	sess := &identity.Session{
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(e.ExpiresIn) * time.Second).UTC(),
	}

	if e.User.ID != "" {
		id, err := uuid.Parse(e.User.ID)
		if err != nil {
			return nil, fmt.Errorf("provider returned invalid user id: %w", err)
		}
		sess.UserID = id
	} else if claims, err := identity.ParseAccessToken(e.AccessToken); err == nil && claims.Subject != "" {
		if id, err := uuid.Parse(claims.Subject); err == nil {
			sess.UserID = id
		}
	}

	return sess, nil
}

// GetSession returns the current session from the token store, expiry
// extended. No network call is made; a nil session means "not signed in".
func (c *Client) GetSession(ctx context.Context) (*identity.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.store.ReadFresh(time.Now()), nil
}

// RefreshSession exchanges the stored refresh token for a new session.
// Subject to the refresh suppression policy: under PreferStability with a
// navigation in flight the pipeline answers from the store without touching
// the network.
func (c *Client) RefreshSession(ctx context.Context) (*identity.Session, error) {
	current, err := c.store.ReadRaw()
	if err != nil || current == nil {
		return nil, ErrNoSession
	}

	body := map[string]string{"refresh_token": current.RefreshToken}
	env, err := c.postJSON(ctx, tokenPath+"?grant_type=refresh_token", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	sess, err := env.session(time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	c.store.Write(*sess, time.Now())
	c.events.Emit(Event{Type: EventTokenRefreshed, Session: sess})

	log.Debug().Str("user_id", sess.UserID.String()).Msg("session refreshed")

	return sess, nil
}

// SignInWithPassword performs a password grant against the provider.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	body := map[string]string{"email": email, "password": password}
	env, err := c.postJSON(ctx, tokenPath+"?grant_type=password", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}

	sess, err := env.session(time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}

	c.store.Write(*sess, time.Now())
	c.events.Emit(Event{Type: EventSignedIn, Session: sess})

	log.Info().Str("user_id", sess.UserID.String()).Msg("signed in")

	return sess, nil
}

// SignInWithOTP asks the provider to send a one-time sign-in link. The
// session, if any, arrives later via the auth-state-change path.
func (c *Client) SignInWithOTP(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	if _, err := c.postJSON(ctx, otpPath, body); err != nil {
		return fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}

	log.Info().Msg("one-time sign-in link requested")

	return nil
}

// SignOut revokes the session with the provider and clears local state.
// The local session is cleared even when the provider call fails; a stale
// provider-side session is preferable to a client that cannot sign out.
func (c *Client) SignOut(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, logoutPath, nil)
	if err != nil {
		return err
	}

	resp, err := c.transport(req)
	if err == nil {
		drain(resp)
		if resp.StatusCode >= 300 {
			err = fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
		}
	}

	c.store.Remove()
	c.events.Emit(Event{Type: EventSignedOut})

	if err != nil {
		log.Warn().Err(err).Msg("provider sign-out failed, local session cleared anyway")
		return fmt.Errorf("sign out: %w", err)
	}

	log.Info().Msg("signed out")

	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*sessionEnvelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.transport(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
	}

	var env sessionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	return &env, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return req, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
}
