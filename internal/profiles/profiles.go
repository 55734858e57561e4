package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sundialhq/standup/internal/identity"
)

// ErrProfileNotFound is returned when no profile row exists for a user id.
var ErrProfileNotFound = errors.New("profile not found")

const profilesPath = "/rest/v1/profiles"

// Doer executes an authenticated request. Satisfied by authclient.Client,
// which adds the bearer token and the 406 refresh-and-retry cycle.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Profile is the provider-side record keyed by user id. Role lives here, not
// in the token.
type Profile struct {
	ID       uuid.UUID     `json:"id"`
	FullName string        `json:"full_name"`
	Team     string        `json:"team"`
	Role     identity.Role `json:"role"`
}

// Resolver looks up profile records through the provider's row-level query
// interface.
type Resolver struct {
	doer    Doer
	baseURL string
	timeout time.Duration
}

// NewResolver creates a profile resolver.
func NewResolver(doer Doer, providerURL string, timeout time.Duration) *Resolver {
	return &Resolver{
		doer:    doer,
		baseURL: strings.TrimRight(providerURL, "/"),
		timeout: timeout,
	}
}

// Fetch returns the profile for a user id.
func (r *Resolver) Fetch(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := url.Values{
		"id":     []string{"eq." + userID.String()},
		"select": []string{"id,full_name,team,role"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+profilesPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}

	resp, err := r.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile lookup returned HTTP %d", resp.StatusCode)
	}

	var rows []Profile
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	if len(rows) == 0 {
		return nil, ErrProfileNotFound
	}

	log.Debug().
		Str("user_id", userID.String()).
		Str("role", string(rows[0].Role)).
		Msg("profile resolved")

	return &rows[0], nil
}

// LookupRole resolves just the role for a user id. An error leaves the role
// unresolved; callers must treat an unresolved role as unauthorized, never
// default-authorized.
func (r *Resolver) LookupRole(ctx context.Context, userID uuid.UUID) (identity.Role, error) {
	profile, err := r.Fetch(ctx, userID)
	if err != nil {
		return identity.RoleUnknown, err
	}
	if !profile.Role.Resolved() {
		return identity.RoleUnknown, fmt.Errorf("profile has unrecognised role %q", profile.Role)
	}
	return profile.Role, nil
}
