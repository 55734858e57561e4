package identity

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when an access token cannot be parsed.
var ErrInvalidToken = errors.New("invalid access token")

// Role gates which routes and data a user may access.
type Role string

const (
	RoleUnknown Role = ""
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Resolved reports whether the role has been looked up successfully.
// An unresolved role is never authorized for any role-gated action.
func (r Role) Resolved() bool {
	return r == RoleUser || r == RoleManager || r == RoleAdmin
}

// In reports whether the role is in the allow-list.
func (r Role) In(allowed []Role) bool {
	if !r.Resolved() {
		return false
	}
	return slices.Contains(allowed, r)
}

// ParseRole maps a stored role string onto a Role, RoleUnknown if unrecognised.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleUser, RoleManager, RoleAdmin:
		return Role(s)
	default:
		return RoleUnknown
	}
}

// User is the authenticated identity as exposed to the UI layers.
// Role is resolved by a secondary profile lookup keyed by ID and stays
// RoleUnknown until that lookup succeeds.
type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  Role      `json:"role"`
}

// Session is the authenticated credential pair plus expiry and owning user.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       uuid.UUID `json:"user_id"`
}

// Expired reports whether the session's expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// SameUser reports whether two sessions belong to the same user.
func (s *Session) SameUser(other *Session) bool {
	if other == nil {
		return false
	}
	return s.UserID == other.UserID
}

// Equal reports whether two sessions carry the same credentials. The expiry
// is deliberately excluded: the store rewrites it on every read.
func (s *Session) Equal(other *Session) bool {
	if other == nil {
		return false
	}
	return s.AccessToken == other.AccessToken &&
		s.RefreshToken == other.RefreshToken &&
		s.UserID == other.UserID
}

// TokenClaims is the subset of access-token claims the client reads.
// The client never verifies the signature; the provider is the verifier and
// the token is opaque beyond these fields.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// ParseAccessToken extracts the owning user id and expiry from an access
// token without verifying its signature.
func ParseAccessToken(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// UserFromSession builds a User from a session's token claims. The role is
// left unresolved; callers resolve it with a profile lookup.
func UserFromSession(s *Session) (*User, error) {
	claims, err := ParseAccessToken(s.AccessToken)
	if err != nil {
		return nil, err
	}

	user := &User{ID: s.UserID, Email: claims.Email}
	if user.ID == uuid.Nil && claims.Subject != "" {
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
		}
		user.ID = id
	}

	return user, nil
}
