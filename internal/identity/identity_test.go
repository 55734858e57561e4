package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, subject, email string, expiresAt time.Time) string {
	t.Helper()

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: email,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestRole(t *testing.T) {
	t.Run("only known roles are resolved", func(t *testing.T) {
		assert.True(t, RoleUser.Resolved())
		assert.True(t, RoleManager.Resolved())
		assert.True(t, RoleAdmin.Resolved())
		assert.False(t, RoleUnknown.Resolved())
		assert.False(t, Role("superuser").Resolved())
	})

	t.Run("unresolved role is never in an allow-list", func(t *testing.T) {
		allowed := []Role{RoleAdmin, RoleManager, RoleUnknown}
		assert.False(t, RoleUnknown.In(allowed))
	})

	t.Run("membership check", func(t *testing.T) {
		allowed := []Role{RoleAdmin, RoleManager}
		assert.True(t, RoleManager.In(allowed))
		assert.False(t, RoleUser.In(allowed))
	})

	t.Run("parse maps unknown strings to RoleUnknown", func(t *testing.T) {
		assert.Equal(t, RoleManager, ParseRole("manager"))
		assert.Equal(t, RoleUnknown, ParseRole("root"))
		assert.Equal(t, RoleUnknown, ParseRole(""))
	})
}

func TestParseAccessToken(t *testing.T) {
	t.Run("extracts subject and email", func(t *testing.T) {
		id := uuid.New()
		token := mintToken(t, id.String(), "casey@example.com", time.Now().Add(time.Hour))

		claims, err := ParseAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, id.String(), claims.Subject)
		assert.Equal(t, "casey@example.com", claims.Email)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseAccessToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestUserFromSession(t *testing.T) {
	t.Run("uses session user id when set", func(t *testing.T) {
		id := uuid.New()
		sess := &Session{
			AccessToken: mintToken(t, id.String(), "casey@example.com", time.Now().Add(time.Hour)),
			UserID:      id,
		}

		user, err := UserFromSession(sess)
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "casey@example.com", user.Email)
		assert.Equal(t, RoleUnknown, user.Role)
	})

	t.Run("falls back to token subject", func(t *testing.T) {
		id := uuid.New()
		sess := &Session{
			AccessToken: mintToken(t, id.String(), "casey@example.com", time.Now().Add(time.Hour)),
		}

		user, err := UserFromSession(sess)
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
	})

	t.Run("role starts unresolved", func(t *testing.T) {
		id := uuid.New()
		sess := &Session{
			AccessToken: mintToken(t, id.String(), "", time.Now().Add(time.Hour)),
			UserID:      id,
		}

		user, err := UserFromSession(sess)
		require.NoError(t, err)
		assert.False(t, user.Role.Resolved())
	})
}

func TestSession(t *testing.T) {
	t.Run("expiry check", func(t *testing.T) {
		now := time.Now()
		sess := &Session{ExpiresAt: now.Add(-time.Minute)}
		assert.True(t, sess.Expired(now))

		sess.ExpiresAt = now.Add(time.Minute)
		assert.False(t, sess.Expired(now))
	})

	t.Run("equal ignores expiry", func(t *testing.T) {
		id := uuid.New()
		a := &Session{AccessToken: "at", RefreshToken: "rt", UserID: id, ExpiresAt: time.Now()}
		b := &Session{AccessToken: "at", RefreshToken: "rt", UserID: id, ExpiresAt: time.Now().Add(time.Hour)}
		assert.True(t, a.Equal(b))

		b.AccessToken = "other"
		assert.False(t, a.Equal(b))
		assert.False(t, a.Equal(nil))
	})
}
