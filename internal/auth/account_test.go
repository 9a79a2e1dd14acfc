package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "69030abde003c64806d5b2bb"

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestResolveUserID(t *testing.T) {
	acc, err := Resolve("  69030ABDE003C64806D5B2BB ", time.Now())
	require.NoError(t, err)
	assert.Equal(t, userID, acc.UserID)
	assert.Empty(t, acc.AccessToken)

	_, err = Resolve("budi", time.Now())
	assert.ErrorIs(t, err, ErrInvalidUserID)

	_, err = Resolve("", time.Now())
	assert.ErrorIs(t, err, ErrEmptyCredential)
}

func TestResolveToken(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("id claim", func(t *testing.T) {
		token := signed(t, jwt.MapClaims{"id": userID, "exp": now.Add(time.Hour).Unix()})
		acc, err := Resolve(token, now)
		require.NoError(t, err)
		assert.Equal(t, userID, acc.UserID)
		assert.Equal(t, token, acc.AccessToken)
		assert.True(t, now.Add(time.Hour).Equal(acc.ExpiresAt))
	})

	t.Run("sub claim", func(t *testing.T) {
		acc, err := Resolve(signed(t, jwt.MapClaims{"sub": userID}), now)
		require.NoError(t, err)
		assert.Equal(t, userID, acc.UserID)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := Resolve(signed(t, jwt.MapClaims{"id": userID, "exp": now.Add(-time.Minute).Unix()}), now)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("no user id", func(t *testing.T) {
		_, err := Resolve(signed(t, jwt.MapClaims{"role": "user"}), now)
		assert.ErrorIs(t, err, ErrNoSubject)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Resolve("a.b.c", now)
		assert.Error(t, err)
	})
}
