// ABOUTME: Tests for session token loading and expiry handling
// ABOUTME: Uses locally signed HS256 tokens since only claims are inspected

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestFromToken(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	s, err := FromToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-42", s.UserID())
	assert.Equal(t, raw, s.Token())
	assert.False(t, s.Expired())
}

func TestFromToken_ExpiredFailsFast(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := FromToken(raw)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestFromToken_MissingSubject(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := FromToken(raw)
	assert.Error(t, err)
}

func TestFromToken_NoExpiryNeverExpiresLocally(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{"sub": "user-42"})

	s, err := FromToken(raw)
	require.NoError(t, err)
	assert.False(t, s.Expired())
}

func TestFromToken_Empty(t *testing.T) {
	_, err := FromToken("")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFromToken_Garbage(t *testing.T) {
	_, err := FromToken("not-a-jwt")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{"sub": "user-42"})
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte(raw+"\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "user-42", s.UserID())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, ErrNoToken)
}
