// ABOUTME: Bearer-token session for the backend collaborator
// ABOUTME: Loads the token, inspects expiry locally, and owns the Unauthorized sentinel

package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is the fatal session error: a 401 from the backend or a
// token already past its expiry. It is never retried; the caller logs the
// session out.
var ErrUnauthorized = errors.New("session unauthorized")

// ErrNoToken is returned when no token has been stored yet.
var ErrNoToken = errors.New("no session token")

// Session holds the bearer token and the identity claims extracted from it.
type Session struct {
	token   string
	userID  string
	expires time.Time
}

// Load reads the bearer token from the given file and parses its claims.
// The signature is NOT verified here - only the backend holds the secret;
// the local parse exists to expose the subject and to fail fast on a token
// that is already expired.
func Load(path string) (*Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("reading session token: %w", err)
	}
	return FromToken(strings.TrimSpace(string(raw)))
}

// FromToken builds a session from a raw bearer token string.
func FromToken(token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("session token has no subject")
	}

	s := &Session{token: token, userID: sub}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.expires = exp.Time
	}

	if s.Expired() {
		return nil, fmt.Errorf("%w: token expired %s ago",
			ErrUnauthorized, time.Since(s.expires).Round(time.Second))
	}
	return s, nil
}

// Token returns the raw bearer token.
func (s *Session) Token() string {
	return s.token
}

// UserID returns the local user's id, the token's subject claim.
func (s *Session) UserID() string {
	return s.userID
}

// Expired reports whether the token's expiry has passed. Tokens without
// an exp claim never expire locally.
func (s *Session) Expired() bool {
	return !s.expires.IsZero() && time.Now().After(s.expires)
}
