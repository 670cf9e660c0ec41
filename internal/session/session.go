// Package session holds the authenticated user's identity. The sync core only
// reads it; the host writes it after login and clears it on authorization failure.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

// Session identifies the current user towards the backend and the hub.
type Session struct {
	UserID   int64  `toml:"user_id"`
	Username string `toml:"username"`
	Token    string `toml:"token"`

	// ExpiresAt comes from the token's exp claim; zero when absent.
	ExpiresAt time.Time `toml:"-"`
}

// ErrNoSession is returned by Load when no session file exists.
var ErrNoSession = errors.New("no stored session")

// Claim names carrying the user id, in lookup order.
var userIDClaims = []string{
	"sub",
	"nameid",
	"userId",
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
}

var usernameClaims = []string{
	"unique_name",
	"username",
	"name",
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
}

// Load reads a session file and completes missing fields from the token claims.
func Load(path string) (*Session, error) {
	var s Session
	if _, err := toml.DecodeFile(path, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if err := s.applyClaims(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// FromToken builds a session from a bearer token alone.
func FromToken(token string) (*Session, error) {
	s := &Session{Token: token}
	if err := s.applyClaims(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the session file with owner-only permissions.
func Save(path string, s *Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(s)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Clear removes the session file. A missing file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Validate checks that the session can address the backend.
func (s *Session) Validate() error {
	if s.UserID <= 0 {
		return errors.New("session has no user id")
	}
	if s.Token == "" {
		return errors.New("session has no token")
	}
	return nil
}

// Expired reports whether the token's exp claim is in the past.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// applyClaims reads the token without verifying its signature. The backend
// verifies it on every request.
func (s *Session) applyClaims() error {
	if s.Token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, claims); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
	}
	if s.UserID == 0 {
		for _, name := range userIDClaims {
			if id, ok := claimInt(claims[name]); ok {
				s.UserID = id
				break
			}
		}
	}
	if s.Username == "" {
		for _, name := range usernameClaims {
			if v, ok := claims[name].(string); ok && v != "" {
				s.Username = v
				break
			}
		}
	}
	return nil
}

func claimInt(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), x > 0
	case string:
		id, err := strconv.ParseInt(x, 10, 64)
		return id, err == nil && id > 0
	}
	return 0, false
}
