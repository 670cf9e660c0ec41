package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestFromTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tests := []struct {
		name     string
		claims   jwt.MapClaims
		wantID   int64
		wantUser string
	}{
		{"sub string", jwt.MapClaims{"sub": "7", "unique_name": "ana", "exp": exp.Unix()}, 7, "ana"},
		{"nameid", jwt.MapClaims{"nameid": "42", "name": "bo"}, 42, "bo"},
		{"numeric userId", jwt.MapClaims{"userId": 9.0}, 9, ""},
		{"dotnet claim", jwt.MapClaims{"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier": "11"}, 11, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := FromToken(signed(t, tt.claims))
			if err != nil {
				t.Fatalf("FromToken() error = %v", err)
			}
			if s.UserID != tt.wantID || s.Username != tt.wantUser {
				t.Errorf("got id=%d user=%q, want %d %q", s.UserID, s.Username, tt.wantID, tt.wantUser)
			}
		})
	}
}

func TestFromTokenWithoutUserID(t *testing.T) {
	if _, err := FromToken(signed(t, jwt.MapClaims{"name": "anon"})); err == nil {
		t.Error("FromToken() expected error without user id claim")
	}
	if _, err := FromToken("not-a-jwt"); err == nil {
		t.Error("FromToken() expected error for malformed token")
	}
}

func TestExpired(t *testing.T) {
	past := signed(t, jwt.MapClaims{"sub": "7", "exp": time.Now().Add(-time.Minute).Unix()})
	s, err := FromToken(past)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Expired(time.Now()) {
		t.Error("Expired() = false for past exp")
	}
	if (&Session{UserID: 1, Token: "x"}).Expired(time.Now()) {
		t.Error("Expired() = true without exp")
	}
}

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	token := signed(t, jwt.MapClaims{"sub": "7"})

	if err := Save(path, &Session{UserID: 7, Username: "ana", Token: token}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.UserID != 7 || s.Username != "ana" || s.Token != token {
		t.Errorf("loaded %+v", s)
	}

	if err := Clear(path); err != nil {
		t.Fatal(err)
	}
	if err := Clear(path); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrNoSession) {
		t.Errorf("Load() after clear error = %v, want ErrNoSession", err)
	}
}

func TestGuardTripsOnce(t *testing.T) {
	g := NewGuard()
	calls := 0
	g.OnTrip(func() { calls++ })

	g.Trip()
	g.Trip()
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if !g.Tripped() {
		t.Error("Tripped() = false")
	}

	late := false
	g.OnTrip(func() { late = true })
	if !late {
		t.Error("handler registered after trip did not run")
	}
}
