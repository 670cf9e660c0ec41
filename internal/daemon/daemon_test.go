package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/client"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/profile"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/store"
)

const me = 7

// backendStub emulates the REST backend and the push hub.
type backendStub struct {
	api   *httptest.Server
	hub   *httptest.Server
	conns chan *websocket.Conn
	// inboxStatus overrides the inbox reply status when non-zero.
	inboxStatus int
}

func newBackendStub(t *testing.T, inboxStatus int) *backendStub {
	t.Helper()
	s := &backendStub{conns: make(chan *websocket.Conn, 4), inboxStatus: inboxStatus}

	r := chi.NewRouter()
	r.Get("/api/inbox", func(w http.ResponseWriter, _ *http.Request) {
		if s.inboxStatus != 0 {
			w.WriteHeader(s.inboxStatus)
			return
		}
		writeJSON(w, []map[string]any{
			{"contactId": 42, "contactUsername": "bo", "lastMessage": "hi", "sendTime": "2024-05-01T10:00:00Z", "unreadCount": 1},
		})
	})
	r.Get("/api/messages/history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{"messageId": 1, "senderId": 42, "receiverId": me, "text": "hi", "sendTime": "2024-05-01T10:00:00Z"},
		})
	})
	r.Post("/api/messages/send", func(w http.ResponseWriter, req *http.Request) {
		_ = req.ParseMultipartForm(1 << 20)
		writeJSON(w, map[string]any{"messageId": 2, "senderId": me, "receiverId": 42, "text": req.FormValue("text")})
	})
	s.api = httptest.NewServer(r)
	t.Cleanup(s.api.Close)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	h := chi.NewRouter()
	h.Get("/chathub", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			_ = conn.Close()
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{}\x1e"))
		s.conns <- conn
	})
	s.hub = httptest.NewServer(h)
	t.Cleanup(s.hub.Close)
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// setupProfile points DMSYNC_HOME at a short temp dir and writes the
// session and settings of profile "test".
func setupProfile(t *testing.T, stub *backendStub, token string) {
	t.Helper()
	// Use /tmp for short socket paths (104-char Unix socket limit on macOS).
	home, err := os.MkdirTemp("/tmp", "dms-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(home) })
	t.Setenv("DMSYNC_HOME", home)

	if err := session.Save(profile.SessionPath("test"), &session.Session{UserID: me, Username: "al", Token: token}); err != nil {
		t.Fatal(err)
	}
	settings := config.DefaultProfile()
	settings.APIBaseURL = stub.api.URL
	settings.HubURL = "ws" + strings.TrimPrefix(stub.hub.URL, "http") + "/chathub"
	settings.RequestTimeout = config.Duration{Duration: 5 * time.Second}
	settings.Realtime.ReconnectDelays = []config.Duration{{}, {Duration: 50 * time.Millisecond}}
	if err := config.SaveProfile(profile.SettingsPath("test"), settings); err != nil {
		t.Fatal(err)
	}
}

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func newApp(t *testing.T) *fxtest.App {
	return fxtest.New(t, fx.NopLogger, Module(Params{Profile: "test", Quiet: true}))
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	stub := newBackendStub(t, 0)
	setupProfile(t, stub, signToken(t, time.Now().Add(time.Hour)))

	app := newApp(t)
	app.RequireStart()

	c, err := client.New(profile.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Profile != "test" || st.UserID != me {
		t.Errorf("status = %+v", st)
	}

	eventually(t, "inbox summary", func() bool {
		v, err := c.Inbox(ctx)
		return err == nil && len(v.Items) == 1 && v.Items[0].ContactID == 42
	})

	opened, err := c.Open(ctx, 42, true)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(opened.Conversation.Messages) != 1 {
		t.Errorf("conversation = %+v", opened.Conversation)
	}

	hub := <-stub.conns
	defer func() { _ = hub.Close() }()
	push := `{"type":1,"target":"ReceiveMessage","arguments":[{"messageId":5,"senderId":42,"receiverId":7,"text":"live","sendTime":"2024-05-01T10:05:00Z"}]}` + "\x1e"
	if err := hub.WriteMessage(websocket.TextMessage, []byte(push)); err != nil {
		t.Fatal(err)
	}
	eventually(t, "pushed message", func() bool {
		snap, err := c.Conversation(ctx)
		return err == nil && len(snap.Messages) == 2
	})

	sent, err := c.Send(ctx, &api.SendRequest{Peer: 42, Text: "reply"})
	if err != nil || !sent.Sent || sent.Message.ID != 2 {
		t.Fatalf("Send() = %+v, %v", sent, err)
	}

	st, err = c.Status(ctx)
	if err != nil || st.Channel != string(status.Connected) {
		t.Errorf("channel = %+v, %v", st, err)
	}

	// The archive follows the engine.
	eventually(t, "archived conversation", func() bool {
		arch, err := c.Archive(ctx, &api.ArchiveRequest{Peer: 42})
		return err == nil && len(arch.Messages) == 3
	})

	app.RequireStop()

	l, err := lock.Acquire(profile.LockPath("test"))
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	_ = l.Release()

	db, err := store.Open(profile.ArchivePath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if peer, _ := db.CheckpointInt(store.KeyActivePeer); peer != 42 {
		t.Errorf("active peer checkpoint = %d, want 42", peer)
	}
}

func TestUnauthorizedShutsDown(t *testing.T) {
	stub := newBackendStub(t, http.StatusUnauthorized)
	setupProfile(t, stub, signToken(t, time.Now().Add(time.Hour)))

	app := newApp(t)
	app.RequireStart()

	select {
	case <-app.Wait():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down after 401")
	}
	app.RequireStop()

	if _, err := session.Load(profile.SessionPath("test")); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("session file still present: %v", err)
	}
}

func TestExpiredTokenShutsDown(t *testing.T) {
	stub := newBackendStub(t, 0)
	setupProfile(t, stub, signToken(t, time.Now().Add(-time.Minute)))

	app := newApp(t)
	app.RequireStart()

	select {
	case <-app.Wait():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down with an expired token")
	}
	app.RequireStop()

	if _, err := os.Stat(profile.SessionPath("test")); !os.IsNotExist(err) {
		t.Errorf("session file not cleared: %v", err)
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	stub := newBackendStub(t, 0)
	setupProfile(t, stub, signToken(t, time.Now().Add(time.Hour)))

	l, err := lock.Acquire(profile.LockPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Release() }()

	app := fx.New(fx.NopLogger, Module(Params{Profile: "test", Quiet: true}))
	var held *lock.HeldError
	if err := app.Err(); !errors.As(err, &held) {
		t.Errorf("fx.New() error = %v, want HeldError", err)
	}
}

func TestMissingSessionFailsStartup(t *testing.T) {
	stub := newBackendStub(t, 0)
	setupProfile(t, stub, signToken(t, time.Now().Add(time.Hour)))
	if err := session.Clear(profile.SessionPath("test")); err != nil {
		t.Fatal(err)
	}

	app := fx.New(fx.NopLogger, Module(Params{Profile: "test", Quiet: true}))
	if err := app.Err(); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("fx.New() error = %v, want ErrNoSession", err)
	}
}

// TestNewServerUsesSocketOverride verifies the socket can be placed outside
// the profile directory.
func TestNewServerUsesSocketOverride(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "dms-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	srv, err := NewServer(
		Params{Profile: "fxtest", SocketPath: socketPath},
		zap.NewNop(),
		api.NewSessionService("fxtest", &session.Session{UserID: me}, status.NewMachine(nil), nil, nil, nil),
		api.NewChatService(nil, nil),
		api.NewMessageService(me, nil, nil, nil),
		api.NewSyncService("fxtest", nil, nil),
	)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	if _, statErr := os.Stat(socketPath); statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	srv.Stop(context.Background())
	if _, statErr := os.Stat(socketPath); !os.IsNotExist(statErr) {
		t.Error("socket not removed on stop")
	}
}
