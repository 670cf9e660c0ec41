package api

import (
	"context"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/send"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/store"
)

// PendingLister lists sends in flight.
type PendingLister interface {
	Pending() []send.PendingSend
}

// SessionService implements SessionServer.
type SessionService struct {
	profile   string
	sess      *session.Session
	startedAt time.Time
	machine   *status.Machine
	bus       *bus.Bus
	pending   PendingLister
	db        *store.DB
}

// NewSessionService creates a session service. db may be nil.
func NewSessionService(profile string, sess *session.Session, machine *status.Machine, b *bus.Bus, pending PendingLister, db *store.DB) *SessionService {
	return &SessionService{
		profile:   profile,
		sess:      sess,
		startedAt: time.Now(),
		machine:   machine,
		bus:       b,
		pending:   pending,
		db:        db,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	resp := &StatusResponse{
		Profile:       s.profile,
		UserID:        s.sess.UserID,
		Username:      s.sess.Username,
		Channel:       string(s.machine.Current()),
		ChannelSince:  s.machine.Since(),
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		DroppedEvents: s.bus.Dropped(),
	}
	if s.pending != nil {
		resp.PendingSends = len(s.pending.Pending())
	}
	if s.db != nil {
		if ms, err := s.db.CheckpointInt(store.KeyLastSync); err == nil && ms > 0 {
			resp.LastInboxSync = time.UnixMilli(ms)
		}
	}
	return resp, nil
}
