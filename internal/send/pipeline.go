// Package send turns a compose action into a durable send request. Nothing is
// shown locally until the server has stored the message.
package send

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/backend"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/model"
)

// Sender performs the send request.
type Sender interface {
	Send(ctx context.Context, req backend.SendRequest, progress backend.Progress) (model.Message, error)
}

// Applier merges the stored message into the local state.
type Applier interface {
	ApplyLocal(ctx context.Context, m model.Message) error
}

// Status of a PendingSend.
type Status string

const (
	InFlight Status = "in-flight"
	Failed   Status = "failed"
)

// PendingSend is a send whose request has not completed. It is dropped once
// the request succeeds or fails.
type PendingSend struct {
	LocalID        uuid.UUID `json:"localId"`
	ReceiverID     int64     `json:"receiverId"`
	Text           string    `json:"text"`
	AttachmentName string    `json:"attachmentName,omitempty"`
	Status         Status    `json:"status"`
	Sent           int64     `json:"sent"`
	Total          int64     `json:"total"`
	StartedAt      time.Time `json:"startedAt"`
	Error          string    `json:"error,omitempty"`
}

// Failure is the payload of send.failed.
type Failure struct {
	Pending PendingSend `json:"pending"`
	Error   string      `json:"error"`
}

// Pipeline sends messages for one user. Concurrent sends are independent.
type Pipeline struct {
	me      int64
	sender  Sender
	applier Applier
	bus     *bus.Bus
	policy  Policy
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*PendingSend
}

// NewPipeline creates a pipeline. b may be nil.
func NewPipeline(me int64, sender Sender, applier Applier, policy Policy, b *bus.Bus, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		me:      me,
		sender:  sender,
		applier: applier,
		bus:     b,
		policy:  policy,
		logger:  logger,
		pending: make(map[uuid.UUID]*PendingSend),
	}
}

// Policy returns the attachment policy.
func (p *Pipeline) Policy() Policy { return p.policy }

// Send delivers text and an optional attachment to peer. A send with
// neither is a no-op: it returns ok=false and no error. Validation errors
// are returned before any request is issued. On request failure nothing is
// applied locally.
func (p *Pipeline) Send(ctx context.Context, peer int64, text string, file *backend.Attachment) (m model.Message, ok bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" && file == nil {
		return model.Message{}, false, nil
	}
	if peer <= 0 || peer == p.me {
		return model.Message{}, false, fmt.Errorf("send: invalid receiver %d", peer)
	}
	if file != nil {
		if err := p.policy.Check(file); err != nil {
			return model.Message{}, false, err
		}
	}

	ps := &PendingSend{
		LocalID:    uuid.New(),
		ReceiverID: peer,
		Text:       text,
		Status:     InFlight,
		StartedAt:  time.Now(),
	}
	if file != nil {
		ps.AttachmentName = file.Name
	}
	p.track(ps)
	defer p.untrack(ps.LocalID)

	log := p.logger.With(zap.String("local_id", ps.LocalID.String()), zap.Int64("receiver", peer))
	req := backend.SendRequest{SenderID: p.me, ReceiverID: peer, Text: text, File: file}
	stored, err := p.sender.Send(ctx, req, func(sent, total int64) { p.progress(ps.LocalID, sent, total) })
	if err != nil {
		p.fail(ps.LocalID, err)
		log.Error("send failed", zap.Error(err))
		return model.Message{}, false, err
	}

	if err := p.applier.ApplyLocal(ctx, stored); err != nil {
		// The server has the message; the push echo will still deliver it.
		log.Warn("stored message not applied locally", zap.Int64("message_id", stored.ID), zap.Error(err))
		return stored, true, nil
	}
	log.Info("message sent", zap.Int64("message_id", stored.ID))
	return stored, true, nil
}

// Pending lists the sends in flight, oldest first.
func (p *Pipeline) Pending() []PendingSend {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingSend, 0, len(p.pending))
	for _, ps := range p.pending {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (p *Pipeline) track(ps *PendingSend) {
	p.mu.Lock()
	p.pending[ps.LocalID] = ps
	p.mu.Unlock()
}

func (p *Pipeline) untrack(id uuid.UUID) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Pipeline) progress(id uuid.UUID, sent, total int64) {
	p.mu.Lock()
	ps, ok := p.pending[id]
	if ok {
		ps.Sent, ps.Total = sent, total
	}
	var snap PendingSend
	if ok {
		snap = *ps
	}
	p.mu.Unlock()
	if ok && p.bus != nil {
		p.bus.Emit(bus.KindSendProgress, snap)
	}
}

func (p *Pipeline) fail(id uuid.UUID, err error) {
	p.mu.Lock()
	ps, ok := p.pending[id]
	var snap PendingSend
	if ok {
		ps.Status = Failed
		ps.Error = err.Error()
		snap = *ps
	}
	p.mu.Unlock()
	if ok && p.bus != nil && !errors.Is(err, context.Canceled) {
		p.bus.Emit(bus.KindSendFailed, Failure{Pending: snap, Error: err.Error()})
	}
}
