// Package mutation edits and deletes the user's own messages. A confirmed
// mutation is merged through the same engine path as a pushed one.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/backend"
	"github.com/matheus3301/dmsync/internal/model"
)

var (
	// ErrNotOwner is returned when the message was sent by someone else.
	ErrNotOwner = errors.New("message was not sent by the current user")
	// ErrEmptyText is returned for an edit to blank text.
	ErrEmptyText = errors.New("edited text is empty")
	// ErrRejected wraps a {success:false} reply.
	ErrRejected = errors.New("mutation rejected by server")
)

// Remote performs the mutation requests.
type Remote interface {
	Edit(ctx context.Context, id int64, text string) error
	Delete(ctx context.Context, id int64) error
}

// Local is the engine side: lookup and the merge primitives shared with push events.
type Local interface {
	Lookup(ctx context.Context, id int64) (model.Message, bool, error)
	ApplyEdit(ctx context.Context, id int64, text string) error
	ApplyDeletion(ctx context.Context, id int64) error
}

// Result tells the caller what happened.
type Result int

const (
	// Skipped means nothing was sent: the message is not loaded or the text is unchanged.
	Skipped Result = iota
	// Applied means the server confirmed and the local state was updated.
	Applied
)

func (r Result) String() string {
	if r == Applied {
		return "applied"
	}
	return "skipped"
}

// Propagator runs edits and deletes for user me.
type Propagator struct {
	me     int64
	remote Remote
	local  Local
	logger *zap.Logger
}

// New creates a propagator.
func New(me int64, remote Remote, local Local, logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{me: me, remote: remote, local: local, logger: logger}
}

// Edit replaces the text of one of the user's messages. Editing to the
// current text, or a message that is not loaded, returns Skipped without
// contacting the server.
func (p *Propagator) Edit(ctx context.Context, id int64, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Skipped, ErrEmptyText
	}
	m, ok, err := p.own(ctx, id)
	if err != nil || !ok {
		return Skipped, err
	}
	if m.Text == text {
		return Skipped, nil
	}
	if err := p.remote.Edit(ctx, id, text); err != nil {
		return Skipped, p.wrap("edit", id, err)
	}
	if err := p.local.ApplyEdit(ctx, id, text); err != nil {
		return Skipped, fmt.Errorf("apply edit: %w", err)
	}
	p.logger.Info("message edited", zap.Int64("message_id", id))
	return Applied, nil
}

// Delete removes one of the user's messages.
func (p *Propagator) Delete(ctx context.Context, id int64) (Result, error) {
	_, ok, err := p.own(ctx, id)
	if err != nil || !ok {
		return Skipped, err
	}
	if err := p.remote.Delete(ctx, id); err != nil {
		return Skipped, p.wrap("delete", id, err)
	}
	if err := p.local.ApplyDeletion(ctx, id); err != nil {
		return Skipped, fmt.Errorf("apply deletion: %w", err)
	}
	p.logger.Info("message deleted", zap.Int64("message_id", id))
	return Applied, nil
}

func (p *Propagator) own(ctx context.Context, id int64) (model.Message, bool, error) {
	m, ok, err := p.local.Lookup(ctx, id)
	if err != nil {
		return model.Message{}, false, err
	}
	if !ok {
		return model.Message{}, false, nil
	}
	if !m.IsMine(p.me) {
		return model.Message{}, false, ErrNotOwner
	}
	return m, true, nil
}

func (p *Propagator) wrap(op string, id int64, err error) error {
	p.logger.Warn(op+" failed", zap.Int64("message_id", id), zap.Error(err))
	var rejected *backend.RejectedError
	if errors.As(err, &rejected) {
		return fmt.Errorf("%s message %d: %w: %w", op, id, ErrRejected, err)
	}
	return fmt.Errorf("%s message %d: %w", op, id, err)
}
