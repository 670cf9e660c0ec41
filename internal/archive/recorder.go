// Package archive writes what the sync engine accepted through to the
// on-disk store, so the inbox can be warm-started and old conversations
// read without the network.
package archive

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/conversation"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/store"
	intsync "github.com/matheus3301/dmsync/internal/sync"
)

// Recorder follows the engine's bus events and mirrors them into the store.
// Events are written in publish order from a single goroutine.
type Recorder struct {
	me     int64
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder creates a recorder for user me.
func NewRecorder(me int64, db *store.DB, b *bus.Bus, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{me: me, db: db, bus: b, logger: logger}
}

// Start subscribes to the engine's output on the bus.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	ch, unsub := r.bus.Subscribe("", 1024)

	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.Handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the recorder and waits for the current write.
func (r *Recorder) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Handle writes one event. Events the archive does not track are ignored.
func (r *Recorder) Handle(evt bus.Event) {
	if err := r.record(evt); err != nil {
		r.logger.Error("archive write failed", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

func (r *Recorder) record(evt bus.Event) error {
	switch p := evt.Payload.(type) {
	case model.Message:
		if evt.Kind != bus.KindMessageUpserted {
			return nil
		}
		return r.db.UpsertMessage(p)
	case intsync.Edit:
		_, err := r.db.EditMessage(p.ID, p.Text)
		return err
	case intsync.Deletion:
		_, err := r.db.DeleteMessage(p.ID)
		return err
	case conversation.Snapshot:
		if evt.Kind != bus.KindConversationLoaded || p.Shown == 0 {
			return nil
		}
		if err := r.db.ReplaceConversation(r.me, p.Shown, p.Messages); err != nil {
			return fmt.Errorf("conversation %d: %w", p.Shown, err)
		}
		r.logger.Debug("conversation archived", zap.Int64("peer", p.Shown), zap.Int("messages", len(p.Messages)))
		return nil
	case intsync.Opened:
		return r.db.SetCheckpointInt(store.KeyActivePeer, p.Peer)
	case model.InboxItem:
		return r.db.UpsertInbox(p)
	case []model.InboxItem:
		if evt.Kind != bus.KindInboxRefreshed {
			return nil
		}
		if err := r.db.ReplaceInbox(p); err != nil {
			return err
		}
		return r.db.SetCheckpoint(store.KeyLastSync, strconv.FormatInt(evt.Timestamp.UnixMilli(), 10))
	}
	return nil
}

// WarmInbox returns the archived inbox to seed the engine with before the
// first summary arrives.
func WarmInbox(db *store.DB) ([]model.InboxItem, error) {
	return db.ListInbox(0)
}

// LastSync returns when the inbox summary was last archived.
func LastSync(db *store.DB) (time.Time, error) {
	ms, err := db.CheckpointInt(store.KeyLastSync)
	if err != nil || ms == 0 {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
