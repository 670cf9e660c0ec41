// Package sync owns the open conversation and the inbox of the signed-in user.
// Every merge runs on one goroutine, in the order it was submitted; network
// calls run elsewhere and post their results back onto that goroutine.
package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/conversation"
	"github.com/matheus3301/dmsync/internal/inbox"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/realtime"
)

// ErrStopped is returned by calls made after the engine stopped.
var ErrStopped = errors.New("sync engine stopped")

// Fetcher is the part of the backend the engine reads from.
type Fetcher interface {
	History(ctx context.Context, me, peer int64) ([]model.Message, error)
	InboxSummary(ctx context.Context, me int64) ([]model.InboxItem, error)
}

// Engine serializes history results, summary results, push events, local
// sends and mutation results onto a single loop.
type Engine struct {
	me     int64
	fetch  Fetcher
	bus    *bus.Bus
	logger *zap.Logger

	conv  *conversation.Store
	inbox *inbox.Index
	now   func() time.Time

	ops    chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine for user me. Call Start before use.
func NewEngine(me int64, fetch Fetcher, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		me:     me,
		fetch:  fetch,
		bus:    b,
		logger: logger,
		conv:   conversation.New(me),
		inbox:  inbox.New(me),
		now:    time.Now,
		ops:    make(chan func(), 256),
		done:   make(chan struct{}),
	}
}

// Me returns the user the engine syncs for.
func (e *Engine) Me() int64 { return e.me }

// Start runs the loop until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	go e.loop()
}

// Stop ends the loop and waits for the running merge to finish.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.ops:
			fn()
		case <-e.ctx.Done():
			return
		}
	}
}

// post queues fn without waiting for it to run.
func (e *Engine) post(fn func()) bool {
	select {
	case e.ops <- fn:
		return true
	case <-e.done:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case e.ops <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Open makes peer the active conversation, clears its unread count and
// issues the history fetch. The returned generation identifies that fetch.
func (e *Engine) Open(ctx context.Context, peer int64) (uint64, error) {
	if peer <= 0 || peer == e.me {
		return 0, errors.New("open: invalid peer")
	}
	var gen uint64
	err := e.do(ctx, func() {
		gen = e.conv.Open(peer)
		e.clearUnread(peer)
		e.bus.Emit(bus.KindConversationOpened, Opened{Peer: peer, Generation: gen})
		go e.loadHistory(peer, gen)
	})
	return gen, err
}

func (e *Engine) loadHistory(peer int64, gen uint64) {
	msgs, err := e.fetch.History(e.ctx, e.me, peer)
	e.post(func() { e.resolveHistory(peer, gen, msgs, err) })
}

func (e *Engine) resolveHistory(peer int64, gen uint64, msgs []model.Message, err error) {
	log := e.logger.With(zap.Int64("peer", peer), zap.Uint64("generation", gen))
	if err != nil {
		if !e.conv.Fail(gen, err) {
			log.Debug("discarding failed history of superseded open")
			return
		}
		log.Error("history fetch failed", zap.Error(err))
		e.bus.Emit(bus.KindConversationLoadFailed, LoadFailed{Peer: peer, Generation: gen, Error: err.Error()})
		return
	}
	if !e.conv.Resolve(gen, msgs) {
		log.Debug("discarding history of superseded open")
		return
	}
	log.Info("conversation loaded", zap.Int("messages", len(msgs)))
	e.bus.Emit(bus.KindConversationLoaded, e.conv.Snapshot())
}

// RefreshInbox issues an inbox summary fetch. Its result never overwrites
// what live events wrote after the fetch was issued.
func (e *Engine) RefreshInbox(ctx context.Context) error {
	return e.do(ctx, e.refreshInbox)
}

func (e *Engine) refreshInbox() {
	tok := e.inbox.BeginSummary()
	go func() {
		rows, err := e.fetch.InboxSummary(e.ctx, e.me)
		e.post(func() { e.resolveSummary(tok, rows, err) })
	}()
}

func (e *Engine) resolveSummary(tok inbox.Token, rows []model.InboxItem, err error) {
	if err != nil {
		if e.inbox.FailSummary(tok, err) {
			e.logger.Error("inbox summary fetch failed", zap.Error(err))
			e.bus.Emit(bus.KindInboxRefreshFailed, err.Error())
		}
		return
	}
	if !e.inbox.ApplySummary(tok, rows) {
		e.logger.Debug("discarding superseded inbox summary")
		return
	}
	// The open conversation stays read whatever the summary says.
	if peer := e.conv.Peer(); peer != 0 {
		e.inbox.ClearUnread(peer)
	}
	e.bus.Emit(bus.KindInboxRefreshed, e.inbox.List())
}

// HandleEvent queues a push event. Events are merged in the order they were
// handed over; it is meant to be registered as a realtime.Handler.
func (e *Engine) HandleEvent(evt realtime.Event) {
	var fn func()
	switch evt := evt.(type) {
	case realtime.MessageReceived:
		fn = func() { e.ingest(evt.Message, false) }
	case realtime.MessageDeleted:
		fn = func() { e.applyDeletion(evt.ID) }
	case realtime.MessageUpdated:
		fn = func() { e.applyEdit(evt.ID, evt.Text) }
	default:
		return
	}
	if !e.post(fn) {
		e.logger.Debug("dropping push event after stop")
	}
}

// ApplyLocal merges the canonical record of a message this client sent.
func (e *Engine) ApplyLocal(ctx context.Context, m model.Message) error {
	return e.do(ctx, func() {
		e.ingest(m, true)
		e.bus.Emit(bus.KindNotifySent, m)
	})
}

// ApplyEdit merges a confirmed edit.
func (e *Engine) ApplyEdit(ctx context.Context, id int64, text string) error {
	return e.do(ctx, func() { e.applyEdit(id, text) })
}

// ApplyDeletion merges a confirmed deletion.
func (e *Engine) ApplyDeletion(ctx context.Context, id int64) error {
	return e.do(ctx, func() { e.applyDeletion(id) })
}

// SetPresence updates a contact's online flag.
func (e *Engine) SetPresence(ctx context.Context, contact int64, online bool) error {
	return e.do(ctx, func() {
		if e.inbox.SetOnline(contact, online) {
			e.emitItem(contact)
		}
	})
}

// Seed adds inbox items for contacts not known yet.
func (e *Engine) Seed(ctx context.Context, items []model.InboxItem) error {
	return e.do(ctx, func() {
		if n := e.inbox.Seed(items); n > 0 {
			e.logger.Info("inbox seeded", zap.Int("contacts", n))
		}
	})
}

// Lookup finds a message of the open conversation.
func (e *Engine) Lookup(ctx context.Context, id int64) (model.Message, bool, error) {
	var (
		m  model.Message
		ok bool
	)
	err := e.do(ctx, func() { m, ok = e.conv.Find(id) })
	return m, ok, err
}

// Conversation returns a copy of the open conversation.
func (e *Engine) Conversation(ctx context.Context) (conversation.Snapshot, error) {
	var snap conversation.Snapshot
	err := e.do(ctx, func() { snap = e.conv.Snapshot() })
	return snap, err
}

// Inbox returns a copy of the inbox.
func (e *Engine) Inbox(ctx context.Context) (InboxView, error) {
	var v InboxView
	err := e.do(ctx, func() {
		v.Items = e.inbox.List()
		v.TotalUnread = e.inbox.TotalUnread()
		if err := e.inbox.Err(); err != nil {
			v.Error = err.Error()
		}
	})
	return v, err
}

// ingest projects one message into the conversation and the inbox. A
// received message notifies only when it changed state, so replays are silent.
func (e *Engine) ingest(m model.Message, local bool) {
	contact := m.PeerOf(e.me)
	if contact == 0 || !m.Valid() {
		e.logger.Warn("ignoring message not addressed to this user",
			zap.Int64("message_id", m.ID), zap.Int64("sender", m.SenderID), zap.Int64("receiver", m.ReceiverID))
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = e.arrivalTime(m, contact)
	}
	mine := m.IsMine(e.me)
	out := e.conv.ApplyIncoming(m)
	res := e.inbox.UpsertFromMessage(m, mine, e.conv.Peer() == contact)

	if out == conversation.Inserted || out == conversation.Refreshed || res.Changed() {
		e.bus.Emit(bus.KindMessageUpserted, m)
	}
	if res.Changed() {
		e.emitItem(contact)
	}
	if !local && !mine && (out == conversation.Inserted || res.Changed()) {
		it, _ := e.inbox.Get(contact)
		e.bus.Emit(bus.KindNotifyReceived, Notification{Message: m, Contact: it})
	}
}

// arrivalTime dates a message the server sent without a time. A known id
// keeps the time it already has.
func (e *Engine) arrivalTime(m model.Message, contact int64) time.Time {
	if cur, ok := e.conv.Find(m.ID); ok && !cur.Timestamp.IsZero() {
		return cur.Timestamp
	}
	if it, ok := e.inbox.Get(contact); ok && it.LastMessageID == m.ID && !it.LastMessageTime.IsZero() {
		return it.LastMessageTime
	}
	return e.now()
}

func (e *Engine) applyEdit(id int64, text string) {
	applied := e.conv.ApplyEdit(id, text)
	contact, preview := e.inbox.ApplyEdit(id, text)
	e.bus.Emit(bus.KindMessageEdited, Edit{ID: id, Text: text, Applied: applied})
	if preview {
		e.emitItem(contact)
	}
}

func (e *Engine) applyDeletion(id int64) {
	owner, wasLast := e.inbox.LastMessageOwner(id)
	applied := e.conv.ApplyDeletion(id)
	e.bus.Emit(bus.KindMessageDeleted, Deletion{ID: id, Applied: applied})
	if !wasLast {
		return
	}
	if e.conv.Showing(owner) {
		last, ok := e.conv.Last()
		e.inbox.ReplaceLast(owner, last, ok)
		e.emitItem(owner)
		return
	}
	e.inbox.ReplaceLast(owner, model.Message{}, false)
	e.emitItem(owner)
	e.refreshInbox()
}

func (e *Engine) clearUnread(contact int64) {
	if e.inbox.ClearUnread(contact) {
		e.emitItem(contact)
	}
}

func (e *Engine) emitItem(contact int64) {
	if it, ok := e.inbox.Get(contact); ok {
		e.bus.Emit(bus.KindInboxUpdated, it)
	}
}
