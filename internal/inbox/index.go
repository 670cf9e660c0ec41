// Package inbox keeps the per-contact rollup of the user's conversations:
// last message, unread count and presence, independent of which conversation
// is open.
//
// An Index is not safe for concurrent use; the sync engine confines it to its loop.
package inbox

import (
	"sort"

	"github.com/matheus3301/dmsync/internal/model"
)

// Result reports what UpsertFromMessage did.
type Result int

const (
	// Ignored means the message had no server id or did not involve the user.
	Ignored Result = iota
	// Stale means the message was already projected (a duplicate delivery)
	// or predates the contact's summary row, and nothing changed.
	Stale
	// Created means a new item was added for the contact.
	Created
	// Advanced means the contact's existing item moved to this message.
	Advanced
	// Counted means a message older than the contact's last message arrived
	// late: its unread accounting applied but the preview stayed.
	Counted
)

// Changed reports whether the index was written.
func (r Result) Changed() bool { return r == Created || r == Advanced || r == Counted }

// seenLimit bounds the ids remembered per contact for duplicate detection.
const seenLimit = 256

type entry struct {
	item model.InboxItem
	// touched is the write sequence of the last write.
	touched uint64
	// onlineAt is the write sequence of the last presence write.
	onlineAt uint64

	seen  map[int64]struct{}
	order []int64
}

func (e *entry) saw(id int64) bool {
	if id == e.item.LastMessageID {
		return true
	}
	_, ok := e.seen[id]
	return ok
}

func (e *entry) remember(id int64) {
	if e.seen == nil {
		e.seen = make(map[int64]struct{})
	}
	if _, ok := e.seen[id]; ok {
		return
	}
	e.seen[id] = struct{}{}
	e.order = append(e.order, id)
	if len(e.order) > seenLimit {
		delete(e.seen, e.order[0])
		e.order = e.order[1:]
	}
}

// Token identifies one summary fetch. It captures the write sequence at the
// time the fetch was issued so that ApplySummary never overwrites what live
// events wrote afterwards.
type Token struct {
	gen uint64
	seq uint64
}

// Index is the inbox of the current user.
type Index struct {
	me    int64
	items map[int64]*entry
	seq   uint64
	gen   uint64
	err   error
}

// New creates an empty index for the given current user.
func New(me int64) *Index {
	return &Index{me: me, items: make(map[int64]*entry)}
}

// UpsertFromMessage projects a message into the contact's item. The unread
// count grows only for messages the user did not send while the contact's
// conversation is not active; any other message resets it.
func (x *Index) UpsertFromMessage(m model.Message, isMine, active bool) Result {
	contact := m.PeerOf(x.me)
	if contact == 0 || !m.Valid() {
		return Ignored
	}

	e, ok := x.items[contact]
	if ok && (e.saw(m.ID) || olderThanSummary(e.item, m)) {
		return Stale
	}

	res := Advanced
	switch {
	case !ok:
		e = &entry{item: model.InboxItem{ContactID: contact}}
		x.items[contact] = e
		res = Created
	case m.ID < e.item.LastMessageID:
		res = Counted
	}
	if !isMine && !active {
		e.item.UnreadCount++
	} else {
		e.item.UnreadCount = 0
	}
	e.item.IsRead = e.item.UnreadCount == 0
	if res != Counted {
		setLast(&e.item, m)
	}
	e.remember(m.ID)
	x.touch(e)
	return res
}

// ClearUnread zeroes the contact's unread count and marks it read.
func (x *Index) ClearUnread(contact int64) bool {
	e, ok := x.items[contact]
	if !ok {
		return false
	}
	changed := e.item.UnreadCount != 0 || !e.item.IsRead
	e.item.UnreadCount = 0
	e.item.IsRead = true
	x.touch(e)
	return changed
}

// SetOnline updates the contact's presence. Unknown contacts are ignored.
func (x *Index) SetOnline(contact int64, online bool) bool {
	e, ok := x.items[contact]
	if !ok || e.item.ContactOnline == online {
		return false
	}
	e.item.ContactOnline = online
	x.seq++
	e.onlineAt = x.seq
	return true
}

// ApplyEdit updates the preview when id is a contact's last message.
func (x *Index) ApplyEdit(id int64, text string) (int64, bool) {
	contact, ok := x.LastMessageOwner(id)
	if !ok {
		return 0, false
	}
	e := x.items[contact]
	preview := model.Message{Text: text, AttachmentName: e.item.AttachmentName}.Preview()
	if e.item.LastMessage == preview {
		return contact, false
	}
	e.item.LastMessage = preview
	x.touch(e)
	return contact, true
}

// LastMessageOwner returns the contact whose last message has the given id.
func (x *Index) LastMessageOwner(id int64) (int64, bool) {
	if id == 0 {
		return 0, false
	}
	for contact, e := range x.items {
		if e.item.LastMessageID == id {
			return contact, true
		}
	}
	return 0, false
}

// ReplaceLast sets the contact's last message after its previous last
// message was deleted. ok=false clears the preview.
func (x *Index) ReplaceLast(contact int64, m model.Message, ok bool) bool {
	e, exists := x.items[contact]
	if !exists {
		return false
	}
	if ok {
		setLast(&e.item, m)
	} else {
		e.item.LastMessage = ""
		e.item.LastMessageID = 0
		e.item.AttachmentURL = ""
		e.item.AttachmentName = ""
	}
	x.touch(e)
	return true
}

// BeginSummary starts a summary fetch. Only the token of the latest fetch
// is accepted by ApplySummary.
func (x *Index) BeginSummary() Token {
	x.gen++
	return Token{gen: x.gen, seq: x.seq}
}

// ApplySummary merges a summary result. Contacts written by live events
// after the fetch was issued keep their event-derived state; only their
// username is filled in. Returns false for a superseded token.
func (x *Index) ApplySummary(tok Token, rows []model.InboxItem) bool {
	if tok.gen != x.gen {
		return false
	}
	for _, row := range rows {
		if row.ContactID == 0 {
			continue
		}
		e, ok := x.items[row.ContactID]
		if !ok {
			x.items[row.ContactID] = &entry{item: row}
			continue
		}
		if e.onlineAt > tok.seq {
			row.ContactOnline = e.item.ContactOnline
		}
		if e.touched > tok.seq {
			if row.ContactUsername != "" {
				e.item.ContactUsername = row.ContactUsername
			}
			continue
		}
		if row.LastMessageID == 0 && row.LastMessageTime.Equal(e.item.LastMessageTime) {
			row.LastMessageID = e.item.LastMessageID
		}
		if e.item.LastMessageID != 0 && row.LastMessageID != e.item.LastMessageID {
			e.remember(e.item.LastMessageID)
		}
		e.item = row
	}
	x.err = nil
	return true
}

// FailSummary records a failed summary fetch of the latest token.
func (x *Index) FailSummary(tok Token, err error) bool {
	if tok.gen != x.gen {
		return false
	}
	x.err = err
	return true
}

// Seed adds items for contacts the index does not know yet, e.g. from a
// local archive. Seeded items are overwritten by any later summary.
func (x *Index) Seed(items []model.InboxItem) int {
	n := 0
	for _, it := range items {
		if it.ContactID == 0 {
			continue
		}
		if _, ok := x.items[it.ContactID]; ok {
			continue
		}
		x.items[it.ContactID] = &entry{item: it}
		n++
	}
	return n
}

// Get returns the contact's item.
func (x *Index) Get(contact int64) (model.InboxItem, bool) {
	e, ok := x.items[contact]
	if !ok {
		return model.InboxItem{}, false
	}
	return e.item, true
}

// List returns all items, most recent conversation first.
func (x *Index) List() []model.InboxItem {
	out := make([]model.InboxItem, 0, len(x.items))
	for _, e := range x.items {
		out = append(out, e.item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].LastMessageTime.After(out[j].LastMessageTime)
		}
		return out[i].ContactID < out[j].ContactID
	})
	return out
}

// TotalUnread sums the unread counts of all contacts.
func (x *Index) TotalUnread() int {
	total := 0
	for _, e := range x.items {
		total += e.item.UnreadCount
	}
	return total
}

// Err returns the error of the latest failed summary fetch.
func (x *Index) Err() error { return x.err }

func (x *Index) touch(e *entry) {
	x.seq++
	e.touched = x.seq
}

// olderThanSummary reports whether m predates a summary row. Summary rows
// carry no message id and already account for everything before their time.
func olderThanSummary(it model.InboxItem, m model.Message) bool {
	return it.LastMessageID == 0 && !m.Timestamp.IsZero() && m.Timestamp.Before(it.LastMessageTime)
}

func setLast(it *model.InboxItem, m model.Message) {
	it.LastMessage = m.Preview()
	it.LastMessageTime = m.Timestamp
	it.LastMessageID = m.ID
	it.AttachmentURL = m.AttachmentURL
	it.AttachmentName = m.AttachmentName
}
