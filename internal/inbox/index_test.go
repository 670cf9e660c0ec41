package inbox

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

const me = 7

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func incoming(id, from int64, text string) model.Message {
	return model.Message{ID: id, SenderID: from, ReceiverID: me, Text: text, Timestamp: t0.Add(time.Duration(id) * time.Minute)}
}

func outgoing(id, to int64, text string) model.Message {
	return model.Message{ID: id, SenderID: me, ReceiverID: to, Text: text, Timestamp: t0.Add(time.Duration(id) * time.Minute)}
}

func mustGet(t *testing.T, x *Index, contact int64) model.InboxItem {
	t.Helper()
	it, ok := x.Get(contact)
	if !ok {
		t.Fatalf("no inbox item for contact %d", contact)
	}
	return it
}

func TestUnreadAccounting(t *testing.T) {
	x := New(me)

	if res := x.UpsertFromMessage(incoming(1, 42, "one"), false, false); res != Created {
		t.Fatalf("first upsert = %v, want Created", res)
	}
	if got := mustGet(t, x, 42).UnreadCount; got != 1 {
		t.Errorf("unread after first = %d, want 1", got)
	}

	x.UpsertFromMessage(incoming(2, 42, "two"), false, false)
	it := mustGet(t, x, 42)
	if it.UnreadCount != 2 || it.IsRead {
		t.Errorf("after second: unread=%d isRead=%v, want 2 false", it.UnreadCount, it.IsRead)
	}
	if it.LastMessage != "two" || it.LastMessageID != 2 {
		t.Errorf("last = %q (%d), want two (2)", it.LastMessage, it.LastMessageID)
	}

	if !x.ClearUnread(42) {
		t.Error("ClearUnread() = false, want true")
	}
	it = mustGet(t, x, 42)
	if it.UnreadCount != 0 || !it.IsRead {
		t.Errorf("after clear: unread=%d isRead=%v, want 0 true", it.UnreadCount, it.IsRead)
	}
}

func TestActiveConversationSuppressesUnread(t *testing.T) {
	x := New(me)
	x.UpsertFromMessage(incoming(1, 42, "hi"), false, true)
	x.UpsertFromMessage(incoming(2, 42, "yo"), false, true)

	it := mustGet(t, x, 42)
	if it.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 while active", it.UnreadCount)
	}
	if it.LastMessage != "yo" {
		t.Errorf("lastMessage = %q, want yo", it.LastMessage)
	}
}

func TestOwnMessageResetsUnread(t *testing.T) {
	x := New(me)
	x.UpsertFromMessage(incoming(1, 42, "hi"), false, false)
	x.UpsertFromMessage(incoming(2, 42, "there"), false, false)

	if res := x.UpsertFromMessage(outgoing(3, 42, "answer"), true, false); res != Advanced {
		t.Fatalf("own message = %v, want Advanced", res)
	}
	it := mustGet(t, x, 42)
	if it.UnreadCount != 0 || it.LastMessage != "answer" {
		t.Errorf("got unread=%d last=%q, want 0 answer", it.UnreadCount, it.LastMessage)
	}

	if res := x.UpsertFromMessage(outgoing(4, 43, "first contact"), true, false); res != Created {
		t.Fatalf("own message to new contact = %v, want Created", res)
	}
	if got := mustGet(t, x, 43).UnreadCount; got != 0 {
		t.Errorf("unread for new contact after own message = %d, want 0", got)
	}
}

func TestDuplicateDeliveryDoesNotDoubleCount(t *testing.T) {
	x := New(me)
	m := incoming(5, 42, "hello")
	x.UpsertFromMessage(m, false, false)

	if res := x.UpsertFromMessage(m, false, false); res != Stale {
		t.Errorf("duplicate = %v, want Stale", res)
	}
	it := mustGet(t, x, 42)
	if it.UnreadCount != 1 || it.LastMessage != "hello" {
		t.Errorf("got unread=%d last=%q, want 1 hello", it.UnreadCount, it.LastMessage)
	}
}

func TestLateLowerIDIsCounted(t *testing.T) {
	x := New(me)
	x.UpsertFromMessage(incoming(6, 42, "newest"), false, false)

	if res := x.UpsertFromMessage(incoming(5, 42, "late"), false, false); res != Counted {
		t.Errorf("late message = %v, want Counted", res)
	}
	if res := x.UpsertFromMessage(incoming(5, 42, "late"), false, false); res != Stale {
		t.Errorf("replay of late message = %v, want Stale", res)
	}
	if res := x.UpsertFromMessage(incoming(6, 42, "newest"), false, false); res != Stale {
		t.Errorf("replay of newest = %v, want Stale", res)
	}
	it := mustGet(t, x, 42)
	if it.UnreadCount != 2 || it.LastMessage != "newest" || it.LastMessageID != 6 {
		t.Errorf("got unread=%d last=%q id=%d, want 2 newest 6", it.UnreadCount, it.LastMessage, it.LastMessageID)
	}

	// A late message of our own still marks the contact read.
	if res := x.UpsertFromMessage(outgoing(4, 42, "mine"), true, false); res != Counted {
		t.Errorf("late own message = %v, want Counted", res)
	}
	if it := mustGet(t, x, 42); it.UnreadCount != 0 || !it.IsRead || it.LastMessage != "newest" {
		t.Errorf("after own message = %+v", it)
	}
}

func TestIgnoresForeignMessages(t *testing.T) {
	x := New(me)
	res := x.UpsertFromMessage(model.Message{ID: 1, SenderID: 42, ReceiverID: 43}, false, false)
	if res != Ignored || len(x.List()) != 0 {
		t.Errorf("foreign message = %v, items = %d; want Ignored, 0", res, len(x.List()))
	}
}

func TestAttachmentPreview(t *testing.T) {
	x := New(me)
	m := incoming(1, 42, "")
	m.AttachmentURL = "/files/cat.png"
	m.AttachmentName = "cat.png"
	x.UpsertFromMessage(m, false, false)

	it := mustGet(t, x, 42)
	if it.LastMessage != "cat.png" || it.AttachmentURL != "/files/cat.png" {
		t.Errorf("got last=%q url=%q", it.LastMessage, it.AttachmentURL)
	}
}

func TestSetOnline(t *testing.T) {
	x := New(me)
	if x.SetOnline(42, true) {
		t.Error("SetOnline(unknown) = true, want false")
	}
	x.UpsertFromMessage(incoming(1, 42, "hi"), false, false)
	if !x.SetOnline(42, true) {
		t.Error("SetOnline() = false, want true")
	}
	if x.SetOnline(42, true) {
		t.Error("SetOnline() with same value = true, want false")
	}
	if !mustGet(t, x, 42).ContactOnline {
		t.Error("ContactOnline = false, want true")
	}
}

func TestSummaryKeepsNewerPresence(t *testing.T) {
	x := New(me)
	x.UpsertFromMessage(incoming(1, 42, "hi"), false, false)
	x.UpsertFromMessage(incoming(2, 43, "yo"), false, false)
	tok := x.BeginSummary()

	x.SetOnline(42, true)

	x.ApplySummary(tok, []model.InboxItem{
		{ContactID: 42, LastMessage: "hi", LastMessageTime: t0.Add(time.Minute), ContactOnline: false},
		{ContactID: 43, LastMessage: "yo", LastMessageTime: t0.Add(2 * time.Minute), ContactOnline: true},
	})
	if !mustGet(t, x, 42).ContactOnline {
		t.Error("summary fetched before the presence change overwrote it")
	}
	if !mustGet(t, x, 43).ContactOnline {
		t.Error("summary presence not applied to contact without newer presence")
	}
}

func TestSummaryPopulates(t *testing.T) {
	x := New(me)
	tok := x.BeginSummary()
	rows := []model.InboxItem{
		{ContactID: 42, ContactUsername: "ana", LastMessage: "hi", LastMessageTime: t0, UnreadCount: 3},
		{ContactID: 43, ContactUsername: "bo", LastMessage: "later", LastMessageTime: t0.Add(time.Hour), IsRead: true},
	}
	if !x.ApplySummary(tok, rows) {
		t.Fatal("ApplySummary() = false, want true")
	}
	list := x.List()
	if len(list) != 2 || list[0].ContactID != 43 || list[1].ContactID != 42 {
		t.Fatalf("List() = %+v, want [43 42] by recency", list)
	}
	if x.TotalUnread() != 3 {
		t.Errorf("TotalUnread() = %d, want 3", x.TotalUnread())
	}
}

func TestStaleSummaryKeepsEventUnread(t *testing.T) {
	x := New(me)
	tok := x.BeginSummary()

	// Events arrive while the summary fetch is in flight.
	x.UpsertFromMessage(incoming(10, 42, "new one"), false, false)
	x.UpsertFromMessage(incoming(11, 42, "new two"), false, false)

	// The summary was computed before those events.
	x.ApplySummary(tok, []model.InboxItem{
		{ContactID: 42, ContactUsername: "ana", LastMessage: "old", UnreadCount: 0, IsRead: true},
		{ContactID: 43, ContactUsername: "bo", LastMessage: "untouched", UnreadCount: 1},
	})

	it := mustGet(t, x, 42)
	if it.UnreadCount != 2 || it.LastMessage != "new two" {
		t.Errorf("got unread=%d last=%q, want 2 'new two'", it.UnreadCount, it.LastMessage)
	}
	if it.ContactUsername != "ana" {
		t.Errorf("username = %q, want ana filled from summary", it.ContactUsername)
	}
	if got := mustGet(t, x, 43).UnreadCount; got != 1 {
		t.Errorf("untouched contact unread = %d, want 1", got)
	}
}

func TestSupersededSummaryDiscarded(t *testing.T) {
	x := New(me)
	old := x.BeginSummary()
	cur := x.BeginSummary()

	if x.ApplySummary(old, []model.InboxItem{{ContactID: 42, UnreadCount: 9}}) {
		t.Error("ApplySummary(superseded) = true, want false")
	}
	if _, ok := x.Get(42); ok {
		t.Error("superseded summary created an item")
	}
	if x.FailSummary(old, errors.New("late")) {
		t.Error("FailSummary(superseded) = true, want false")
	}
	if !x.FailSummary(cur, errors.New("down")) || x.Err() == nil {
		t.Error("FailSummary(current) did not record error")
	}
	x.ApplySummary(x.BeginSummary(), nil)
	if x.Err() != nil {
		t.Errorf("Err() = %v after successful summary, want nil", x.Err())
	}
}

func TestSummaryAfterClearDoesNotResurrectUnread(t *testing.T) {
	x := New(me)
	x.UpsertFromMessage(incoming(1, 42, "hi"), false, false)
	tok := x.BeginSummary()
	x.ClearUnread(42)
	x.ApplySummary(tok, []model.InboxItem{{ContactID: 42, LastMessage: "hi", UnreadCount: 1}})

	if got := mustGet(t, x, 42).UnreadCount; got != 0 {
		t.Errorf("unread = %d, want 0 (cleared after fetch was issued)", got)
	}
}

func TestApplyEditUpdatesPreview(t *testing.T) {
	x := New(me)
	x.UpsertFromMessage(incoming(1, 42, "first"), false, false)
	x.UpsertFromMessage(incoming(2, 42, "typo"), false, false)

	if _, ok := x.ApplyEdit(1, "not last"); ok {
		t.Error("ApplyEdit() of non-last message = true")
	}
	contact, ok := x.ApplyEdit(2, "fixed")
	if !ok || contact != 42 {
		t.Fatalf("ApplyEdit() = %d, %v; want 42, true", contact, ok)
	}
	if got := mustGet(t, x, 42).LastMessage; got != "fixed" {
		t.Errorf("lastMessage = %q, want fixed", got)
	}
}

func TestReplaceLast(t *testing.T) {
	x := New(me)
	x.UpsertFromMessage(incoming(1, 42, "first"), false, false)
	x.UpsertFromMessage(incoming(2, 42, "second"), false, false)

	contact, ok := x.LastMessageOwner(2)
	if !ok || contact != 42 {
		t.Fatalf("LastMessageOwner(2) = %d, %v", contact, ok)
	}
	x.ReplaceLast(42, incoming(1, 42, "first"), true)
	if it := mustGet(t, x, 42); it.LastMessage != "first" || it.LastMessageID != 1 {
		t.Errorf("after replace: %q (%d), want first (1)", it.LastMessage, it.LastMessageID)
	}
	x.ReplaceLast(42, model.Message{}, false)
	if it := mustGet(t, x, 42); it.LastMessage != "" || it.LastMessageID != 0 {
		t.Errorf("after clear: %q (%d), want empty", it.LastMessage, it.LastMessageID)
	}
}

func TestSeedOnlyAddsUnknown(t *testing.T) {
	x := New(me)
	x.UpsertFromMessage(incoming(1, 42, "live"), false, false)
	n := x.Seed([]model.InboxItem{
		{ContactID: 42, LastMessage: "archived"},
		{ContactID: 43, LastMessage: "archived"},
	})
	if n != 1 {
		t.Errorf("Seed() = %d, want 1", n)
	}
	if got := mustGet(t, x, 42).LastMessage; got != "live" {
		t.Errorf("seed overwrote live item: %q", got)
	}

	// Seeded items yield to a later summary.
	tok := x.BeginSummary()
	x.ApplySummary(tok, []model.InboxItem{{ContactID: 43, LastMessage: "fresh"}})
	if got := mustGet(t, x, 43).LastMessage; got != "fresh" {
		t.Errorf("lastMessage = %q, want fresh", got)
	}
}

func TestReplayOlderThanSummaryRowIsStale(t *testing.T) {
	x := New(me)
	x.ApplySummary(x.BeginSummary(), []model.InboxItem{
		{ContactID: 42, LastMessage: "latest", LastMessageTime: t0.Add(10 * time.Minute), UnreadCount: 1},
	})

	if res := x.UpsertFromMessage(incoming(3, 42, "older"), false, false); res != Stale {
		t.Errorf("older replay = %v, want Stale", res)
	}
	if res := x.UpsertFromMessage(incoming(11, 42, "newer"), false, false); res != Advanced {
		t.Errorf("newer message = %v, want Advanced", res)
	}
	if it := mustGet(t, x, 42); it.UnreadCount != 2 || it.LastMessageID != 11 {
		t.Errorf("got unread=%d lastID=%d, want 2 11", it.UnreadCount, it.LastMessageID)
	}
}
