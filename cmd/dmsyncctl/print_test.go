package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/conversation"
	"github.com/matheus3301/dmsync/internal/model"
	intsync "github.com/matheus3301/dmsync/internal/sync"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		arg     string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"bo", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.arg, "peer")
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseID(%q) = %d, %v", tt.arg, got, err)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	m := model.Message{ID: 3, SenderID: 7, ReceiverID: 42, Text: "hi", AttachmentURL: "/f/a.png", AttachmentName: "a.png"}
	got := formatMessage(m, 7)
	if !strings.HasPrefix(got, "[3] --:-- me: hi") || !strings.HasSuffix(got, "[a.png]") {
		t.Errorf("formatMessage() = %q", got)
	}
	if got := formatMessage(m, 42); !strings.Contains(got, " 7: hi") {
		t.Errorf("formatMessage() from peer = %q", got)
	}
}

func TestPrintInbox(t *testing.T) {
	var buf bytes.Buffer
	printInbox(&buf, intsync.InboxView{
		Items: []model.InboxItem{
			{ContactID: 42, ContactUsername: "bo", ContactOnline: true, LastMessage: "yo", LastMessageTime: time.Now(), UnreadCount: 2},
			{ContactID: 43, AttachmentName: "cat.png"},
		},
		TotalUnread: 2,
		Error:       "503",
	})
	out := buf.String()
	for _, want := range []string{"refresh failed: 503", "* 42", "bo", "(2)", "user 43", "cat.png", "2 unread"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintConversation(t *testing.T) {
	var buf bytes.Buffer
	printConversation(&buf, conversation.Snapshot{}, 7)
	if !strings.Contains(buf.String(), "No conversation open") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	printConversation(&buf, conversation.Snapshot{Peer: 42, Loading: true, Messages: []model.Message{{ID: 1, SenderID: 42, ReceiverID: 7, Text: "hi"}}}, 7)
	if !strings.Contains(buf.String(), "(loading)") || !strings.Contains(buf.String(), "[1]") {
		t.Errorf("output = %q", buf.String())
	}
}
