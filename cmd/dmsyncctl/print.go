package main

import (
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/dmsync/internal/conversation"
	"github.com/matheus3301/dmsync/internal/model"
	intsync "github.com/matheus3301/dmsync/internal/sync"
)

func stamp(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	t = t.Local()
	if y, m, d := time.Now().Date(); t.Year() == y && t.Month() == m && t.Day() == d {
		return t.Format("15:04")
	}
	return t.Format("Jan 02 15:04")
}

func stampMillis(ms int64) string {
	return time.UnixMilli(ms).Local().Format("15:04:05")
}

func progress(sent, total int64) string {
	if total <= 0 {
		return ""
	}
	return fmt.Sprintf("%d%%", sent*100/total)
}

func printInbox(w io.Writer, v intsync.InboxView) {
	if v.Error != "" {
		fmt.Fprintf(w, "! refresh failed: %s\n", v.Error)
	}
	if len(v.Items) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	for _, it := range v.Items {
		presence := " "
		if it.ContactOnline {
			presence = "*"
		}
		unread := ""
		if it.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", it.UnreadCount)
		}
		preview := it.LastMessage
		if preview == "" {
			preview = it.AttachmentName
		}
		fmt.Fprintf(w, "%s %-6d %-20s %-5s %-12s %s\n", presence, it.ContactID, it.DisplayName(), unread, stamp(it.LastMessageTime), preview)
	}
	fmt.Fprintf(w, "%d unread\n", v.TotalUnread)
}

func printConversation(w io.Writer, snap conversation.Snapshot, me int64) {
	if snap.Peer == 0 {
		fmt.Fprintln(w, "No conversation open.")
		return
	}
	if snap.Loading {
		fmt.Fprintln(w, "(loading)")
	}
	if snap.Error != "" {
		fmt.Fprintf(w, "! history failed: %s\n", snap.Error)
	}
	for _, m := range snap.Messages {
		fmt.Fprintln(w, formatMessage(m, me))
	}
}

func formatMessage(m model.Message, me int64) string {
	who := fmt.Sprintf("%d", m.SenderID)
	if m.IsMine(me) {
		who = "me"
	}
	line := fmt.Sprintf("[%d] %s %s: %s", m.ID, stamp(m.Timestamp), who, m.Text)
	if m.HasAttachment() {
		line += fmt.Sprintf(" [%s]", m.AttachmentName)
	}
	return line
}
