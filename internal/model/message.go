package model

import (
	"strings"
	"time"
)

// Message is a direct message between two users as stored by the server.
type Message struct {
	ID             int64     `json:"id"`
	SenderID       int64     `json:"senderId"`
	ReceiverID     int64     `json:"receiverId"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	IsRead         bool      `json:"isRead"`
	AttachmentURL  string    `json:"attachmentUrl,omitempty"`
	AttachmentName string    `json:"attachmentName,omitempty"`
}

// Valid reports whether the message carries a server-assigned id and both participants.
func (m Message) Valid() bool {
	return m.ID > 0 && m.SenderID > 0 && m.ReceiverID > 0
}

// IsMine reports whether me sent the message. The sender id is the only discriminator.
func (m Message) IsMine(me int64) bool {
	return m.SenderID == me
}

// PeerOf returns the other participant of the message as seen by me,
// or 0 when me is not a participant. A message to oneself has no peer.
func (m Message) PeerOf(me int64) int64 {
	if m.SenderID == m.ReceiverID {
		return 0
	}
	switch me {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	}
	return 0
}

// HasAttachment reports whether the message references an uploaded file.
func (m Message) HasAttachment() bool {
	return m.AttachmentURL != ""
}

// Preview is the single-line text shown for the message in the inbox.
func (m Message) Preview() string {
	text := strings.TrimSpace(m.Text)
	if text == "" && m.AttachmentName != "" {
		return m.AttachmentName
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return text
}

// InboxItem is the per-contact rollup shown in the contact list.
type InboxItem struct {
	ContactID       int64     `json:"contactId"`
	ContactUsername string    `json:"contactUsername"`
	ContactOnline   bool      `json:"contactOnline"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	IsRead          bool      `json:"isRead"`
	UnreadCount     int       `json:"unreadCount"`
	AttachmentURL   string    `json:"attachmentUrl,omitempty"`
	AttachmentName  string    `json:"attachmentName,omitempty"`

	// LastMessageID is the id of the message LastMessage was taken from, 0 when unknown
	// (summary rows do not carry it).
	LastMessageID int64 `json:"lastMessageId,omitempty"`
}

// DisplayName falls back to the contact id when the username is not known yet.
func (it InboxItem) DisplayName() string {
	if it.ContactUsername != "" {
		return it.ContactUsername
	}
	return "user " + itoa(it.ContactID)
}
