package model

import (
	"errors"
	"fmt"
)

// Record is a message as serialized by the backend and the hub.
type Record struct {
	MessageID  int64  `json:"messageId"`
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Text       string `json:"text"`
	SendTime   string `json:"sendTime,omitempty"`
	IsRead     bool   `json:"isRead"`
	FileURL    string `json:"fileUrl,omitempty"`
	FileName   string `json:"fileName,omitempty"`
}

// ErrInvalidRecord marks a record that cannot become a Message.
var ErrInvalidRecord = errors.New("invalid message record")

// Message validates the record and converts it. A missing sendTime yields a
// zero Timestamp; callers that need one stamp it themselves.
func (r Record) Message() (Message, error) {
	if r.MessageID <= 0 || r.SenderID <= 0 || r.ReceiverID <= 0 {
		return Message{}, fmt.Errorf("%w: id=%d sender=%d receiver=%d",
			ErrInvalidRecord, r.MessageID, r.SenderID, r.ReceiverID)
	}
	ts, err := ParseTimestamp(r.SendTime)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return Message{
		ID:             r.MessageID,
		SenderID:       r.SenderID,
		ReceiverID:     r.ReceiverID,
		Text:           r.Text,
		Timestamp:      ts,
		IsRead:         r.IsRead,
		AttachmentURL:  r.FileURL,
		AttachmentName: r.FileName,
	}, nil
}

// RecordOf is the inverse of Record.Message.
func RecordOf(m Message) Record {
	return Record{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		SendTime:   FormatTimestamp(m.Timestamp),
		IsRead:     m.IsRead,
		FileURL:    m.AttachmentURL,
		FileName:   m.AttachmentName,
	}
}

// SummaryRow is one contact of the inbox summary reply.
type SummaryRow struct {
	ContactID       int64  `json:"contactId"`
	ContactUsername string `json:"contactUsername"`
	ContactOnline   bool   `json:"contactOnline"`
	LastMessage     string `json:"lastMessage"`
	SendTime        string `json:"sendTime,omitempty"`
	IsRead          bool   `json:"isRead"`
	UnreadCount     int    `json:"unreadCount"`
	FileURL         string `json:"fileUrl,omitempty"`
	FileName        string `json:"fileName,omitempty"`
}

// Item converts the row. Rows without a contact id are rejected.
func (r SummaryRow) Item() (InboxItem, error) {
	if r.ContactID <= 0 {
		return InboxItem{}, fmt.Errorf("%w: contact id %d", ErrInvalidRecord, r.ContactID)
	}
	ts, err := ParseTimestamp(r.SendTime)
	if err != nil {
		return InboxItem{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	unread := max(r.UnreadCount, 0)
	return InboxItem{
		ContactID:       r.ContactID,
		ContactUsername: r.ContactUsername,
		ContactOnline:   r.ContactOnline,
		LastMessage:     r.LastMessage,
		LastMessageTime: ts,
		IsRead:          r.IsRead && unread == 0,
		UnreadCount:     unread,
		AttachmentURL:   r.FileURL,
		AttachmentName:  r.FileName,
	}, nil
}
