package sync

import "github.com/matheus3301/dmsync/internal/model"

// Opened is the payload of conversation.opened.
type Opened struct {
	Peer       int64  `json:"peer"`
	Generation uint64 `json:"generation"`
}

// LoadFailed is the payload of conversation.load_failed.
type LoadFailed struct {
	Peer       int64  `json:"peer"`
	Generation uint64 `json:"generation"`
	Error      string `json:"error"`
}

// Edit is the payload of message.edited. Applied is false when the message
// was not loaded locally.
type Edit struct {
	ID      int64  `json:"id"`
	Text    string `json:"text"`
	Applied bool   `json:"applied"`
}

// Deletion is the payload of message.deleted.
type Deletion struct {
	ID      int64 `json:"id"`
	Applied bool  `json:"applied"`
}

// Notification is the payload of notify.received.
type Notification struct {
	Message model.Message   `json:"message"`
	Contact model.InboxItem `json:"contact"`
}

// InboxView is a copy of the inbox.
type InboxView struct {
	Items       []model.InboxItem `json:"items"`
	TotalUnread int               `json:"totalUnread"`
	Error       string            `json:"error,omitempty"`
}
