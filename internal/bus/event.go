package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix ("message.", "inbox.", ...).
const (
	KindMessageUpserted = "message.upserted"
	KindMessageEdited   = "message.edited"
	KindMessageDeleted  = "message.deleted"

	KindConversationOpened     = "conversation.opened"
	KindConversationLoaded     = "conversation.loaded"
	KindConversationLoadFailed = "conversation.load_failed"

	KindInboxUpdated       = "inbox.updated"
	KindInboxRefreshed     = "inbox.refreshed"
	KindInboxRefreshFailed = "inbox.refresh_failed"

	KindNotifyReceived = "notify.received"
	KindNotifySent     = "notify.sent"

	KindSendProgress = "send.progress"
	KindSendFailed   = "send.failed"

	KindChannelState = "channel.state_changed"

	KindSessionUnauthorized = "session.unauthorized"
)
