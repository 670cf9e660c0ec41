// Package realtime keeps the push channel to the chat hub alive and turns its
// loosely typed invocations into a closed set of events.
package realtime

import (
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

// Event is one of MessageReceived, MessageDeleted or MessageUpdated.
type Event interface {
	isEvent()
}

// MessageReceived carries a new (or replayed) message.
type MessageReceived struct {
	Message model.Message
}

// MessageDeleted carries the id of a removed message.
type MessageDeleted struct {
	ID int64
}

// MessageUpdated carries the new text of an edited message.
type MessageUpdated struct {
	ID   int64
	Text string
	At   time.Time
}

func (MessageReceived) isEvent() {}
func (MessageDeleted) isEvent()  {}
func (MessageUpdated) isEvent()  {}

// Handler receives events in arrival order on the channel's read goroutine.
// It must not block.
type Handler func(Event)
