package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/dmsync/internal/conversation"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/send"
	"github.com/matheus3301/dmsync/internal/store"
	intsync "github.com/matheus3301/dmsync/internal/sync"
)

type StatusRequest struct{}

type StatusResponse struct {
	Profile       string    `json:"profile"`
	UserID        int64     `json:"userId"`
	Username      string    `json:"username,omitempty"`
	Channel       string    `json:"channel"`
	ChannelSince  time.Time `json:"channelSince"`
	UptimeMs      int64     `json:"uptimeMs"`
	PendingSends  int       `json:"pendingSends"`
	DroppedEvents uint64    `json:"droppedEvents"`
	LastInboxSync time.Time `json:"lastInboxSync,omitzero"`
}

type InboxRequest struct{}

type InboxResponse = intsync.InboxView

type RefreshRequest struct{}

type RefreshResponse struct{}

type OpenRequest struct {
	Peer int64 `json:"peer"`
	// Wait blocks until the history of this open resolved or failed.
	Wait bool `json:"wait"`
}

type OpenResponse struct {
	Generation   uint64                `json:"generation"`
	Conversation conversation.Snapshot `json:"conversation"`
}

type ConversationRequest struct{}

type ConversationResponse = conversation.Snapshot

type SendRequest struct {
	Peer int64  `json:"peer"`
	Text string `json:"text"`
	// FilePath is read by the daemon and must be absolute.
	FilePath string `json:"filePath,omitempty"`
}

type SendResponse struct {
	Sent    bool          `json:"sent"`
	Message model.Message `json:"message"`
}

type EditRequest struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type DeleteRequest struct {
	ID int64 `json:"id"`
}

type MutationResponse struct {
	Result string `json:"result"`
}

type PendingRequest struct{}

type PendingResponse struct {
	Sends []send.PendingSend `json:"sends"`
}

type ArchiveRequest struct {
	Peer     int64 `json:"peer"`
	BeforeID int64 `json:"beforeId,omitempty"`
	Limit    int   `json:"limit,omitempty"`
}

type ArchiveResponse struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Peer  int64  `json:"peer,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

type SearchHit struct {
	Message model.Message `json:"message"`
	Peer    int64         `json:"peer"`
	Snippet string        `json:"snippet"`
}

func hitsFromStore(results []store.SearchResult) []SearchHit {
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{Message: r.Message, Peer: r.Peer, Snippet: r.Snippet})
	}
	return hits
}

type WatchRequest struct {
	// Namespace filters events by kind prefix; empty means all.
	Namespace string `json:"namespace,omitempty"`
}

// EventEnvelope carries one bus event to a watcher.
type EventEnvelope struct {
	EventID          string          `json:"eventId"`
	Profile          string          `json:"profile"`
	OccurredAtUnixMs int64           `json:"occurredAtUnixMs"`
	Kind             string          `json:"kind"`
	PayloadVersion   int             `json:"payloadVersion"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
