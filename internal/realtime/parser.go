package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/dmsync/internal/model"
)

// Hub method names pushed to the client.
const (
	TargetReceiveMessage        = "ReceiveMessage"
	TargetReceiveDeletedMessage = "ReceiveDeletedMessage"
	TargetReceiveUpdatedMessage = "ReceiveUpdatedMessage"
)

// ErrUnknownTarget is returned for invocations this client does not handle.
var ErrUnknownTarget = errors.New("unknown hub target")

type updatedPayload struct {
	MessageID json.RawMessage `json:"messageId"`
	Text      string          `json:"text"`
	SendTime  string          `json:"sendTime"`
}

// ParseInvocation validates an invocation's arguments and builds the typed event.
func ParseInvocation(target string, args []json.RawMessage) (Event, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: no arguments", target)
	}
	switch target {
	case TargetReceiveMessage:
		var rec model.Record
		if err := json.Unmarshal(args[0], &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", target, err)
		}
		m, err := rec.Message()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", target, err)
		}
		return MessageReceived{Message: m}, nil

	case TargetReceiveDeletedMessage:
		id, err := parseID(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", target, err)
		}
		return MessageDeleted{ID: id}, nil

	case TargetReceiveUpdatedMessage:
		var p updatedPayload
		if err := json.Unmarshal(args[0], &p); err != nil {
			return nil, fmt.Errorf("%s: %w", target, err)
		}
		id, err := parseID(p.MessageID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", target, err)
		}
		at, err := model.ParseTimestamp(p.SendTime)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", target, err)
		}
		return MessageUpdated{ID: id, Text: p.Text, At: at}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
}

// parseID accepts 12, "12" or {"messageId": 12}.
func parseID(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "{") {
		var wrapped struct {
			MessageID json.RawMessage `json:"messageId"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return 0, err
		}
		return parseID(wrapped.MessageID)
	}
	id, err := strconv.ParseInt(strings.Trim(s, `"`), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid message id %s", s)
	}
	return id, nil
}
