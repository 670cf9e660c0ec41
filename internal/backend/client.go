// Package backend calls the chat server's request/response endpoints:
// history, inbox summary, send, edit and delete.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/session"
)

// ErrUnauthorized is returned for 401/403 replies. The session guard has
// already been tripped when a caller sees it.
var ErrUnauthorized = errors.New("backend rejected credentials")

// StatusError is a non-2xx reply.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// RejectedError is a {success:false} reply to a mutation.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "request rejected"
	}
	return "request rejected: " + e.Message
}

// Config addresses the backend.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	guard  *session.Guard
	logger *zap.Logger
}

// New creates a client. guard may be nil.
func New(cfg Config, guard *session.Guard, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   &http.Client{Timeout: cfg.Timeout},
		guard:  guard,
		logger: logger,
	}, nil
}

// History returns the conversation between me and peer in server order.
// Records that fail validation are skipped.
func (c *Client) History(ctx context.Context, me, peer int64) ([]model.Message, error) {
	q := url.Values{}
	q.Set("senderId", strconv.FormatInt(me, 10))
	q.Set("receiverId", strconv.FormatInt(peer, 10))

	var recs []model.Record
	if err := c.do(ctx, http.MethodGet, "/api/messages/history", q, nil, "", &recs); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	msgs := make([]model.Message, 0, len(recs))
	for _, rec := range recs {
		m, err := rec.Message()
		if err != nil {
			c.logger.Warn("skipping history record", zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// InboxSummary returns one row per contact of me.
func (c *Client) InboxSummary(ctx context.Context, me int64) ([]model.InboxItem, error) {
	q := url.Values{}
	q.Set("receiverId", strconv.FormatInt(me, 10))

	var rows []model.SummaryRow
	if err := c.do(ctx, http.MethodGet, "/api/inbox", q, nil, "", &rows); err != nil {
		return nil, fmt.Errorf("fetch inbox summary: %w", err)
	}
	items := make([]model.InboxItem, 0, len(rows))
	for _, row := range rows {
		it, err := row.Item()
		if err != nil {
			c.logger.Warn("skipping inbox row", zap.Error(err))
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

type mutationReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Edit replaces the text of message id.
func (c *Client) Edit(ctx context.Context, id int64, text string) error {
	body, err := json.Marshal(map[string]any{"messageId": id, "text": text})
	if err != nil {
		return err
	}
	return c.mutate(ctx, http.MethodPut, "/api/messages/edit", body)
}

// Delete removes message id.
func (c *Client) Delete(ctx context.Context, id int64) error {
	body, err := json.Marshal(map[string]any{"messageId": id})
	if err != nil {
		return err
	}
	return c.mutate(ctx, http.MethodPost, "/api/messages/delete", body)
}

func (c *Client) mutate(ctx context.Context, method, path string, body []byte) error {
	var reply mutationReply
	if err := c.do(ctx, method, path, nil, bytes.NewReader(body), "application/json", &reply); err != nil {
		return err
	}
	if !reply.Success {
		return &RejectedError{Message: reply.Message}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string, out any) error {
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.roundTrip(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if c.guard != nil {
			c.guard.Trip()
		}
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s reply: %w", req.URL.Path, err)
	}
	return nil
}
