package store

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

const messageColumns = `id, sender_id, receiver_id, body, sent_at, is_read, attachment_url, attachment_name`

// UpsertMessage inserts or refreshes a message (idempotent on id).
func (db *DB) UpsertMessage(m model.Message) error {
	return upsertMessage(db.DB, m)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertMessage(x execer, m model.Message) error {
	if !m.Valid() {
		return fmt.Errorf("upsert message: invalid message %d", m.ID)
	}
	_, err := x.Exec(`
		INSERT INTO messages (`+messageColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			sent_at = CASE WHEN excluded.sent_at = 0 THEN messages.sent_at ELSE excluded.sent_at END,
			is_read = excluded.is_read,
			attachment_url = excluded.attachment_url,
			attachment_name = excluded.attachment_name,
			updated_at = excluded.updated_at`,
		m.ID, m.SenderID, m.ReceiverID, m.Text, toMillis(m.Timestamp), m.IsRead,
		m.AttachmentURL, m.AttachmentName, time.Now().UnixMilli())
	return err
}

// EditMessage replaces the body of an archived message. It reports whether the row existed.
func (db *DB) EditMessage(id int64, text string) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET body = ?, edited = 1, updated_at = ? WHERE id = ?`,
		text, time.Now().UnixMilli(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteMessage removes an archived message. It reports whether the row existed.
func (db *DB) DeleteMessage(id int64) (bool, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetMessage returns a message by id, or nil.
func (db *DB) GetMessage(id int64) (*model.Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ReplaceConversation stores an authoritative history of the a/b conversation.
// Archived rows of that conversation that are older than the newest message
// in msgs and missing from it are removed.
func (db *DB) ReplaceConversation(a, b int64, msgs []model.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var newest int64
	keep := make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		if err := upsertMessage(tx, m); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
		keep[m.ID] = true
		newest = max(newest, m.ID)
	}

	rows, err := tx.Query(`
		SELECT id FROM messages
		WHERE MIN(sender_id, receiver_id) = ? AND MAX(sender_id, receiver_id) = ? AND id <= ?`,
		min(a, b), max(a, b), newest)
	if err != nil {
		return fmt.Errorf("list archived ids: %w", err)
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete stale message %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns the archived conversation between a and b in
// chronological order, using keyset pagination on the message id. beforeID
// <= 0 starts from the newest message.
func (db *DB) ListMessages(a, b, beforeID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeID <= 0 {
		beforeID = 1<<63 - 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE MIN(sender_id, receiver_id) = ? AND MAX(sender_id, receiver_id) = ? AND id < ?
		ORDER BY id DESC
		LIMIT ?`, min(a, b), max(a, b), beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (model.Message, error) {
	var (
		m      model.Message
		sentAt int64
	)
	if err := s.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &sentAt, &m.IsRead,
		&m.AttachmentURL, &m.AttachmentName); err != nil {
		return model.Message{}, err
	}
	m.Timestamp = fromMillis(sentAt)
	return m, nil
}
