package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

const inboxColumns = `contact_id, username, online, last_message, last_message_id, last_message_at,
	is_read, unread_count, attachment_url, attachment_name`

// UpsertInbox inserts or updates one contact row.
func (db *DB) UpsertInbox(it model.InboxItem) error {
	return upsertInbox(db.DB, it)
}

func upsertInbox(x execer, it model.InboxItem) error {
	_, err := x.Exec(`
		INSERT INTO inbox (`+inboxColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			username = CASE WHEN excluded.username = '' THEN inbox.username ELSE excluded.username END,
			online = excluded.online,
			last_message = excluded.last_message,
			last_message_id = excluded.last_message_id,
			last_message_at = excluded.last_message_at,
			is_read = excluded.is_read,
			unread_count = excluded.unread_count,
			attachment_url = excluded.attachment_url,
			attachment_name = excluded.attachment_name,
			updated_at = excluded.updated_at`,
		it.ContactID, it.ContactUsername, it.ContactOnline, it.LastMessage, it.LastMessageID,
		toMillis(it.LastMessageTime), it.IsRead, it.UnreadCount, it.AttachmentURL, it.AttachmentName,
		time.Now().UnixMilli())
	return err
}

// ReplaceInbox stores a full inbox. Rows missing from items are kept: a
// summary only lists contacts with history, and live rows may be newer.
func (db *DB) ReplaceInbox(items []model.InboxItem) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, it := range items {
		if err := upsertInbox(tx, it); err != nil {
			return fmt.Errorf("upsert inbox %d: %w", it.ContactID, err)
		}
	}
	return tx.Commit()
}

// ListInbox returns inbox rows, most recent first.
func (db *DB) ListInbox(limit int) ([]model.InboxItem, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT `+inboxColumns+`
		FROM inbox
		ORDER BY last_message_at DESC, contact_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []model.InboxItem
	for rows.Next() {
		it, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetInbox returns the row of one contact, or nil.
func (db *DB) GetInbox(contact int64) (*model.InboxItem, error) {
	it, err := scanInbox(db.QueryRow(`SELECT `+inboxColumns+` FROM inbox WHERE contact_id = ?`, contact))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func scanInbox(s scanner) (model.InboxItem, error) {
	var (
		it     model.InboxItem
		lastAt int64
	)
	if err := s.Scan(&it.ContactID, &it.ContactUsername, &it.ContactOnline, &it.LastMessage,
		&it.LastMessageID, &lastAt, &it.IsRead, &it.UnreadCount, &it.AttachmentURL, &it.AttachmentName); err != nil {
		return model.InboxItem{}, err
	}
	it.LastMessageTime = fromMillis(lastAt)
	return it, nil
}
