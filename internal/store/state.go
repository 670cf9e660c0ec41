package store

import (
	"database/sql"
	"errors"
	"strconv"
)

// Checkpoint keys.
const (
	KeyUserID     = "user_id"
	KeyActivePeer = "active_peer"
	KeyLastSync   = "last_inbox_sync"
)

// SetCheckpoint stores a sync_state value.
func (db *DB) SetCheckpoint(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Checkpoint returns a sync_state value and whether it was set.
func (db *DB) Checkpoint(key string) (string, bool, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// CheckpointInt reads an integer checkpoint. Unset or malformed values read as 0.
func (db *DB) CheckpointInt(key string) (int64, error) {
	v, ok, err := db.Checkpoint(key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// SetCheckpointInt stores an integer checkpoint.
func (db *DB) SetCheckpointInt(key string, v int64) error {
	return db.SetCheckpoint(key, strconv.FormatInt(v, 10))
}

// ClaimOwner binds the archive to user. When it was bound to someone else
// the archive is reset first. It reports whether a reset happened.
func (db *DB) ClaimOwner(user int64) (bool, error) {
	owner, err := db.CheckpointInt(KeyUserID)
	if err != nil {
		return false, err
	}
	if owner == user {
		return false, nil
	}
	reset := owner != 0
	if reset {
		if err := db.Reset(); err != nil {
			return false, err
		}
	}
	return reset, db.SetCheckpointInt(KeyUserID, user)
}
