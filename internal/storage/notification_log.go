package storage

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// NotificationLogRepository records the idempotency keys of notifications
// already dispatched to the outbound collaborator (spec §6: "the core
// expects at-most-once delivery per (listing, score-revision) and provides
// an idempotency key = hash(listing_id, score_value, scored_at)"). The core
// itself never calls the collaborator transport (out of scope per spec §1);
// this table is what lets the orchestrator's notify stage decide whether a
// given score revision has already been handed off.
type NotificationLogRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// AlreadySent reports whether idempotencyKey has already been recorded.
func (r *NotificationLogRepository) AlreadySent(idempotencyKey string) (bool, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM notification_log WHERE idempotency_key = ?", idempotencyKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query notification log: %w", err)
	}
	return n > 0, nil
}

// Record marks idempotencyKey as dispatched. Safe to call redundantly --
// the primary key makes a repeat insert a no-op.
func (r *NotificationLogRepository) Record(idempotencyKey, listingID string, scoreValue float64) error {
	_, err := r.db.Exec(`INSERT INTO notification_log(idempotency_key, listing_id, score_value, posted_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(idempotency_key) DO NOTHING`,
		idempotencyKey, listingID, scoreValue, nowStr())
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// CountSince returns how many notifications were recorded at or after the
// given RFC3339Nano timestamp, used by the Monitor pass's per-run rate limit.
func (r *NotificationLogRepository) CountSince(since string) (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM notification_log WHERE posted_at >= ?", since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent notifications: %w", err)
	}
	return n, nil
}
