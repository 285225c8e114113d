package storage

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueItem is a durable unit of work on the Pipeline Orchestrator's
// per-stage queue (spec §4.8): "work units are enqueued on a durable broker
// with a single logical queue per stage". Lives in the cache physical
// database alongside the comparables cache -- losing an in-flight item on
// crash only costs a re-derivable re-enqueue, never data.
type QueueItem struct {
	ID         string
	Stage      string
	ListingID  string
	Attempts   int
	Status     string // pending, in_flight, done, failed
	LastError  string
	NotBefore  string // RFC3339Nano; item is not eligible before this time
	EnqueuedAt string
}

// StageQueueRepository persists the durable stage-queue rows backing the
// orchestrator's outbox pattern: a stage's successor enqueue commits in the
// same transaction as the stage's own write wherever the stage writes to
// the standard database, giving crash-safe fan-out.
type StageQueueRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const stageQueueColumns = `id, stage, listing_id, attempts, not_before, status, last_error, enqueued_at`

// Enqueue inserts a new pending item, or is a no-op if (stage, listing_id)
// is already queued -- fan-out is idempotent per spec §4.8.
func (r *StageQueueRepository) Enqueue(tx *sql.Tx, stage, listingID string, notBefore string) (string, error) {
	id := uuid.New().String()
	now := nowStr()
	if notBefore == "" {
		notBefore = now
	}
	exec := func(x execer) (sql.Result, error) {
		return x.Exec(`INSERT INTO stage_queue(id, stage, listing_id, attempts, not_before, status, enqueued_at)
			VALUES (?, ?, ?, 0, ?, 'pending', ?)
			ON CONFLICT(stage, listing_id) DO UPDATE SET not_before = excluded.not_before
			WHERE stage_queue.status IN ('done', 'failed')`, id, stage, listingID, notBefore, now)
	}
	var err error
	if tx != nil {
		_, err = exec(tx)
	} else {
		_, err = exec(r.db)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue stage %s for %s: %w", stage, listingID, err)
	}
	return id, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// ClaimNext atomically claims the oldest eligible pending item for one of
// the given stages (not_before <= now), marking it in_flight, or returns
// nil if nothing is eligible.
func (r *StageQueueRepository) ClaimNext(stages []string) (*QueueItem, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(stages)+1)
	for i, s := range stages {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, s)
	}
	args = append(args, nowStr())

	row := r.db.QueryRow(`SELECT `+stageQueueColumns+` FROM stage_queue
		WHERE status = 'pending' AND stage IN (`+placeholders+`) AND not_before <= ?
		ORDER BY enqueued_at ASC LIMIT 1`, args...)

	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next stage item: %w", err)
	}

	if _, err := r.db.Exec("UPDATE stage_queue SET status = 'in_flight' WHERE id = ?", item.ID); err != nil {
		return nil, fmt.Errorf("mark stage item in_flight: %w", err)
	}
	return item, nil
}

func scanQueueItem(row *sql.Row) (*QueueItem, error) {
	var q QueueItem
	var lastError sql.NullString
	if err := row.Scan(&q.ID, &q.Stage, &q.ListingID, &q.Attempts, &q.NotBefore, &q.Status, &lastError, &q.EnqueuedAt); err != nil {
		return nil, err
	}
	q.LastError = lastError.String
	return &q, nil
}

// MarkDone deletes a completed item -- the stage_queue table only tracks
// work in flight, not a permanent audit log (DuplicateLog/PriceHistory fill
// that role for their own domains).
func (r *StageQueueRepository) MarkDone(id string) error {
	_, err := r.db.Exec("DELETE FROM stage_queue WHERE id = ?", id)
	return err
}

// MarkRetry reschedules a failed item for retryAt with attempts incremented,
// or marks it permanently failed if attempts has reached the retry budget.
func (r *StageQueueRepository) MarkRetry(id string, attempts int, retryAt string, lastErr string, exhausted bool) error {
	status := "pending"
	if exhausted {
		status = "failed"
	}
	_, err := r.db.Exec("UPDATE stage_queue SET status = ?, attempts = ?, not_before = ?, last_error = ? WHERE id = ?",
		status, attempts, retryAt, lastErr, id)
	return err
}

// PendingCount reports the total number of pending and in-flight items
// across all stages, used by the health endpoint.
func (r *StageQueueRepository) PendingCount() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM stage_queue WHERE status IN ('pending', 'in_flight')").Scan(&n)
	return n, err
}
