package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sherwood-labs/signalcore/models"
)

// SignalStore owns signal persistence and the webhook audit trail, and is
// the sole writer of new Signal rows (spec.md §3 "Ownership").
type SignalStore interface {
	// InsertSignalIfNotDuplicate inserts a signal iff no signal with the
	// same (symbol, direction, timeframe) exists within the 60s sliding
	// window around its event_timestamp; returns the inserted signal, or
	// (nil, nil) when a duplicate was detected.
	InsertSignalIfNotDuplicate(signal models.Signal, window time.Duration) (*models.Signal, error)
	GetSignal(id string) (*models.Signal, error)
	// ClaimBatch transactionally claims up to limit claimable signals
	// (processing_lock=false, queued_until<=now, next_retry_at<=now),
	// setting processing_lock=true, and returns the claimed rows.
	ClaimBatch(limit int) ([]models.Signal, error)
	MarkProcessed(id string, status models.SignalStatus, experimentID *string) error
	MarkFailed(id string, nextRetryAt time.Time) error
	RecordWebhookEvent(event models.WebhookEvent) error
	// QueueDepth counts signals currently eligible for claim: the same
	// predicate ClaimBatch selects on (spec.md §4.10 health monitor).
	QueueDepth() (int, error)
	// RecentWebhookEvents returns the most recent webhook audit rows, for
	// the monitoring status endpoint (spec.md §6).
	RecentWebhookEvents(limit int) ([]models.WebhookEvent, error)
	// WebhookSummarySince counts webhook events since cutoff grouped by
	// status, for the monitoring status endpoint's summary_24h.
	WebhookSummarySince(cutoff time.Time) (map[models.WebhookEventStatus]int, error)
}

// SQLSignalStore implements SignalStore using SQLite.
type SQLSignalStore struct {
	db *DB
}

// NewSignalStore creates a new SQL-based signal store.
func NewSignalStore(db *DB) *SQLSignalStore {
	return &SQLSignalStore{db: db}
}

// InsertSignalIfNotDuplicate implements the webhook dedupe window
// (spec.md §8.3): a signal with the same (symbol, direction, timeframe)
// and an event_timestamp within `window` of the new one is treated as a
// duplicate. Fingerprint alone can't key this check: it's a hash of the
// timestamp too, so near-duplicate events a few hundred ms apart never
// collide on fingerprint equality.
func (s *SQLSignalStore) InsertSignalIfNotDuplicate(signal models.Signal, window time.Duration) (*models.Signal, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin dedupe transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	windowStart := signal.EventTimestamp.Add(-window)
	windowEnd := signal.EventTimestamp.Add(window)
	err = tx.Get(&count,
		`SELECT COUNT(*) FROM signals WHERE symbol = ? AND direction = ? AND timeframe = ? AND event_timestamp BETWEEN ? AND ?`,
		signal.Symbol, signal.Direction, signal.Timeframe, windowStart, windowEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}
	if count > 0 {
		return nil, nil
	}

	query := `
		INSERT INTO signals
			(id, symbol, direction, timeframe, event_timestamp, fingerprint, raw_payload,
			 status, processed, processing_lock, queued_until, next_retry_at, processing_attempts, created_at)
		VALUES (:id, :symbol, :direction, :timeframe, :event_timestamp, :fingerprint, :raw_payload,
			 :status, :processed, :processing_lock, :queued_until, :next_retry_at, :processing_attempts, :created_at)
	`
	if _, err := tx.NamedExec(query, signal); err != nil {
		return nil, fmt.Errorf("failed to insert signal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit signal insert: %w", err)
	}
	return &signal, nil
}

// GetSignal retrieves a signal by id.
func (s *SQLSignalStore) GetSignal(id string) (*models.Signal, error) {
	var sig models.Signal
	err := s.db.Get(&sig, `SELECT * FROM signals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}
	return &sig, nil
}

// ClaimBatch performs the orchestrator's transactional claim (spec.md
// §4.6 step 1): locks up to limit eligible rows and returns them.
func (s *SQLSignalStore) ClaimBatch(limit int) ([]models.Signal, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	selectQuery := `
		SELECT id FROM signals
		WHERE processing_lock = 0 AND processed = 0
			AND (queued_until IS NULL OR queued_until <= CURRENT_TIMESTAMP)
			AND (next_retry_at IS NULL OR next_retry_at <= CURRENT_TIMESTAMP)
		ORDER BY created_at ASC
		LIMIT ?
	`
	if err := tx.Select(&ids, selectQuery, limit); err != nil {
		return nil, fmt.Errorf("failed to select claimable signals: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	query, args, err := sqlxIn(`UPDATE signals SET processing_lock = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build claim update: %w", err)
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("failed to claim signals: %w", err)
	}

	var claimed []models.Signal
	selectClaimed, args, err := sqlxIn(`SELECT * FROM signals WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build claimed select: %w", err)
	}
	if err := tx.Select(&claimed, selectClaimed, args...); err != nil {
		return nil, fmt.Errorf("failed to reload claimed signals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

// MarkProcessed marks a signal processed with its final status.
func (s *SQLSignalStore) MarkProcessed(id string, status models.SignalStatus, experimentID *string) error {
	_, err := s.db.Exec(
		`UPDATE signals SET processed = 1, processing_lock = 0, status = ?, experiment_id = ? WHERE id = ?`,
		status, experimentID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark signal processed: %w", err)
	}
	return nil
}

// MarkFailed releases the claim lock, sets status failed, bumps the retry
// counter, and schedules next_retry_at per the capped exponential backoff
// the orchestrator computed (spec.md §8.8).
func (s *SQLSignalStore) MarkFailed(id string, nextRetryAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE signals SET processing_lock = 0, status = 'failed', processing_attempts = processing_attempts + 1, next_retry_at = ? WHERE id = ?`,
		nextRetryAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark signal failed: %w", err)
	}
	return nil
}

// QueueDepth counts signals matching ClaimBatch's eligibility predicate,
// without claiming them.
func (s *SQLSignalStore) QueueDepth() (int, error) {
	var depth int
	query := `
		SELECT COUNT(*) FROM signals
		WHERE processing_lock = 0 AND processed = 0
			AND (queued_until IS NULL OR queued_until <= CURRENT_TIMESTAMP)
			AND (next_retry_at IS NULL OR next_retry_at <= CURRENT_TIMESTAMP)
	`
	if err := s.db.Get(&depth, query); err != nil {
		return 0, fmt.Errorf("failed to compute queue depth: %w", err)
	}
	return depth, nil
}

// RecentWebhookEvents returns the most recent webhook audit rows.
func (s *SQLSignalStore) RecentWebhookEvents(limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := s.db.Select(&events, `SELECT * FROM webhook_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent webhook events: %w", err)
	}
	return events, nil
}

// WebhookSummarySince counts webhook events by status since cutoff.
func (s *SQLSignalStore) WebhookSummarySince(cutoff time.Time) (map[models.WebhookEventStatus]int, error) {
	rows, err := s.db.Queryx(`SELECT status, COUNT(*) AS n FROM webhook_events WHERE created_at >= ? GROUP BY status`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize webhook events: %w", err)
	}
	defer rows.Close()

	summary := make(map[models.WebhookEventStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan webhook summary row: %w", err)
		}
		summary[models.WebhookEventStatus(status)] = n
	}
	return summary, rows.Err()
}

// RecordWebhookEvent appends an audit row for a webhook receipt, regardless
// of outcome (spec.md §3 WebhookEvent).
func (s *SQLSignalStore) RecordWebhookEvent(event models.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events
			(request_id, signal_id, status, symbol, direction, timeframe, error_message, processing_time_ms, created_at)
		VALUES (:request_id, :signal_id, :status, :symbol, :direction, :timeframe, :error_message, :processing_time_ms, :created_at)
	`
	_, err := s.db.NamedExec(query, event)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}
