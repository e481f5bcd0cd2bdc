package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sherwood-labs/signalcore/models"
)

// ExperimentStore persists the one Experiment row per signal and the
// ExecutionPolicy derived from it.
type ExperimentStore interface {
	// GetBySignalID returns the existing experiment for a signal, if any —
	// callers use this before inserting to honor the "exactly one
	// experiment per signal" invariant (spec.md §8.1).
	GetBySignalID(signalID string) (*models.Experiment, error)
	InsertExperiment(exp models.Experiment) error
	InsertPolicy(policy models.ExecutionPolicy) error
	GetPolicyByExperimentID(experimentID string) (*models.ExecutionPolicy, error)
	// CountByVariantSince counts experiments assigned to each variant since
	// cutoff, for the monitoring status endpoint's engines.by_variant_24h.
	CountByVariantSince(cutoff time.Time) (map[models.Variant]int, error)
}

// SQLExperimentStore implements ExperimentStore using SQLite.
type SQLExperimentStore struct {
	db *DB
}

// NewExperimentStore creates a new SQL-based experiment store.
func NewExperimentStore(db *DB) *SQLExperimentStore {
	return &SQLExperimentStore{db: db}
}

// GetBySignalID returns the existing experiment for a signal, if any.
func (s *SQLExperimentStore) GetBySignalID(signalID string) (*models.Experiment, error) {
	var exp models.Experiment
	err := s.db.Get(&exp, `SELECT * FROM experiments WHERE signal_id = ?`, signalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return &exp, nil
}

// InsertExperiment inserts a new experiment. The unique index on signal_id
// plus INSERT OR IGNORE makes a repeated call for the same signal a silent
// no-op that keeps the existing row; callers re-read via GetBySignalID.
func (s *SQLExperimentStore) InsertExperiment(exp models.Experiment) error {
	query := `
		INSERT OR IGNORE INTO experiments
			(id, signal_id, variant, assignment_hash, split_percentage, policy_version, created_at)
		VALUES (:id, :signal_id, :variant, :assignment_hash, :split_percentage, :policy_version, :created_at)
	`
	_, err := s.db.NamedExec(query, exp)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

// InsertPolicy persists the policy engine's decision for an experiment.
func (s *SQLExperimentStore) InsertPolicy(policy models.ExecutionPolicy) error {
	query := `
		INSERT INTO execution_policies
			(id, experiment_id, execution_mode, executed_engine, shadow_engine, reason, policy_version, created_at)
		VALUES (:id, :experiment_id, :execution_mode, :executed_engine, :shadow_engine, :reason, :policy_version, :created_at)
	`
	_, err := s.db.NamedExec(query, policy)
	if err != nil {
		return fmt.Errorf("failed to insert execution policy: %w", err)
	}
	return nil
}

// CountByVariantSince counts experiments by variant since cutoff.
func (s *SQLExperimentStore) CountByVariantSince(cutoff time.Time) (map[models.Variant]int, error) {
	rows, err := s.db.Queryx(`SELECT variant, COUNT(*) AS n FROM experiments WHERE created_at >= ? GROUP BY variant`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize experiments by variant: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Variant]int)
	for rows.Next() {
		var variant string
		var n int
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, fmt.Errorf("failed to scan variant summary row: %w", err)
		}
		counts[models.Variant(variant)] = n
	}
	return counts, rows.Err()
}

// GetPolicyByExperimentID returns the policy for an experiment, if any.
func (s *SQLExperimentStore) GetPolicyByExperimentID(experimentID string) (*models.ExecutionPolicy, error) {
	var policy models.ExecutionPolicy
	err := s.db.Get(&policy, `SELECT * FROM execution_policies WHERE experiment_id = ?`, experimentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution policy: %w", err)
	}
	return &policy, nil
}
