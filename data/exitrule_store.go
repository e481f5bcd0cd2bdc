package data

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sherwood-labs/signalcore/models"
)

// ExitRuleStore provides access to the current enabled exit rule that
// governs the exit monitor (spec.md §3 ExitRule).
type ExitRuleStore interface {
	GetEnabledRule() (*models.ExitRule, error)
	UpsertRule(rule models.ExitRule) error
}

// SQLExitRuleStore implements ExitRuleStore using SQLite.
type SQLExitRuleStore struct {
	db *DB
}

// NewExitRuleStore creates a new SQL-based exit rule store.
func NewExitRuleStore(db *DB) *SQLExitRuleStore {
	return &SQLExitRuleStore{db: db}
}

// GetEnabledRule returns the currently enabled exit rule, if any.
func (s *SQLExitRuleStore) GetEnabledRule() (*models.ExitRule, error) {
	var rule models.ExitRule
	err := s.db.Get(&rule, `SELECT * FROM exit_rules WHERE enabled = 1 LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled exit rule: %w", err)
	}
	return &rule, nil
}

// UpsertRule inserts or replaces an exit rule row.
func (s *SQLExitRuleStore) UpsertRule(rule models.ExitRule) error {
	query := `
		INSERT OR REPLACE INTO exit_rules
			(id, profit_target_percent, stop_loss_percent, max_hold_time_hours, min_dte_exit, enabled)
		VALUES (:id, :profit_target_percent, :stop_loss_percent, :max_hold_time_hours, :min_dte_exit, :enabled)
	`
	_, err := s.db.NamedExec(query, rule)
	if err != nil {
		return fmt.Errorf("failed to upsert exit rule: %w", err)
	}
	return nil
}
