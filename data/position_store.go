package data

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sherwood-labs/signalcore/models"
)

// PositionStore provides persistence operations for positions, with the
// row-level locking discipline spec.md §5 requires for the open→closing→
// closed lifecycle.
type PositionStore interface {
	InsertPosition(pos models.Position) error
	GetPosition(id string) (*models.Position, error)
	GetOpenPositionByOptionSymbol(optionSymbol string) (*models.Position, error)
	GetOpenPositions() ([]models.Position, error)
	// GetAllPositions returns every position regardless of status, most
	// recent first, for the orders monitoring endpoint (spec.md §6).
	GetAllPositions() ([]models.Position, error)
	// ClaimForExit atomically transitions one position from open to closing
	// and returns it, or (nil, nil) if no row matched — this is the only way
	// a position may enter closing, guaranteeing at most one winner across
	// concurrent exit monitor runs (spec.md §8.6).
	ClaimForExit(positionID string) (*models.Position, error)
	// CloseWithFill transitions a closing position to closed, recording the
	// realized P&L, in the same transaction as the exit trade's insert.
	CloseWithFill(positionID string, exitReason string, realizedPnL, fillPrice interface{}, tradeID, orderID string, fillQuantity int) error
	// DecrementQuantity atomically reduces an open position's quantity by
	// exitQty iff it is still open and quantity >= exitQty (spec.md §4.9
	// step 4, PARTIAL_EXIT). Returns (false, nil) if the row didn't match,
	// meaning another worker already acted on it.
	DecrementQuantity(positionID string, exitQty int) (bool, error)
}

// SQLPositionStore implements PositionStore using SQLite.
type SQLPositionStore struct {
	db *DB
}

// NewPositionStore creates a new SQL-based position store.
func NewPositionStore(db *DB) *SQLPositionStore {
	return &SQLPositionStore{db: db}
}

// InsertPosition inserts a newly opened position.
func (s *SQLPositionStore) InsertPosition(pos models.Position) error {
	query := `
		INSERT INTO positions
			(id, symbol, option_symbol, strike, expiration, type, quantity, entry_price, entry_timestamp,
			 status, engine, experiment_id, entry_bias_snapshot, last_updated)
		VALUES (:id, :symbol, :option_symbol, :strike, :expiration, :type, :quantity, :entry_price, :entry_timestamp,
			 :status, :engine, :experiment_id, :entry_bias_snapshot, :last_updated)
	`
	_, err := s.db.NamedExec(query, pos)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

// GetPosition retrieves a position by id.
func (s *SQLPositionStore) GetPosition(id string) (*models.Position, error) {
	var pos models.Position
	err := s.db.Get(&pos, `SELECT * FROM positions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return &pos, nil
}

// GetOpenPositionByOptionSymbol finds the live (open or closing) position
// for an option_symbol, if any — used to enforce one position per contract.
func (s *SQLPositionStore) GetOpenPositionByOptionSymbol(optionSymbol string) (*models.Position, error) {
	var pos models.Position
	query := `SELECT * FROM positions WHERE option_symbol = ? AND status IN ('open', 'closing')`
	err := s.db.Get(&pos, query, optionSymbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open position: %w", err)
	}
	return &pos, nil
}

// GetOpenPositions returns all positions currently in state open, the set
// the exit monitor scans each tick.
func (s *SQLPositionStore) GetOpenPositions() ([]models.Position, error) {
	var positions []models.Position
	err := s.db.Select(&positions, `SELECT * FROM positions WHERE status = 'open' ORDER BY entry_timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get open positions: %w", err)
	}
	return positions, nil
}

// GetAllPositions returns every position regardless of status.
func (s *SQLPositionStore) GetAllPositions() ([]models.Position, error) {
	var positions []models.Position
	err := s.db.Select(&positions, `SELECT * FROM positions ORDER BY entry_timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all positions: %w", err)
	}
	return positions, nil
}

// ClaimForExit performs the `UPDATE ... WHERE status='open' ... RETURNING`
// claim pattern spec.md §5 mandates: only one concurrent caller can win
// the open→closing transition for a given position.
func (s *SQLPositionStore) ClaimForExit(positionID string) (*models.Position, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE positions SET status = 'closing' WHERE id = ? AND status = 'open'`,
		positionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim position for exit: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	var pos models.Position
	if err := tx.Get(&pos, `SELECT * FROM positions WHERE id = ?`, positionID); err != nil {
		return nil, fmt.Errorf("failed to reload claimed position: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return &pos, nil
}

// CloseWithFill closes a position and records its exit trade in a single
// transaction, matching the paper executor's canonical single-transaction
// fill-plus-position-update (spec.md §4.7, Open Question resolution).
func (s *SQLPositionStore) CloseWithFill(positionID string, exitReason string, realizedPnL, fillPrice interface{}, tradeID, orderID string, fillQuantity int) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin close transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE positions SET status = 'closed', exit_reason = ?, exit_timestamp = CURRENT_TIMESTAMP,
			realized_pnl = ?, last_updated = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'closing'`,
		exitReason, realizedPnL, positionID,
	)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO trades (id, order_id, fill_price, fill_quantity, fill_timestamp) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		tradeID, orderID, fillPrice, fillQuantity,
	)
	if err != nil {
		return fmt.Errorf("failed to insert exit trade: %w", err)
	}

	_, err = tx.Exec(`UPDATE orders SET status = 'filled' WHERE id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark exit order filled: %w", err)
	}

	return tx.Commit()
}

// DecrementQuantity performs the atomic guarded decrement backing partial
// exits: the WHERE clause doubles as the claim, so only one caller can
// ever win a given reduction.
func (s *SQLPositionStore) DecrementQuantity(positionID string, exitQty int) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE positions SET quantity = quantity - ?, last_updated = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'open' AND quantity >= ?`,
		exitQty, positionID, exitQty,
	)
	if err != nil {
		return false, fmt.Errorf("failed to decrement position quantity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
