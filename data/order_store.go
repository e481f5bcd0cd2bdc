package data

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sherwood-labs/signalcore/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// OrderStore provides persistence operations for orders and trades.
type OrderStore interface {
	// InsertEntryOrder inserts a new entry order iff no prior order exists
	// for (signal_id, engine, order_type) — enforced by a unique index so
	// this is at-most-once per engine per signal (spec.md §8.5).
	InsertEntryOrder(order models.Order) (bool, error)
	InsertExitOrder(order models.Order) error
	GetOrder(orderID string) (*models.Order, error)
	// ClaimPendingOrders returns up to limit orders in pending_execution of
	// the given order_type, FIFO by created_at, for the paper executor to fill.
	ClaimPendingOrders(orderType string, limit int) ([]models.Order, error)
	MarkOrderFilled(orderID string) error
	MarkOrderFailed(orderID string) error
	SaveTrade(trade models.Trade) error
	GetAllOrders() ([]models.Order, error)
	GetTradesForOrder(orderID string) ([]models.Trade, error)
}

// SQLOrderStore implements OrderStore using SQLite.
type SQLOrderStore struct {
	db *DB
}

// NewOrderStore creates a new SQL-based order store.
func NewOrderStore(db *DB) *SQLOrderStore {
	return &SQLOrderStore{db: db}
}

// InsertEntryOrder attempts to insert an entry order. The partial unique
// index on (signal_id, engine, order_type) makes a duplicate insert a
// benign no-op: it returns (false, nil) rather than an error so the
// orchestrator can treat "order already exists" as idempotent success.
func (s *SQLOrderStore) InsertEntryOrder(order models.Order) (bool, error) {
	query := `
		INSERT OR IGNORE INTO orders
			(id, signal_id, engine, experiment_id, symbol, option_symbol, strike, expiration, type, quantity, order_type, status, created_at)
		VALUES (:id, :signal_id, :engine, :experiment_id, :symbol, :option_symbol, :strike, :expiration, :type, :quantity, :order_type, :status, :created_at)
	`
	result, err := s.db.NamedExec(query, order)
	if err != nil {
		return false, fmt.Errorf("failed to insert entry order: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertExitOrder inserts an exit order (signal_id is always nil).
func (s *SQLOrderStore) InsertExitOrder(order models.Order) error {
	query := `
		INSERT INTO orders
			(id, signal_id, engine, experiment_id, symbol, option_symbol, strike, expiration, type, quantity, order_type, status, created_at)
		VALUES (:id, :signal_id, :engine, :experiment_id, :symbol, :option_symbol, :strike, :expiration, :type, :quantity, :order_type, :status, :created_at)
	`
	_, err := s.db.NamedExec(query, order)
	if err != nil {
		return fmt.Errorf("failed to insert exit order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by ID.
func (s *SQLOrderStore) GetOrder(orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.Get(&order, `SELECT * FROM orders WHERE id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// ClaimPendingOrders returns pending orders of a given type, FIFO.
// Unlike position claims, order fills are processed single-threaded by the
// paper executor so no row-level claim lock is needed here.
func (s *SQLOrderStore) ClaimPendingOrders(orderType string, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := `
		SELECT * FROM orders
		WHERE status = 'pending_execution' AND order_type = ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	if err := s.db.Select(&orders, query, orderType, limit); err != nil {
		return nil, fmt.Errorf("failed to claim pending orders: %w", err)
	}
	return orders, nil
}

// MarkOrderFilled transitions an order to filled.
func (s *SQLOrderStore) MarkOrderFilled(orderID string) error {
	_, err := s.db.Exec(`UPDATE orders SET status = 'filled' WHERE id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order filled: %w", err)
	}
	return nil
}

// MarkOrderFailed transitions an order to failed.
func (s *SQLOrderStore) MarkOrderFailed(orderID string) error {
	_, err := s.db.Exec(`UPDATE orders SET status = 'failed' WHERE id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order failed: %w", err)
	}
	return nil
}

// SaveTrade records a trade execution.
func (s *SQLOrderStore) SaveTrade(trade models.Trade) error {
	query := `
		INSERT INTO trades (id, order_id, fill_price, fill_quantity, fill_timestamp, engine, experiment_id)
		VALUES (:id, :order_id, :fill_price, :fill_quantity, :fill_timestamp, :engine, :experiment_id)
	`
	_, err := s.db.NamedExec(query, trade)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// GetAllOrders retrieves all orders, most recent first.
func (s *SQLOrderStore) GetAllOrders() ([]models.Order, error) {
	var orders []models.Order
	err := s.db.Select(&orders, `SELECT * FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all orders: %w", err)
	}
	return orders, nil
}

// GetTradesForOrder retrieves all trades for a given order.
func (s *SQLOrderStore) GetTradesForOrder(orderID string) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.Select(&trades, `SELECT * FROM trades WHERE order_id = ? ORDER BY fill_timestamp ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades for order: %w", err)
	}
	return trades, nil
}
