package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/realtime"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager handles the lifecycle of system notifications.
type Manager struct {
	store     data.NotificationStore
	wsManager *realtime.WebSocketManager
}

// NewManager creates a new notification manager.
//
// Args:
//   - store: Persistence layer for notifications
//   - wsManager: WebSocket manager for real-time broadcasts (can be nil)
//
// Returns:
//   - *Manager: The new manager instance
func NewManager(store data.NotificationStore, wsManager *realtime.WebSocketManager) *Manager {
	return &Manager{
		store:     store,
		wsManager: wsManager,
	}
}

// Send creates and broadcasts a new notification.
//
// Args:
//   - notifType: Type of notification (info, success, warning, error)
//   - title: Brief summary
//   - message: Detailed content
//   - metadata: Optional key-value context data
//
// Returns:
//   - string: ID of the created notification
//   - error: Any error encountered
func (m *Manager) Send(notifType models.NotificationType, title, message string, metadata map[string]interface{}) (string, error) {
	id := uuid.New().String()

	n := models.Notification{
		ID:        id,
		Type:      notifType,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
		IsRead:    false,
		Metadata:  metadata,
	}

	// Persist
	if err := m.store.SaveNotification(n); err != nil {
		log.Error().Err(err).Msg("Failed to persist notification")
		return "", fmt.Errorf("failed to save: %w", err)
	}

	// Broadcast
	if m.wsManager != nil {
		m.wsManager.Broadcast("notification", n)
	}

	return id, nil
}

// GetHistory retrieves recent notifications.
func (m *Manager) GetHistory(limit, offset int) ([]models.Notification, error) {
	return m.store.GetNotifications(limit, offset)
}

// MarkAsRead marks a notification as read.
func (m *Manager) MarkAsRead(id string) error {
	return m.store.MarkAsRead(id)
}

// MarkAllAsRead marks all notifications as read.
func (m *Manager) MarkAllAsRead() error {
	return m.store.MarkAllAsRead()
}

// Helper methods for common types

func (m *Manager) Info(title, message string) {
	m.Send(models.NotificationInfo, title, message, nil)
}

func (m *Manager) Success(title, message string) {
	m.Send(models.NotificationSuccess, title, message, nil)
}

func (m *Manager) Warning(title, message string) {
	m.Send(models.NotificationWarning, title, message, nil)
}

func (m *Manager) Error(title, message string) {
	m.Send(models.NotificationError, title, message, nil)
}

// Domain-specific helpers for the exit monitor and paper executor
// (spec.md §4.9, §4.7), so callers don't hand-assemble titles/metadata
// for the events that actually fire in this core.

// PositionExited reports a full exit order placed for a closed position,
// naming the rule(s) that triggered it.
func (m *Manager) PositionExited(optionSymbol string, triggeredRules []string) {
	m.Send(models.NotificationInfo, "Position exit",
		fmt.Sprintf("%s closed: %s", optionSymbol, strings.Join(triggeredRules, ", ")),
		map[string]interface{}{"option_symbol": optionSymbol, "triggered_rules": triggeredRules})
}

// PositionPartiallyExited reports a partial exit that reduced (but did
// not close) an open position's quantity.
func (m *Manager) PositionPartiallyExited(optionSymbol string, exitQty int) {
	m.Send(models.NotificationInfo, "Partial exit",
		fmt.Sprintf("%s reduced by %d contracts", optionSymbol, exitQty),
		map[string]interface{}{"option_symbol": optionSymbol, "exit_quantity": exitQty})
}

// StopTightened reports the bias-aware adjustment layer tightening a
// position's stop level without forcing an exit.
func (m *Manager) StopTightened(optionSymbol, newStopLevel string, reasons []string) {
	m.Send(models.NotificationInfo, "Stop tightened",
		fmt.Sprintf("%s stop tightened to %s: %s", optionSymbol, newStopLevel, strings.Join(reasons, ", ")),
		map[string]interface{}{"option_symbol": optionSymbol, "new_stop_level": newStopLevel})
}

// RiskCapBreached reports the portfolio risk manager declining a new
// position (spec.md §4.8's daily-loss halt / max-open-positions cap).
func (m *Manager) RiskCapBreached(signalID, reason string) {
	m.Send(models.NotificationWarning, "Risk cap breached", reason,
		map[string]interface{}{"signal_id": signalID})
}
