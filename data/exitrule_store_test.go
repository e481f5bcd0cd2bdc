package data

import (
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitRuleStore_UpsertAndGetEnabled(t *testing.T) {
	store := NewExitRuleStore(newTestDB(t))

	pt := 50.0
	sl := 30.0
	rule := models.ExitRule{
		ID:                  "default",
		ProfitTargetPercent: &pt,
		StopLossPercent:     &sl,
		Enabled:             true,
	}
	require.NoError(t, store.UpsertRule(rule))

	reloaded, err := store.GetEnabledRule()
	require.NoError(t, err)
	assert.Equal(t, 50.0, *reloaded.ProfitTargetPercent)
}

func TestExitRuleStore_GetEnabledRule_NoneEnabled(t *testing.T) {
	store := NewExitRuleStore(newTestDB(t))
	_, err := store.GetEnabledRule()
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestExitRuleStore_GetEnabledRule_DriverError covers the non-ErrNoRows
// failure path, which a real sqlite connection has no easy way to
// trigger: a mocked driver-level error must come back wrapped, not as
// ErrNotFound.
func TestExitRuleStore_GetEnabledRule_DriverError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT \\* FROM exit_rules").WillReturnError(errors.New("disk I/O error"))

	store := NewExitRuleStore(&DB{sqlx.NewDb(mockDB, "sqlmock")})
	_, err = store.GetEnabledRule()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
