package data

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExperimentStore_InsertAndGet(t *testing.T) {
	store := NewExperimentStore(newTestDB(t))
	exp := models.Experiment{
		ID:              uuid.NewString(),
		SignalID:        "sig-1",
		Variant:         models.VariantA,
		AssignmentHash:  "deadbeef",
		SplitPercentage: 0.5,
		PolicyVersion:   "v1.0",
		CreatedAt:       time.Now().UTC(),
	}

	require.NoError(t, store.InsertExperiment(exp))

	reloaded, err := store.GetBySignalID("sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.VariantA, reloaded.Variant)
}

func TestExperimentStore_InsertIsIdempotentPerSignal(t *testing.T) {
	store := NewExperimentStore(newTestDB(t))
	exp := models.Experiment{
		ID:              uuid.NewString(),
		SignalID:        "sig-1",
		Variant:         models.VariantA,
		AssignmentHash:  "deadbeef",
		SplitPercentage: 0.5,
		PolicyVersion:   "v1.0",
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.InsertExperiment(exp))

	other := exp
	other.ID = uuid.NewString()
	other.Variant = models.VariantB
	require.NoError(t, store.InsertExperiment(other))

	reloaded, err := store.GetBySignalID("sig-1")
	require.NoError(t, err)
	assert.Equal(t, exp.ID, reloaded.ID)
	assert.Equal(t, models.VariantA, reloaded.Variant)
}

func TestExperimentStore_GetBySignalID_NotFound(t *testing.T) {
	store := NewExperimentStore(newTestDB(t))
	_, err := store.GetBySignalID("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExperimentStore_PolicyRoundTrip(t *testing.T) {
	store := NewExperimentStore(newTestDB(t))
	executed := models.VariantA
	policy := models.ExecutionPolicy{
		ID:             uuid.NewString(),
		ExperimentID:   "exp-1",
		ExecutionMode:  models.ExecutionModeEngineAPrimary,
		ExecutedEngine: &executed,
		Reason:         "engine A won A/B",
		PolicyVersion:  "v1.0",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.InsertPolicy(policy))

	reloaded, err := store.GetPolicyByExperimentID("exp-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionModeEngineAPrimary, reloaded.ExecutionMode)
	require.NotNil(t, reloaded.ExecutedEngine)
	assert.Equal(t, models.VariantA, *reloaded.ExecutedEngine)
}
