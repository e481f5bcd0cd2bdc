package policy

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) data.ExperimentStore {
	t.Helper()
	db, err := data.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return data.NewExperimentStore(db)
}

func TestDecide_EngineAPrimary(t *testing.T) {
	exp := models.Experiment{ID: "exp-1"}
	p := Decide(exp, true, true, true, "v1.0")

	assert.Equal(t, models.ExecutionModeEngineAPrimary, p.ExecutionMode)
	require.NotNil(t, p.ExecutedEngine)
	assert.Equal(t, models.VariantA, *p.ExecutedEngine)
	require.NotNil(t, p.ShadowEngine)
	assert.Equal(t, models.VariantB, *p.ShadowEngine)
}

func TestDecide_ShadowOnly_EngineAUnavailable(t *testing.T) {
	exp := models.Experiment{ID: "exp-1"}
	p := Decide(exp, true, false, true, "v1.0")

	assert.Equal(t, models.ExecutionModeShadowOnly, p.ExecutionMode)
	assert.Nil(t, p.ExecutedEngine)
	assert.Nil(t, p.ShadowEngine)
}

func TestDecide_ShadowOnly_NotPaperMode(t *testing.T) {
	exp := models.Experiment{ID: "exp-1"}
	p := Decide(exp, false, true, true, "v1.0")

	assert.Equal(t, models.ExecutionModeShadowOnly, p.ExecutionMode)
	assert.Nil(t, p.ExecutedEngine)
}

func TestDecide_EngineAPrimary_NoShadowWhenBUnavailable(t *testing.T) {
	exp := models.Experiment{ID: "exp-1"}
	p := Decide(exp, true, true, false, "v1.0")

	assert.Equal(t, models.ExecutionModeEngineAPrimary, p.ExecutionMode)
	assert.Nil(t, p.ShadowEngine)
}

func TestValidate_RejectsShadowOnlyWithExecuted(t *testing.T) {
	a := models.VariantA
	p := models.ExecutionPolicy{ExecutionMode: models.ExecutionModeShadowOnly, ExecutedEngine: &a}
	assert.Error(t, Validate(p))
}

func TestValidate_RejectsSameExecutedAndShadow(t *testing.T) {
	a := models.VariantA
	p := models.ExecutionPolicy{ExecutionMode: models.ExecutionModeEngineAPrimary, ExecutedEngine: &a, ShadowEngine: &a}
	assert.Error(t, Validate(p))
}

func TestManager_GetOrCreate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	mgr := NewManager(store)

	exp := models.Experiment{ID: uuid.NewString(), SignalID: uuid.NewString()}
	require.NoError(t, store.InsertExperiment(exp))

	first, err := mgr.GetOrCreate(exp, true, true, true, "v1.0")
	require.NoError(t, err)

	second, err := mgr.GetOrCreate(exp, true, true, true, "v1.0")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}
