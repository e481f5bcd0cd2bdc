// Package policy implements the Policy Engine (C4): given an experiment
// and engine availability, decide which engine (if any) executes for
// real vs. runs in shadow (spec.md §4.3).
package policy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/models"
)

// Decide computes the ExecutionPolicy for an experiment given whether the
// platform is in paper mode and whether each engine adapter is currently
// available. Decide does not check the SHADOW_ONLY / executed≠shadow
// invariants itself (spec.md §3 ExecutionPolicy invariants); GetOrCreate
// runs Validate on its result before persisting it.
func Decide(experiment models.Experiment, isPaperMode, engineAAvailable, engineBAvailable bool, policyVersion string) models.ExecutionPolicy {
	p := models.ExecutionPolicy{
		ExperimentID:  experiment.ID,
		PolicyVersion: policyVersion,
	}

	if isPaperMode && engineAAvailable {
		a := models.VariantA
		p.ExecutionMode = models.ExecutionModeEngineAPrimary
		p.ExecutedEngine = &a
		p.Reason = "engine A primary, paper mode"
		if engineBAvailable {
			b := models.VariantB
			p.ShadowEngine = &b
		}
	} else {
		p.ExecutionMode = models.ExecutionModeShadowOnly
		p.ExecutedEngine = nil
		p.ShadowEngine = nil
		p.Reason = reasonForShadowOnly(isPaperMode, engineAAvailable)
	}

	return p
}

func reasonForShadowOnly(isPaperMode, engineAAvailable bool) string {
	if !isPaperMode {
		return "not in paper mode"
	}
	return "engine A unavailable"
}

// Validate enforces the invariants a decided ExecutionPolicy must satisfy
// (spec.md §3): SHADOW_ONLY never sets an executed engine, and the
// executed and shadow engines are never the same.
func Validate(p models.ExecutionPolicy) error {
	if p.ExecutionMode == models.ExecutionModeShadowOnly && p.ExecutedEngine != nil {
		return fmt.Errorf("policy: SHADOW_ONLY must not set an executed engine")
	}
	if p.ExecutedEngine != nil && p.ShadowEngine != nil && *p.ExecutedEngine == *p.ShadowEngine {
		return fmt.Errorf("policy: executed and shadow engine must differ")
	}
	return nil
}

// Manager decides and persists the ExecutionPolicy for an experiment.
type Manager struct {
	store data.ExperimentStore
	now   func() time.Time
}

// NewManager builds a Manager over an ExperimentStore.
func NewManager(store data.ExperimentStore) *Manager {
	return &Manager{store: store, now: time.Now}
}

// GetOrCreate returns the existing policy for an experiment if one was
// already decided, otherwise decides, validates, and persists a new one.
func (m *Manager) GetOrCreate(experiment models.Experiment, isPaperMode, engineAAvailable, engineBAvailable bool, policyVersion string) (*models.ExecutionPolicy, error) {
	existing, err := m.store.GetPolicyByExperimentID(experiment.ID)
	if err == nil {
		return existing, nil
	}
	if err != data.ErrNotFound {
		return nil, fmt.Errorf("policy: lookup failed: %w", err)
	}

	decided := Decide(experiment, isPaperMode, engineAAvailable, engineBAvailable, policyVersion)
	if err := Validate(decided); err != nil {
		return nil, err
	}

	decided.ID = uuid.NewString()
	decided.CreatedAt = m.nowOrDefault()

	if err := m.store.InsertPolicy(decided); err != nil {
		return nil, fmt.Errorf("policy: insert failed: %w", err)
	}

	return &decided, nil
}

func (m *Manager) nowOrDefault() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}
