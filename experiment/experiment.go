// Package experiment implements deterministic A/B bucketing (C3) and the
// idempotent-per-signal Experiment row (spec.md §4.2). The hashing and
// bucketing math is pure and replayable by construction; the only
// stateful piece is the idempotent upsert against data.ExperimentStore.
package experiment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/models"
)

// bucketModulus is the resolution of the assignment bucket space.
const bucketModulus = 10_000

// AssignmentHash computes SHA256(signalID + ":" + fingerprint) hex.
func AssignmentHash(signalID, fingerprint string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", signalID, fingerprint)))
	return hex.EncodeToString(sum[:])
}

// Bucket returns the deterministic bucket in [0, 10000) for an assignment
// hash — a pure function of its first 16 hex characters (spec.md §8.2).
func Bucket(assignmentHash string) int {
	prefix := assignmentHash
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	n := new(big.Int)
	n.SetString(prefix, 16)
	mod := big.NewInt(bucketModulus)
	return int(new(big.Int).Mod(n, mod).Int64())
}

// Threshold converts a split percentage in [0,1] to a bucket threshold.
func Threshold(split float64) int {
	if split < 0 {
		split = 0
	}
	if split > 1 {
		split = 1
	}
	return int(split*bucketModulus + 0.5)
}

// Variant returns the deterministic variant for an assignment hash and
// split: A iff bucket < threshold, else B.
func Variant(assignmentHash string, split float64) models.Variant {
	if Bucket(assignmentHash) < Threshold(split) {
		return models.VariantA
	}
	return models.VariantB
}

// Manager creates idempotent Experiment rows for signals.
type Manager struct {
	store data.ExperimentStore
	now   func() time.Time
}

// NewManager builds a Manager over an ExperimentStore.
func NewManager(store data.ExperimentStore) *Manager {
	return &Manager{store: store, now: time.Now}
}

// CreateExperiment is idempotent on signal.ID (spec.md §4.2, §8.1): a
// second call for the same signal returns the first call's row rather
// than creating a second one.
func (m *Manager) CreateExperiment(signal models.Signal, split float64, policyVersion string) (*models.Experiment, error) {
	hash := AssignmentHash(signal.ID, signal.Fingerprint)
	variant := Variant(hash, split)

	exp := models.Experiment{
		ID:              uuid.NewString(),
		SignalID:        signal.ID,
		Variant:         variant,
		AssignmentHash:  hash,
		SplitPercentage: split,
		PolicyVersion:   policyVersion,
		CreatedAt:       m.nowOrDefault(),
	}

	if err := m.store.InsertExperiment(exp); err != nil {
		return nil, fmt.Errorf("experiment: insert failed: %w", err)
	}

	return m.store.GetBySignalID(signal.ID)
}

func (m *Manager) nowOrDefault() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}
