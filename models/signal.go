package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the directional bias of a signal or contract.
type Direction string

const (
	// DirectionLong indicates a bullish/call-biased signal.
	DirectionLong Direction = "long"
	// DirectionShort indicates a bearish/put-biased signal.
	DirectionShort Direction = "short"
)

// SignalStatus represents the lifecycle state of a signal.
type SignalStatus string

const (
	// SignalStatusPending indicates the signal has not yet been processed.
	SignalStatusPending SignalStatus = "pending"
	// SignalStatusApproved indicates the orchestrator produced a non-shadow order.
	SignalStatusApproved SignalStatus = "approved"
	// SignalStatusRejected indicates the orchestrator ran the pipeline but
	// did not produce an executable order (logical rejection, no retry).
	SignalStatusRejected SignalStatus = "rejected"
	// SignalStatusFailed indicates a transient failure; next_retry_at governs retry.
	SignalStatusFailed SignalStatus = "failed"
)

// Signal is an externally received trade signal awaiting processing.
//
// Invariant: at most one Signal within a 60-second sliding window exists
// per (Symbol, Direction, Timeframe) — see [Fingerprint] and the webhook
// ingestor's dedupe check.
type Signal struct {
	ID                string       `json:"id" db:"id"`
	Symbol            string       `json:"symbol" db:"symbol"`
	Direction         Direction    `json:"direction" db:"direction"`
	Timeframe         string       `json:"timeframe" db:"timeframe"`
	EventTimestamp    time.Time    `json:"event_timestamp" db:"event_timestamp"`
	Fingerprint       string       `json:"fingerprint" db:"fingerprint"`
	RawPayload        string       `json:"raw_payload" db:"raw_payload"`
	Status            SignalStatus `json:"status" db:"status"`
	Processed         bool         `json:"processed" db:"processed"`
	ProcessingLock    bool         `json:"processing_lock" db:"processing_lock"`
	QueuedUntil       time.Time    `json:"queued_until" db:"queued_until"`
	NextRetryAt       time.Time    `json:"next_retry_at" db:"next_retry_at"`
	ProcessingAttempts int         `json:"processing_attempts" db:"processing_attempts"`
	ExperimentID      *string      `json:"experiment_id,omitempty" db:"experiment_id"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
}

// WebhookEventStatus classifies the outcome of a single webhook receipt.
type WebhookEventStatus string

const (
	WebhookEventAccepted         WebhookEventStatus = "accepted"
	WebhookEventDuplicate        WebhookEventStatus = "duplicate"
	WebhookEventInvalidSignature WebhookEventStatus = "invalid_signature"
	WebhookEventInvalidPayload   WebhookEventStatus = "invalid_payload"
	WebhookEventError            WebhookEventStatus = "error"
)

// WebhookEvent is an append-only audit row for every HTTP receipt handled
// by the ingestor, regardless of outcome.
type WebhookEvent struct {
	RequestID        string             `json:"request_id" db:"request_id"`
	SignalID         *string            `json:"signal_id,omitempty" db:"signal_id"`
	Status           WebhookEventStatus `json:"status" db:"status"`
	Symbol           *string            `json:"symbol,omitempty" db:"symbol"`
	Direction        *Direction         `json:"direction,omitempty" db:"direction"`
	Timeframe        *string            `json:"timeframe,omitempty" db:"timeframe"`
	ErrorMessage     *string            `json:"error_message,omitempty" db:"error_message"`
	ProcessingTimeMS int64              `json:"processing_time_ms" db:"processing_time_ms"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
}

// Variant is the A/B experiment arm assigned to a signal.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// Experiment is the deterministic A/B assignment for a single signal.
// Invariant: exactly one Experiment row exists per SignalID.
type Experiment struct {
	ID             string    `json:"id" db:"id"`
	SignalID       string    `json:"signal_id" db:"signal_id"`
	Variant        Variant   `json:"variant" db:"variant"`
	AssignmentHash string    `json:"assignment_hash" db:"assignment_hash"`
	SplitPercentage float64  `json:"split_percentage" db:"split_percentage"`
	PolicyVersion  string    `json:"policy_version" db:"policy_version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ExecutionMode selects how an experiment's variant translates into
// live order flow.
type ExecutionMode string

const (
	ExecutionModeShadowOnly      ExecutionMode = "SHADOW_ONLY"
	ExecutionModeEngineAPrimary  ExecutionMode = "ENGINE_A_PRIMARY"
	ExecutionModeEngineBPrimary  ExecutionMode = "ENGINE_B_PRIMARY"
	ExecutionModeSplitCapital    ExecutionMode = "SPLIT_CAPITAL"
)

// ExecutionPolicy is the Policy Engine's decision for one experiment:
// which engine (if any) executes for real, and which runs in shadow.
//
// Invariants: SHADOW_ONLY implies ExecutedEngine == nil; ExecutedEngine
// and ShadowEngine are never equal when both are set.
type ExecutionPolicy struct {
	ID            string        `json:"id" db:"id"`
	ExperimentID  string        `json:"experiment_id" db:"experiment_id"`
	ExecutionMode ExecutionMode `json:"execution_mode" db:"execution_mode"`
	ExecutedEngine *Variant     `json:"executed_engine,omitempty" db:"executed_engine"`
	ShadowEngine  *Variant      `json:"shadow_engine,omitempty" db:"shadow_engine"`
	Reason        string        `json:"reason" db:"reason"`
	PolicyVersion string        `json:"policy_version" db:"policy_version"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// TradeRecommendation is what an engine adapter returns for a signal: a
// directional trade idea. SetupType and Confidence drive strike
// selection (C6), which fills in Strike/Expiration/Quantity/EntryPrice
// before the orchestrator converts it to an order.
type TradeRecommendation struct {
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	SetupType    string          `json:"setup_type"`
	Confidence   float64         `json:"confidence"`
	Strike       decimal.Decimal `json:"strike"`
	Expiration   time.Time       `json:"expiration"`
	Quantity     int             `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	Engine       Variant         `json:"engine"`
	IsShadow     bool            `json:"is_shadow"`
	ExperimentID string          `json:"experiment_id"`
	Rationale    []string        `json:"rationale"`
}
