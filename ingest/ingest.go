package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/signals"
)

// Outcome is the per-request result the ingestor returns (spec.md §4.1).
type Outcome string

const (
	OutcomeAccepted  Outcome = "ACCEPTED"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeRejected  Outcome = "REJECTED"
)

// Result is what the HTTP handler translates into a status code and body.
type Result struct {
	Outcome          Outcome
	SignalID         string
	RequestID        string
	ProcessingTimeMS int64
	RejectReason     string
	HTTPStatus       int
}

// Ingestor validates, normalizes, dedupes, and persists incoming webhook
// payloads, auditing every receipt regardless of outcome.
type Ingestor struct {
	Signals    data.SignalStore
	HMACSecret string
	Now        func() time.Time
}

// NewIngestor builds an Ingestor. An empty hmacSecret disables signature
// verification (dev mode, matching the teacher's "no API key configured"
// idiom in middleware_auth.go).
func NewIngestor(store data.SignalStore, hmacSecret string) *Ingestor {
	return &Ingestor{Signals: store, HMACSecret: hmacSecret, Now: time.Now}
}

func (i *Ingestor) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Ingest runs the full webhook algorithm (spec.md §4.1): HMAC check,
// normalization, dedupe, insert, audit.
func (i *Ingestor) Ingest(rawBody []byte, signatureHeader, requestID string) *Result {
	start := i.now()

	if i.HMACSecret != "" && signatureHeader != "" {
		if !VerifyHMAC(i.HMACSecret, rawBody, signatureHeader) {
			i.audit(models.WebhookEvent{
				RequestID:        requestID,
				Status:           models.WebhookEventInvalidSignature,
				ProcessingTimeMS: elapsedMS(start, i.now()),
				CreatedAt:        i.now(),
			})
			return &Result{Outcome: OutcomeRejected, RequestID: requestID, RejectReason: "invalid_signature", HTTPStatus: 401}
		}
	}

	normalized, ferr := ParsePayload(rawBody)
	if ferr != nil {
		i.audit(models.WebhookEvent{
			RequestID:        requestID,
			Status:           models.WebhookEventInvalidPayload,
			ErrorMessage:     strPtr(ferr.Error()),
			ProcessingTimeMS: elapsedMS(start, i.now()),
			CreatedAt:        i.now(),
		})
		return &Result{Outcome: OutcomeRejected, RequestID: requestID, RejectReason: ferr.Error(), HTTPStatus: 400}
	}

	fingerprint := signals.Fingerprint(normalized.Symbol, string(normalized.Direction), normalized.Timeframe, normalized.EventTimestamp)

	sig := models.Signal{
		ID:             uuid.NewString(),
		Symbol:         normalized.Symbol,
		Direction:      normalized.Direction,
		Timeframe:      normalized.Timeframe,
		EventTimestamp: normalized.EventTimestamp,
		Fingerprint:    fingerprint,
		RawPayload:     string(rawBody),
		Status:         models.SignalStatusPending,
		Processed:      false,
		ProcessingLock: false,
		CreatedAt:      i.now(),
	}

	inserted, err := i.Signals.InsertSignalIfNotDuplicate(sig, signals.DedupeWindow)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("ingest: failed to persist signal")
		i.audit(models.WebhookEvent{
			RequestID:        requestID,
			Status:           models.WebhookEventError,
			Symbol:           &normalized.Symbol,
			Direction:        &normalized.Direction,
			Timeframe:        &normalized.Timeframe,
			ErrorMessage:     strPtr(err.Error()),
			ProcessingTimeMS: elapsedMS(start, i.now()),
			CreatedAt:        i.now(),
		})
		return &Result{Outcome: OutcomeRejected, RequestID: requestID, RejectReason: "internal error", HTTPStatus: 500}
	}

	if inserted == nil {
		i.audit(models.WebhookEvent{
			RequestID:        requestID,
			Status:           models.WebhookEventDuplicate,
			Symbol:           &normalized.Symbol,
			Direction:        &normalized.Direction,
			Timeframe:        &normalized.Timeframe,
			ProcessingTimeMS: elapsedMS(start, i.now()),
			CreatedAt:        i.now(),
		})
		return &Result{Outcome: OutcomeDuplicate, RequestID: requestID, HTTPStatus: 200}
	}

	procTime := elapsedMS(start, i.now())
	i.audit(models.WebhookEvent{
		RequestID:        requestID,
		SignalID:         &inserted.ID,
		Status:           models.WebhookEventAccepted,
		Symbol:           &normalized.Symbol,
		Direction:        &normalized.Direction,
		Timeframe:        &normalized.Timeframe,
		ProcessingTimeMS: procTime,
		CreatedAt:        i.now(),
	})

	return &Result{
		Outcome:          OutcomeAccepted,
		SignalID:         inserted.ID,
		RequestID:        requestID,
		ProcessingTimeMS: procTime,
		HTTPStatus:       200,
	}
}

func (i *Ingestor) audit(event models.WebhookEvent) {
	if err := i.Signals.RecordWebhookEvent(event); err != nil {
		log.Error().Err(err).Str("request_id", event.RequestID).Msg("ingest: failed to record webhook event")
	}
}

func elapsedMS(start, end time.Time) int64 {
	return end.Sub(start).Milliseconds()
}

func strPtr(s string) *string { return &s }
