package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sherwood-labs/signalcore/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) data.SignalStore {
	t.Helper()
	db, err := data.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return data.NewSignalStore(db)
}

func basicPayload() []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"symbol":    "SPY",
		"direction": "long",
		"timeframe": "5m",
		"timestamp": "2024-03-15T14:30:00Z",
	})
	return b
}

func TestIngest_HappyPath(t *testing.T) {
	ingestor := NewIngestor(newTestStore(t), "")
	result := ingestor.Ingest(basicPayload(), "", "req-1")

	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.NotEmpty(t, result.SignalID)
	assert.Equal(t, 200, result.HTTPStatus)
}

func TestIngest_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ingestor := NewIngestor(store, "")

	first := ingestor.Ingest(basicPayload(), "", "req-1")
	require.Equal(t, OutcomeAccepted, first.Outcome)

	second := ingestor.Ingest(basicPayload(), "", "req-2")
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
}

// TestIngest_Duplicate_DefaultedTimestampsFewMillisApart reproduces a
// webhook firing twice in quick succession with no "timestamp" field, so
// each call defaults its own event_timestamp to time.Now().UTC() a few
// milliseconds apart. The two payloads hash to different fingerprints, so
// only a dedupe key on (symbol, direction, timeframe) + window catches
// this as a duplicate.
func TestIngest_Duplicate_DefaultedTimestampsFewMillisApart(t *testing.T) {
	store := newTestStore(t)
	ingestor := NewIngestor(store, "")

	payload := func() []byte {
		b, _ := json.Marshal(map[string]interface{}{
			"symbol":    "SPY",
			"direction": "long",
			"timeframe": "5m",
		})
		return b
	}

	first := ingestor.Ingest(payload(), "", "req-1")
	require.Equal(t, OutcomeAccepted, first.Outcome)

	time.Sleep(10 * time.Millisecond)

	second := ingestor.Ingest(payload(), "", "req-2")
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
}

func TestIngest_InvalidSignature(t *testing.T) {
	ingestor := NewIngestor(newTestStore(t), "supersecret")
	result := ingestor.Ingest(basicPayload(), "deadbeef", "req-1")

	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, 401, result.HTTPStatus)
	assert.Equal(t, "invalid_signature", result.RejectReason)
}

func TestIngest_ValidSignature(t *testing.T) {
	body := basicPayload()
	secret := "supersecret"
	sig := computeHMACForTest(secret, body)

	ingestor := NewIngestor(newTestStore(t), secret)
	result := ingestor.Ingest(body, sig, "req-1")
	assert.Equal(t, OutcomeAccepted, result.Outcome)
}

func TestIngest_MissingSymbol(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"direction": "long",
		"timeframe": "5m",
	})
	ingestor := NewIngestor(newTestStore(t), "")
	result := ingestor.Ingest(body, "", "req-1")

	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, 400, result.HTTPStatus)
}

func TestIngest_AliasFields(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"ticker": "QQQ",
		"side":   "SELL",
		"tf":     15,
	})
	ingestor := NewIngestor(newTestStore(t), "")
	result := ingestor.Ingest(body, "", "req-1")
	assert.Equal(t, OutcomeAccepted, result.Outcome)
}

func TestIngest_DefaultsTimestampToNow(t *testing.T) {
	before := time.Now().Add(-time.Minute)
	body, _ := json.Marshal(map[string]interface{}{
		"symbol":    "SPY",
		"direction": "long",
		"timeframe": "5m",
	})
	ingestor := NewIngestor(newTestStore(t), "")
	result := ingestor.Ingest(body, "", "req-1")
	require.Equal(t, OutcomeAccepted, result.Outcome)
	norm, ferr := ParsePayload(body)
	require.Nil(t, ferr)
	assert.True(t, before.Before(norm.EventTimestamp))
}

func computeHMACForTest(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
