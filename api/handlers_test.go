package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sherwood-labs/signalcore/config"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/ingest"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/realtime"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *data.DB {
	t.Helper()
	db, err := data.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRouter(t *testing.T, verifier market.AuthVerifier) (http.Handler, *data.DB) {
	t.Helper()
	db := newTestDB(t)
	signalStore := data.NewSignalStore(db)
	experimentStore := data.NewExperimentStore(db)
	orderStore := data.NewOrderStore(db)
	positionStore := data.NewPositionStore(db)
	ingestor := ingest.NewIngestor(signalStore, "")
	healthMonitor := health.New(health.DefaultConfig(), signalStore)

	cfg := &config.Config{AllowedOrigins: []string{"http://localhost"}}
	router := NewRouter(cfg, ingestor, signalStore, experimentStore, orderStore, positionStore, healthMonitor, verifier, realtime.NewWebSocketManager())
	return router, db
}

func TestWebhookHandler_AcceptsValidSignal(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body := []byte(`{"symbol":"SPY","direction":"long","timeframe":5,"time":"` + time.Now().UTC().Format(time.RFC3339) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var result ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ingest.OutcomeAccepted, result.Outcome)
}

func TestWebhookHandler_DuplicateIsIdempotent(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body := []byte(`{"symbol":"QQQ","direction":"short","timeframe":15,"time":"` + time.Now().UTC().Format(time.RFC3339) + `"}`)

	req1 := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)

	var result ingest.Result
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &result))
	assert.Equal(t, ingest.OutcomeDuplicate, result.Outcome)
}

type fakeVerifier struct {
	allow bool
}

func (f *fakeVerifier) VerifyToken(ctx context.Context, header string) (*market.Identity, error) {
	if !f.allow || header == "" {
		return nil, nil
	}
	return &market.Identity{UserID: "user-1", Role: "admin"}, nil
}

func (f *fakeVerifier) VerifyHMACSignature(rawBody []byte, hexSignature string) bool { return true }

func TestMonitoringStatusHandler_RequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t, &fakeVerifier{allow: false})

	req := httptest.NewRequest(http.MethodGet, "/monitoring/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMonitoringStatusHandler_ReturnsSummary(t *testing.T) {
	router, _ := newTestRouter(t, &fakeVerifier{allow: true})

	req := httptest.NewRequest(http.MethodGet, "/monitoring/status", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "webhooks")
	assert.Contains(t, body, "engines")
	assert.Contains(t, body, "providers")
}

func TestOrdersHandler_ReturnsPlacedOrder(t *testing.T) {
	router, db := newTestRouter(t, &fakeVerifier{allow: true})

	orderStore := data.NewOrderStore(db)
	order := models.Order{
		ID: uuid.NewString(), Symbol: "SPY", OptionSymbol: "SPY240119C00450000",
		Strike: decimal.NewFromInt(450), Expiration: time.Now().Add(30 * 24 * time.Hour),
		Type: models.ContractTypeCall, Quantity: 2, OrderType: "paper",
		Status: models.OrderStatusPendingExecution, CreatedAt: time.Now(),
	}
	ok, err := orderStore.InsertEntryOrder(order)
	require.NoError(t, err)
	require.True(t, ok)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	orders, ok := body["orders"].([]interface{})
	require.True(t, ok)
	assert.Len(t, orders, 1)
}
