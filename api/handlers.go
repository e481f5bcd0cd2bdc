package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/ingest"
)

// APIError is the standard error response body.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handler bundles the dependencies the webhook/monitoring/orders routes
// need. It deliberately carries no strategy/backtest/execution-engine
// state; that surface does not exist in this core (spec.md §6 narrows
// the HTTP surface to webhook ingestion and read-only monitoring).
type Handler struct {
	Ingestor       *ingest.Ingestor
	SignalStore    data.SignalStore
	ExperimentStore data.ExperimentStore
	OrderStore     data.OrderStore
	PositionStore  data.PositionStore
	Health         *health.Monitor
	startTime      time.Time
}

// NewHandler builds a Handler.
func NewHandler(
	ingestor *ingest.Ingestor,
	signalStore data.SignalStore,
	experimentStore data.ExperimentStore,
	orderStore data.OrderStore,
	positionStore data.PositionStore,
	healthMonitor *health.Monitor,
) *Handler {
	return &Handler{
		Ingestor:        ingestor,
		SignalStore:     signalStore,
		ExperimentStore: experimentStore,
		OrderStore:      orderStore,
		PositionStore:   positionStore,
		Health:          healthMonitor,
		startTime:       time.Now(),
	}
}

// WebhookHandler implements POST /webhook (spec.md §4.1, §6).
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", "BAD_REQUEST")
		return
	}

	result := h.Ingestor.Ingest(body, r.Header.Get("X-Signature"), requestID)
	writeJSON(w, result.HTTPStatus, result)
}

// monitoringWindow is the lookback for the status endpoint's 24h summaries.
const monitoringWindow = 24 * time.Hour

// MonitoringStatusHandler implements GET /monitoring/status (spec.md §6).
func (h *Handler) MonitoringStatusHandler(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().Add(-monitoringWindow)

	recent, err := h.SignalStore.RecentWebhookEvents(50)
	if err != nil {
		log.Error().Err(err).Msg("monitoring status: failed to load recent webhook events")
		writeError(w, http.StatusInternalServerError, "failed to load webhook history", "INTERNAL_ERROR")
		return
	}
	summary, err := h.SignalStore.WebhookSummarySince(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("monitoring status: failed to summarize webhook events")
		writeError(w, http.StatusInternalServerError, "failed to summarize webhooks", "INTERNAL_ERROR")
		return
	}
	byVariant, err := h.ExperimentStore.CountByVariantSince(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("monitoring status: failed to summarize experiments by variant")
		writeError(w, http.StatusInternalServerError, "failed to summarize engines", "INTERNAL_ERROR")
		return
	}

	var healthSnapshot health.Snapshot
	if h.Health != nil {
		healthSnapshot = h.Health.Status()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"webhooks": map[string]interface{}{
			"recent":      recent,
			"summary_24h": summary,
		},
		"engines": map[string]interface{}{
			"by_variant_24h": byVariant,
		},
		"websocket": map[string]interface{}{
			"queue_depth": healthSnapshot.QueueDepth,
			"workers":     healthSnapshot.Workers,
		},
		"providers": map[string]interface{}{
			"circuit_breakers": map[string]interface{}{},
			"down":             []string{},
			"rate_limits":      map[string]interface{}{},
		},
	})
}

// OrdersHandler implements GET /orders (spec.md §6).
func (h *Handler) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := h.OrderStore.GetAllOrders()
	if err != nil {
		log.Error().Err(err).Msg("orders: failed to load orders")
		writeError(w, http.StatusInternalServerError, "failed to load orders", "INTERNAL_ERROR")
		return
	}

	positions, err := h.PositionStore.GetAllPositions()
	if err != nil {
		log.Error().Err(err).Msg("orders: failed to load positions")
		writeError(w, http.StatusInternalServerError, "failed to load positions", "INTERNAL_ERROR")
		return
	}

	var trades []interface{}
	var recentlyFilled []interface{}
	for _, order := range orders {
		orderTrades, err := h.OrderStore.GetTradesForOrder(order.ID)
		if err != nil {
			log.Error().Err(err).Str("order_id", order.ID).Msg("orders: failed to load trades, skipping")
			continue
		}
		for _, t := range orderTrades {
			trades = append(trades, t)
			if time.Since(t.FillTimestamp) < monitoringWindow {
				recentlyFilled = append(recentlyFilled, t)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders":         orders,
		"trades":         trades,
		"positions":      positions,
		"recentlyFilled": recentlyFilled,
	})
}

func writeError(w http.ResponseWriter, status int, message string, code ...string) {
	errCode := "UNKNOWN_ERROR"
	if len(code) > 0 {
		errCode = code[0]
	} else {
		switch status {
		case http.StatusBadRequest:
			errCode = "BAD_REQUEST"
		case http.StatusUnauthorized:
			errCode = "UNAUTHORIZED"
		case http.StatusForbidden:
			errCode = "FORBIDDEN"
		case http.StatusNotFound:
			errCode = "NOT_FOUND"
		case http.StatusServiceUnavailable:
			errCode = "SERVICE_UNAVAILABLE"
		case http.StatusInternalServerError:
			errCode = "INTERNAL_ERROR"
		}
	}
	writeJSON(w, status, APIError{Error: message, Code: errCode})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
