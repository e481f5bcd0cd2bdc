// Package ingest implements the Webhook Ingestor's pure validation and
// normalization step (spec.md §4.1): permissive payload parsing, alias
// mapping, and HMAC verification. No duck typing or property probing —
// every alias is mapped through an explicit table to a canonical record.
package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sherwood-labs/signalcore/models"
)

var validate = validator.New()

// normalizedSignalDTO is the struct-tag validated shape of a
// NormalizedSignal, checked once every alias has already been resolved
// to its canonical field.
type normalizedSignalDTO struct {
	Symbol    string `validate:"required,max=20"`
	Timeframe string `validate:"required,max=4"`
}

// FieldError carries a validation failure's field path and message,
// replacing exception-for-control-flow with an explicit result type
// (spec.md §9).
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NormalizedSignal is the canonical record produced from a loosely-typed
// webhook payload once every alias field has been resolved.
type NormalizedSignal struct {
	Symbol         string
	Direction      models.Direction
	Timeframe      string
	EventTimestamp time.Time
}

type rawPayload struct {
	Symbol    *string          `json:"symbol"`
	Ticker    *string          `json:"ticker"`
	Direction *string          `json:"direction"`
	Side      *string          `json:"side"`
	Trend     *string          `json:"trend"`
	Bias      *string          `json:"bias"`
	Timeframe *json.RawMessage `json:"timeframe"`
	TF        *json.RawMessage `json:"tf"`
	Interval  *json.RawMessage `json:"interval"`
	Timestamp *json.RawMessage `json:"timestamp"`
	Time      *string          `json:"time"`
}

var timeframeWithUnit = regexp.MustCompile(`^(\d+)\s*([mhdw])$`)

var directionAliases = map[string]models.Direction{
	"long":  models.DirectionLong,
	"short": models.DirectionShort,
	"call":  models.DirectionLong,
	"put":   models.DirectionShort,
	"buy":   models.DirectionLong,
	"sell":  models.DirectionShort,
	"bull":  models.DirectionLong,
	"bear":  models.DirectionShort,
	"up":    models.DirectionLong,
	"down":  models.DirectionShort,
}

// ParsePayload parses and normalizes a raw webhook body into a
// NormalizedSignal, or a FieldError describing the first missing/invalid
// canonical field (spec.md §4.1 step 2-3).
func ParsePayload(raw []byte) (*NormalizedSignal, *FieldError) {
	var payload rawPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &FieldError{Field: "body", Message: "not valid JSON"}
	}

	symbol := firstNonEmpty(payload.Symbol, payload.Ticker)
	if symbol == "" || len(symbol) > 20 {
		return nil, &FieldError{Field: "symbol", Message: "required, 1-20 characters"}
	}

	directionRaw := firstNonEmpty(payload.Direction, payload.Side, payload.Trend, payload.Bias)
	direction, ok := directionAliases[strings.ToLower(directionRaw)]
	if !ok {
		return nil, &FieldError{Field: "direction", Message: "missing or unrecognized directional field"}
	}

	timeframe, tfErr := normalizeTimeframe(payload.Timeframe, payload.TF, payload.Interval)
	if tfErr != nil {
		return nil, tfErr
	}

	ts, tsErr := normalizeTimestamp(payload.Timestamp, payload.Time)
	if tsErr != nil {
		return nil, tsErr
	}

	if err := validate.Struct(normalizedSignalDTO{Symbol: symbol, Timeframe: timeframe}); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return nil, &FieldError{Field: strings.ToLower(verrs[0].Field()), Message: "failed " + verrs[0].Tag() + " validation"}
		}
		return nil, &FieldError{Field: "payload", Message: "validation failed"}
	}

	return &NormalizedSignal{
		Symbol:         symbol,
		Direction:      direction,
		Timeframe:      timeframe,
		EventTimestamp: ts,
	}, nil
}

func firstNonEmpty(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && strings.TrimSpace(*c) != "" {
			return strings.TrimSpace(*c)
		}
	}
	return ""
}

// normalizeTimeframe accepts a bare number of minutes or an `N(m|h|d|w)`
// string; bare digits with no unit are treated as minutes.
func normalizeTimeframe(candidates ...*json.RawMessage) (string, *FieldError) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		raw := strings.TrimSpace(strings.Trim(string(*c), `"`))
		if raw == "" {
			continue
		}
		if m := timeframeWithUnit.FindStringSubmatch(raw); m != nil {
			return m[1] + m[2], nil
		}
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return fmt.Sprintf("%dm", n), nil
		}
	}
	return "", &FieldError{Field: "timeframe", Message: "missing or unrecognized timeframe field"}
}

// normalizeTimestamp accepts numeric seconds (<10^12, upscaled to ms),
// numeric milliseconds, ISO-8601 strings, or absence (defaults to now).
func normalizeTimestamp(numeric *json.RawMessage, iso *string) (time.Time, *FieldError) {
	if numeric != nil {
		raw := strings.TrimSpace(strings.Trim(string(*numeric), `"`))
		if raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				parsed, perr := time.Parse(time.RFC3339, raw)
				if perr != nil {
					return time.Time{}, &FieldError{Field: "timestamp", Message: "not a valid number or ISO-8601 timestamp"}
				}
				return parsed.UTC(), nil
			}
			if n < 1_000_000_000_000 {
				n *= 1000
			}
			return time.UnixMilli(n).UTC(), nil
		}
	}
	if iso != nil && strings.TrimSpace(*iso) != "" {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*iso))
		if err != nil {
			return time.Time{}, &FieldError{Field: "timestamp", Message: "not a valid ISO-8601 timestamp"}
		}
		return parsed.UTC(), nil
	}
	return time.Now().UTC(), nil
}
