// Package signals implements the Signal Store's pure, stateless pieces:
// content fingerprinting and retry backoff. The durable CRUD side lives
// in data.SignalStore; this package holds the logic any caller (ingest,
// orchestrator) needs without pulling in a database handle.
package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Fingerprint computes the stable content hash used for dedupe and
// deterministic experiment assignment (spec.md §3, §4.2).
//
// fingerprint = SHA256("{symbol}:{direction}:{timeframe}:{ts_iso}")
func Fingerprint(symbol, direction, timeframe string, eventTimestamp time.Time) string {
	raw := fmt.Sprintf("%s:%s:%s:%s", symbol, direction, timeframe, eventTimestamp.UTC().Format(time.RFC3339))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DedupeWindow is the sliding window within which an identical
// (symbol, direction, timeframe) signal is considered a duplicate.
const DedupeWindow = 60 * time.Second
