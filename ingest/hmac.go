package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// VerifyHMAC recomputes HMAC-SHA256 over rawBody using secret and compares
// it to hexSignature in constant time via crypto/subtle.ConstantTimeCompare.
func VerifyHMAC(secret string, rawBody []byte, hexSignature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(hexSignature)) == 1
}
