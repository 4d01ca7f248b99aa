// Package webhook implements the Webhook Gateway (§4.8): signature
// verification, replay defence, payload parsing, routing, and response
// serialization for inbound platform events.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxClockSkew bounds how far a request timestamp may drift from now
// before it is treated as a replay (§4.8.1).
const MaxClockSkew = 5 * time.Minute

// VerifySlackSignature recomputes the Slack v0 HMAC-SHA256 signature over
// "v0:"+timestamp+":"+body and compares it to provided in constant time.
// It also rejects timestamps more than MaxClockSkew away from now.
func VerifySlackSignature(signingSecret, timestampHeader, provided string, body []byte, now time.Time) bool {
	if signingSecret == "" || timestampHeader == "" || provided == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return false
	}
	requestTime := time.Unix(ts, 0)
	skew := now.Sub(requestTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return false
	}

	base := fmt.Sprintf("v0:%s:%s", timestampHeader, body)
	mac := hmac.New(sha256.New, []byte(signingSecret))
	_, _ = mac.Write([]byte(base))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(normalizeSignature(provided)))
}

// normalizeSignature lowercases the provided signature's hex portion so a
// case-varying header still compares correctly; the "v0=" scheme prefix is
// always lowercase by construction.
func normalizeSignature(sig string) string {
	if strings.HasPrefix(sig, "v0=") {
		return "v0=" + strings.ToLower(strings.TrimPrefix(sig, "v0="))
	}
	return sig
}
