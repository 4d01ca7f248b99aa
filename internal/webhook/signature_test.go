package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sign(secret, timestamp string, body []byte) string {
	base := fmt.Sprintf("v0:%s:%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(base))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySlackSignatureValid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`command=/triage&text=plan&team_id=T1&user_id=U1&channel_id=C1`)
	sig := sign("shh", ts, body)

	assert.True(t, VerifySlackSignature("shh", ts, sig, body, now))
}

func TestVerifySlackSignatureRejectsReplayedTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	old := now.Add(-600 * time.Second)
	ts := strconv.FormatInt(old.Unix(), 10)
	body := []byte(`command=/triage`)
	sig := sign("shh", ts, body)

	assert.False(t, VerifySlackSignature("shh", ts, sig, body, now))
}

func TestVerifySlackSignatureRejectsBadSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`command=/triage`)

	assert.False(t, VerifySlackSignature("shh", ts, "v0=deadbeef", body, now))
}

func TestVerifySlackSignatureRejectsMissingFields(t *testing.T) {
	now := time.Now()
	assert.False(t, VerifySlackSignature("", "123", "v0=x", []byte("b"), now))
	assert.False(t, VerifySlackSignature("shh", "", "v0=x", []byte("b"), now))
	assert.False(t, VerifySlackSignature("shh", "123", "", []byte("b"), now))
	assert.False(t, VerifySlackSignature("shh", "not-a-number", "v0=x", []byte("b"), now))
}
