package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratecode/triage-sub002/internal/actions"
	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/logging"
	"github.com/stratecode/triage-sub002/internal/security"
	"github.com/stratecode/triage-sub002/internal/triage"
)

const testSigningSecret = "test-signing-secret"

func sign(body []byte, timestamp string) string {
	base := fmt.Sprintf("v0:%s:%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	_, _ = mac.Write([]byte(base))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// echoPlugin is a minimal bus.Plugin used only to exercise the Gateway's
// signature/replay/parsing/routing path without depending on the Slack
// adapter's own workspace-isolation gate.
type echoPlugin struct {
	core bus.CoreAPI
}

func (p *echoPlugin) Name() string                  { return "echo-test-plugin" }
func (p *echoPlugin) Version() string                { return "1.0.0" }
func (p *echoPlugin) ConfigSchema() bus.ConfigSchema { return bus.ConfigSchema{} }

func (p *echoPlugin) Initialize(ctx context.Context, config bus.PluginConfig, core bus.CoreAPI) error {
	p.core = core
	return nil
}
func (p *echoPlugin) Start(ctx context.Context) error { return nil }
func (p *echoPlugin) Stop(ctx context.Context) error  { return nil }
func (p *echoPlugin) HealthCheck(ctx context.Context) bus.HealthState {
	return bus.HealthHealthy
}

func (p *echoPlugin) HandleMessage(ctx context.Context, msg bus.Message) (bus.Response, error) {
	result := p.core.GeneratePlan(ctx, msg.UserID, nil, nil)
	if !result.Success {
		return bus.Response{Content: result.Error, ResponseType: bus.ResponseError}, nil
	}
	rendered, _ := result.Data["rendered_text"].(string)
	return bus.Response{Content: msg.Command + ":" + rendered, ResponseType: bus.ResponseInChannel}, nil
}

func (p *echoPlugin) SendMessage(ctx context.Context, channelID, userID string, resp bus.Response) bool {
	return true
}

func (p *echoPlugin) HandleEvent(ctx context.Context, eventType bus.EventType, eventData map[string]interface{}) error {
	return nil
}

func newTestGateway(t *testing.T) (*Gateway, *bus.Registry) {
	t.Helper()

	eng := triage.NewMemoryEngine()
	eng.SeedTasks("U1", []triage.Task{{Key: "t1", Title: "A", Class: triage.ClassPriorityEligible, RankScore: 1}})
	core := actions.New(eng, logging.Default())

	registry := bus.NewRegistry(logging.Default())
	bus.Register("echo-test-plugin", func() bus.Plugin { return &echoPlugin{} })
	require.True(t, registry.Load(context.Background(), "echo-test-plugin", bus.PluginConfig{PluginName: "echo-test-plugin", Enabled: true}, core))

	guard := security.NewReplayProtection(MaxClockSkew, logging.Default())
	gw := New("echo-test-plugin", testSigningSecret, guard, registry, logging.Default())
	return gw, registry
}

func TestServeWebhookRejectsBadSignature(t *testing.T) {
	gw, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/plugins/echo-test-plugin/webhook", strings.NewReader("team_id=T1&user_id=U1&text=plan"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")

	rec := httptest.NewRecorder()
	gw.ServeWebhook(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeWebhookHandlesURLVerification(t *testing.T) {
	gw, _ := newTestGateway(t)

	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/plugins/echo-test-plugin/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", sign(body, timestamp))

	rec := httptest.NewRecorder()
	gw.ServeWebhook(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc123")
}

func TestServeWebhookRoutesSlashCommand(t *testing.T) {
	gw, _ := newTestGateway(t)

	form := url.Values{"team_id": {"T1"}, "user_id": {"U1"}, "text": {"plan"}}
	body := []byte(form.Encode())
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/plugins/echo-test-plugin/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", sign(body, timestamp))

	rec := httptest.NewRecorder()
	gw.ServeWebhook(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "plan")
}

func TestServeHealthReturnsStaticPayloadWithoutTouchingAdapters(t *testing.T) {
	gw, registry := newTestGateway(t)

	before, ok := registry.Health("echo-test-plugin")
	require.True(t, ok)

	req := httptest.NewRequest(http.MethodGet, "/plugins/health", nil)
	rec := httptest.NewRecorder()
	gw.ServeHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "plugin-bus-gateway", body["service"])
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["timestamp"])
	assert.NotContains(t, body, "echo-test-plugin")

	after, ok := registry.Health("echo-test-plugin")
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestServeWebhookRejectsReplayedSignature(t *testing.T) {
	gw, _ := newTestGateway(t)

	form := url.Values{"team_id": {"T1"}, "user_id": {"U1"}, "text": {"plan"}}
	body := []byte(form.Encode())
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := sign(body, timestamp)

	req1 := httptest.NewRequest(http.MethodPost, "/plugins/echo-test-plugin/webhook", strings.NewReader(string(body)))
	req1.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req1.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req1.Header.Set("X-Slack-Signature", signature)
	rec1 := httptest.NewRecorder()
	gw.ServeWebhook(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/plugins/echo-test-plugin/webhook", strings.NewReader(string(body)))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req2.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req2.Header.Set("X-Slack-Signature", signature)
	rec2 := httptest.NewRecorder()
	gw.ServeWebhook(rec2, req2)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}
