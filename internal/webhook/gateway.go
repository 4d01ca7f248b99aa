package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/logging"
	"github.com/stratecode/triage-sub002/internal/slack"
)

// maxBodyBytes bounds how much of an inbound webhook body is read, guarding
// against unbounded-memory requests from an unauthenticated endpoint.
const maxBodyBytes = 1 << 20 // 1MiB

// ReplayGuard is satisfied by both security.ReplayProtection and
// security.RedisMirror's context-free local path; the Gateway only needs
// the plain in-memory signature.
type ReplayGuard interface {
	ValidateAndMark(signature string) bool
}

// Gateway serves one plugin's webhook/oauth-callback/health endpoints.
type Gateway struct {
	pluginName    string
	signingSecret string
	replayGuard   ReplayGuard
	registry      *bus.Registry
	logger        *logging.Logger
}

// New creates a Gateway for one plugin.
func New(pluginName, signingSecret string, replayGuard ReplayGuard, registry *bus.Registry, logger *logging.Logger) *Gateway {
	return &Gateway{
		pluginName:    pluginName,
		signingSecret: signingSecret,
		replayGuard:   replayGuard,
		registry:      registry,
		logger:        logger,
	}
}

// urlVerificationPayload is Slack's one-time endpoint-verification request.
type urlVerificationPayload struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

// eventCallbackEnvelope wraps Slack's subscribed events (§4.8 step 2).
type eventCallbackEnvelope struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// innerEvent is the subset of Slack's event-callback body the adapter's
// parsers need.
type innerEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	User    string `json:"user"`
	Text    string `json:"text"`
	TS      string `json:"ts"`
	TeamID  string `json:"team"`
}

// ServeWebhook handles /plugins/{name}/webhook (§4.8). Non-200 is returned
// only for authentication failures or malformed payloads; adapter-layer
// errors surface as 200 with an error response type so the platform does
// not retry (§4.8).
func (g *Gateway) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")
	if !VerifySlackSignature(g.signingSecret, timestamp, signature, body, time.Now()) {
		if g.logger != nil {
			g.logger.LogSecurityEvent(r.Context(), "webhook_signature_rejected", map[string]interface{}{"plugin": g.pluginName})
		}
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	if g.replayGuard != nil && !g.replayGuard.ValidateAndMark(signature) {
		if g.logger != nil {
			g.logger.LogSecurityEvent(r.Context(), "webhook_replay_rejected", map[string]interface{}{"plugin": g.pluginName})
		}
		http.Error(w, "request already processed", http.StatusUnauthorized)
		return
	}

	contentType := r.Header.Get("Content-Type")

	// URL-verification challenge: Slack sends this as JSON, unsigned by the
	// request body structure it shares with event callbacks.
	if isJSON(contentType) {
		var probe urlVerificationPayload
		if err := json.Unmarshal(body, &probe); err == nil && probe.Type == "url_verification" {
			writeJSON(w, map[string]string{"challenge": probe.Challenge})
			return
		}
	}

	msg, ok := g.parsePayload(contentType, body, r)
	if !ok {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if msg == nil {
		// Event type we don't act on (e.g. a bot's own message echo).
		w.WriteHeader(http.StatusOK)
		return
	}

	resp := g.registry.RouteMessage(r.Context(), g.pluginName, *msg)
	writeResponse(w, resp)
}

// parsePayload detects slash-command (form-encoded), interactive (JSON
// form field "payload"), and event-callback (JSON) shapes (§4.8 step 2).
func (g *Gateway) parsePayload(contentType string, body []byte, r *http.Request) (*bus.Message, bool) {
	switch {
	case isForm(contentType):
		// The body was already consumed by io.ReadAll in ServeWebhook, so
		// the form is parsed directly from it rather than via r.ParseForm.
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, false
		}
		if payload := values.Get("payload"); payload != "" {
			var interactive slack.InteractivePayload
			if err := json.Unmarshal([]byte(payload), &interactive); err != nil {
				return nil, false
			}
			msg := slack.ParseInteractiveComponent(interactive)
			return &msg, true
		}
		msg := slack.ParseSlashCommand(values)
		return &msg, true

	case isJSON(contentType):
		var envelope eventCallbackEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, false
		}
		if envelope.Type != "event_callback" {
			return nil, false
		}
		var event innerEvent
		if err := json.Unmarshal(envelope.Event, &event); err != nil {
			return nil, false
		}
		switch event.Type {
		case "app_mention":
			msg := slack.ParseAppMention(event.TeamID, event.User, event.Text, event.Channel, event.TS)
			return &msg, true
		case "message":
			msg := slack.ParseDirectMessage(event.TeamID, event.User, event.Text, event.Channel, event.TS)
			return &msg, true
		default:
			return nil, true
		}

	default:
		return nil, false
	}
}

// serviceName and serviceVersion identify the gateway process itself in the
// /plugins/health response; they are not per-adapter values.
const (
	serviceName    = "plugin-bus-gateway"
	serviceVersion = "1.0.0"
)

// ServeHealth handles /plugins/health (§6): a process-level liveness check
// that never touches adapters — per-adapter state belongs to the Registry's
// own HealthCheckAll, invoked elsewhere (e.g. routing, observability), not
// from this handler.
func (g *Gateway) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"service":   serviceName,
		"version":   serviceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeResponse(w http.ResponseWriter, resp bus.Response) {
	blocks := slack.ResponseToBlocks(resp)
	writeJSON(w, map[string]interface{}{
		"response_type": string(resp.ResponseType),
		"text":          resp.Content,
		"blocks":        blocks,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func isJSON(contentType string) bool {
	return hasPrefix(contentType, "application/json")
}

func isForm(contentType string) bool {
	return hasPrefix(contentType, "application/x-www-form-urlencoded")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
