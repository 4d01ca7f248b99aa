package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/logging"
)

// socketModeOpenURL is Slack's apps.connections.open endpoint, called with
// the app-level token to mint a one-time WSS URL.
const socketModeOpenURL = "https://slack.com/api/apps.connections.open"

// SocketModeClient is an optional, additive inbound path alongside the
// HTTP webhook: when enabled it opens a WSS connection and feeds inbound
// frames through the same HandleMessage path as HTTP-delivered events
// (SPEC_FULL §4.10). The HTTP webhook path remains available regardless.
type SocketModeClient struct {
	appToken string
	logger   *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   *websocket.Conn
	client *http.Client
}

// NewSocketModeClient creates a client using appToken to authenticate the
// connections.open call.
func NewSocketModeClient(appToken string, logger *logging.Logger) *SocketModeClient {
	return &SocketModeClient{appToken: appToken, logger: logger, client: &http.Client{Timeout: 10 * time.Second}}
}

type connectionsOpenResponse struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// handler processes one inbound HandleMessage-shaped message and returns
// whatever the adapter would reply with (the reply is posted back via the
// envelope's ack in a full implementation; this reference client only
// acks receipt, matching Socket Mode's event-ack contract).
type handler func(ctx context.Context, msg bus.Message) (bus.Response, error)

// Start opens the WSS connection and begins reading frames in a
// background goroutine. It returns once the initial handshake succeeds.
func (c *SocketModeClient) Start(ctx context.Context, handle handler) error {
	if c.appToken == "" {
		return fmt.Errorf("socket mode enabled but no app-level token configured")
	}

	wsURL, err := c.openConnection(ctx)
	if err != nil {
		return fmt.Errorf("socket mode connections.open: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("socket mode dial: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(runCtx, conn, handle)
	return nil
}

func (c *SocketModeClient) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, socketModeOpenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.appToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body connectionsOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if !body.OK {
		return "", fmt.Errorf("slack error: %s", body.Error)
	}
	return body.URL, nil
}

type socketModeEnvelope struct {
	Type    string          `json:"type"`
	EnvelopeID string       `json:"envelope_id"`
	Payload json.RawMessage `json:"payload"`
}

func (c *SocketModeClient) readLoop(ctx context.Context, conn *websocket.Conn, handle handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.logger != nil {
				c.logger.WithError(err).Warn("socket mode read failed, stopping")
			}
			return
		}

		var envelope socketModeEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.ack(conn, envelope.EnvelopeID)

		if envelope.Type != "events_api" && envelope.Type != "slash_commands" && envelope.Type != "interactive" {
			continue
		}

		msg := bus.Message{Metadata: map[string]interface{}{"raw_payload": string(envelope.Payload)}}
		if _, err := handle(ctx, msg); err != nil && c.logger != nil {
			c.logger.WithError(err).Warn("socket mode handler error")
		}
	}
}

func (c *SocketModeClient) ack(conn *websocket.Conn, envelopeID string) {
	if envelopeID == "" {
		return
	}
	ack := map[string]string{"envelope_id": envelopeID}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// Stop closes the WSS connection and stops the read loop.
func (c *SocketModeClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
