package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const postMessageURL = "https://slack.com/api/chat.postMessage"

// MessageSender posts a rendered message to a Slack channel on behalf of
// an installed workspace. The access token is the installation's own bot
// token, never a package-level credential.
type MessageSender interface {
	PostMessage(ctx context.Context, accessToken, channelID string, blocks []Block, fallbackText string) bool
}

// WebAPIClient implements MessageSender against Slack's real chat.postMessage
// endpoint (§4.6 send_message).
type WebAPIClient struct {
	httpClient *http.Client
}

// NewWebAPIClient creates a WebAPIClient.
func NewWebAPIClient() *WebAPIClient {
	return &WebAPIClient{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type postMessageRequest struct {
	Channel string  `json:"channel"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// PostMessage calls chat.postMessage with accessToken as the bearer
// credential. It returns false on any transport error or a non-OK Slack
// response, never panicking the caller (§7: delivery failure is reported,
// not surfaced as an adapter health change).
func (c *WebAPIClient) PostMessage(ctx context.Context, accessToken, channelID string, blocks []Block, fallbackText string) bool {
	payload, err := json.Marshal(postMessageRequest{Channel: channelID, Text: fallbackText, Blocks: blocks})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postMessageURL, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var body postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.OK
}
