package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stratecode/triage-sub002/internal/oauth"
)

const (
	authorizeURLBase = "https://slack.com/oauth/v2/authorize"
	oauthAccessURL   = "https://slack.com/api/oauth.v2.access"
)

// defaultScopes are the bot-token scopes the reference adapter requests
// (§4.10): posting messages, reading slash commands, and reacting to
// mentions/direct messages.
var defaultScopes = []string{"chat:write", "commands", "app_mentions:read", "im:history"}

// OAuthClient implements oauth.PlatformClient against Slack's OAuth v2
// endpoints, the concrete collaborator oauth.Flow calls into for the
// Slack adapter (§4.9).
type OAuthClient struct {
	httpClient *http.Client
}

// NewOAuthClient creates a Slack OAuthClient.
func NewOAuthClient() *OAuthClient {
	return &OAuthClient{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// AuthorizeURL composes Slack's oauth/v2/authorize URL.
func (c *OAuthClient) AuthorizeURL(clientID, redirectURI, state string, scopes []string) string {
	v := url.Values{}
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	v.Set("state", state)
	v.Set("scope", strings.Join(scopes, ","))
	return authorizeURLBase + "?" + v.Encode()
}

// DefaultScopes returns the reference adapter's default bot scopes.
func (c *OAuthClient) DefaultScopes() []string {
	return append([]string(nil), defaultScopes...)
}

// slackOAuthResponse is the shape of oauth.v2.access's JSON body.
type slackOAuthResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	AuthedUser  struct {
		AccessToken string `json:"access_token"`
	} `json:"authed_user"`
	RefreshToken string `json:"refresh_token"`
	Team         struct {
		ID string `json:"id"`
	} `json:"team"`
}

// slackOAuthError carries Slack's stable "error" field so oauth.Flow can
// map it through the user-friendly message table without seeing Slack's
// wire format.
type slackOAuthError struct {
	code string
}

func (e slackOAuthError) Error() string            { return "slack oauth error: " + e.code }
func (e slackOAuthError) PlatformErrorCode() string { return e.code }

// Exchange calls oauth.v2.access in authorization_code mode. Slack requires
// client_id/client_secret in the body to identify the app; without them the
// call never reaches the point of returning invalid_code/invalid_grant_type,
// only invalid_client_id/invalid_client_secret.
func (c *OAuthClient) Exchange(ctx context.Context, clientID, clientSecret, code, redirectURI string) (oauth.Tokens, error) {
	return c.call(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	})
}

// Refresh calls oauth.v2.access in refresh_token mode, also authenticated
// with client_id/client_secret per Slack's token rotation contract.
func (c *OAuthClient) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (oauth.Tokens, error) {
	return c.call(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
	})
}

func (c *OAuthClient) call(ctx context.Context, form url.Values) (oauth.Tokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthAccessURL, strings.NewReader(form.Encode()))
	if err != nil {
		return oauth.Tokens{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return oauth.Tokens{}, err
	}
	defer resp.Body.Close()

	var body slackOAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return oauth.Tokens{}, fmt.Errorf("decode slack oauth response: %w", err)
	}
	if !body.OK {
		return oauth.Tokens{}, slackOAuthError{code: body.Error}
	}

	accessToken := body.AccessToken
	if accessToken == "" {
		accessToken = body.AuthedUser.AccessToken
	}

	return oauth.Tokens{
		AccessToken:  accessToken,
		RefreshToken: body.RefreshToken,
		ExpiresIn:    body.ExpiresIn,
		ChannelID:    body.Team.ID,
	}, nil
}
