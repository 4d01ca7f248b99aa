package oauth

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratecode/triage-sub002/internal/bus"
	busErrors "github.com/stratecode/triage-sub002/internal/errors"
)

type fakePlatformClient struct {
	exchangeErr error
	refreshErr  error
	tokens      Tokens

	gotExchangeClientID, gotExchangeClientSecret string
	gotRefreshClientID, gotRefreshClientSecret   string
}

func (f *fakePlatformClient) AuthorizeURL(clientID, redirectURI, state string, scopes []string) string {
	return buildAuthorizeURL("https://slack.com/oauth/v2/authorize", clientID, redirectURI, state, scopes)
}

func (f *fakePlatformClient) Exchange(ctx context.Context, clientID, clientSecret, code, redirectURI string) (Tokens, error) {
	f.gotExchangeClientID, f.gotExchangeClientSecret = clientID, clientSecret
	if f.exchangeErr != nil {
		return Tokens{}, f.exchangeErr
	}
	return f.tokens, nil
}

func (f *fakePlatformClient) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (Tokens, error) {
	f.gotRefreshClientID, f.gotRefreshClientSecret = clientID, clientSecret
	if f.refreshErr != nil {
		return Tokens{}, f.refreshErr
	}
	return f.tokens, nil
}

func (f *fakePlatformClient) DefaultScopes() []string { return []string{"chat:write", "commands"} }

type platformErr struct{ code string }

func (e platformErr) Error() string            { return "platform error: " + e.code }
func (e platformErr) PlatformErrorCode() string { return e.code }

type fakeInstaller struct {
	created *bus.Installation
	existed bool
}

func (f *fakeInstaller) Create(ctx context.Context, inst bus.Installation) (*bus.Installation, error) {
	if f.existed {
		return nil, busErrors.AlreadyExists("installation", inst.ChannelID)
	}
	f.created = &inst
	return &inst, nil
}

func (f *fakeInstaller) Update(ctx context.Context, pluginName, channelID string, fields UpdateFields) (*bus.Installation, error) {
	return nil, nil
}

func testFlow(client PlatformClient) *Flow {
	return New("slack", "client-id", "client-secret", "https://example.com/callback", []byte("0123456789abcdef0123456789abcdef"), client, nil)
}

func TestAuthorizeURLAndVerifyStateRoundTrip(t *testing.T) {
	flow := testFlow(&fakePlatformClient{})

	url, err := flow.AuthorizeURL("/settings")
	require.NoError(t, err)
	assert.Contains(t, url, "client_id=client-id")

	// extract state param crudely for the round trip
	state := extractQueryParam(t, url, "state")
	claims, err := flow.VerifyState(state)
	require.NoError(t, err)
	assert.Equal(t, "slack", claims.Plugin)
	assert.Equal(t, "/settings", claims.RedirectAfter)
}

func TestVerifyStateRejectsWrongPlugin(t *testing.T) {
	flowA := testFlow(&fakePlatformClient{})
	url, err := flowA.AuthorizeURL("")
	require.NoError(t, err)
	state := extractQueryParam(t, url, "state")

	flowB := New("discord", "cid", "secret", "https://example.com/cb", []byte("0123456789abcdef0123456789abcdef"), &fakePlatformClient{}, nil)
	_, err = flowB.VerifyState(state)
	assert.Error(t, err)
}

func TestExchangeMapsPlatformError(t *testing.T) {
	flow := testFlow(&fakePlatformClient{exchangeErr: platformErr{code: "invalid_code"}})
	_, err := flow.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "client-secret")
}

func TestExchangeSendsClientCredentialsToPlatform(t *testing.T) {
	client := &fakePlatformClient{tokens: Tokens{AccessToken: "tok"}}
	flow := testFlow(client)

	_, err := flow.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "client-id", client.gotExchangeClientID)
	assert.Equal(t, "client-secret", client.gotExchangeClientSecret)
}

func TestRefreshSendsClientCredentialsToPlatform(t *testing.T) {
	client := &fakePlatformClient{tokens: Tokens{AccessToken: "tok2"}}
	flow := testFlow(client)

	_, err := flow.Refresh(context.Background(), &fakeInstaller{}, "C1", "refresh-tok")
	require.NoError(t, err)
	assert.Equal(t, "client-id", client.gotRefreshClientID)
	assert.Equal(t, "client-secret", client.gotRefreshClientSecret)
}

func TestStoreReturnsDuplicateInstallError(t *testing.T) {
	flow := testFlow(&fakePlatformClient{})
	installer := &fakeInstaller{existed: true}

	_, err := flow.Store(context.Background(), installer, "C1", Tokens{AccessToken: "tok"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "C1")
}

func extractQueryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	parts := splitOnce(rawURL, "?")
	values, err := url.ParseQuery(parts[1])
	require.NoError(t, err)
	return values.Get(key)
}

func splitOnce(s, sep string) [2]string {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return [2]string{s[:i], s[i+len(sep):]}
		}
	}
	return [2]string{s, ""}
}
