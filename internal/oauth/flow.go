// Package oauth implements the OAuth Flow (§4.9): authorization URL
// composition, code exchange, installation persistence, and refresh, with
// a stateless, signed-JWT CSRF state token (SPEC_FULL §4.9) standing in
// for the source's server-side state map.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/errors"
	"github.com/stratecode/triage-sub002/internal/logging"
	"github.com/stratecode/triage-sub002/internal/security"
)

// StateTTL bounds how long an issued CSRF state token remains valid.
const StateTTL = 10 * time.Minute

// Tokens is the result of a successful code exchange or refresh. ChannelID
// is the platform's workspace/team identifier; it is empty on a Refresh
// response since the workspace is already known to the caller.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	ChannelID    string
}

// stateClaims is the payload of the stateless CSRF state JWT.
type stateClaims struct {
	Plugin        string `json:"plugin"`
	Nonce         string `json:"nonce"`
	RedirectAfter string `json:"redirect_after,omitempty"`
	jwt.RegisteredClaims
}

// platformErrorMessages maps platform error codes to user-readable
// messages that never include a client secret or stack trace (§4.9).
var platformErrorMessages = map[string]string{
	"invalid_code":          "That authorization code is invalid or has expired. Please try installing again.",
	"code_already_used":     "That authorization code has already been used. Please try installing again.",
	"invalid_client_id":     "This integration is misconfigured (client id). Contact your workspace admin.",
	"invalid_client_secret": "This integration is misconfigured (client secret). Contact your workspace admin.",
	"invalid_redirect_uri":  "This integration is misconfigured (redirect URI). Contact your workspace admin.",
	"invalid_grant_type":    "This integration is misconfigured (grant type). Contact your workspace admin.",
	"invalid_refresh_token": "Your connection has expired. Please reinstall the integration.",
	"token_revoked":         "Access was revoked. Please reinstall the integration.",
	"access_denied":         "Installation was cancelled.",
}

// PlatformClient performs the platform-specific HTTP calls (authorize URL
// shape, token exchange, refresh). A per-platform implementation (e.g.
// Slack) satisfies this; Flow owns only the state machine.
type PlatformClient interface {
	AuthorizeURL(clientID, redirectURI, state string, scopes []string) string
	Exchange(ctx context.Context, clientID, clientSecret, code, redirectURI string) (Tokens, error)
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (Tokens, error)
	DefaultScopes() []string
}

// Installer persists installations resulting from a successful exchange.
type Installer interface {
	Create(ctx context.Context, inst bus.Installation) (*bus.Installation, error)
	Update(ctx context.Context, pluginName, channelID string, fields UpdateFields) (*bus.Installation, error)
}

// UpdateFields mirrors store.UpdateFields without importing the store
// package, keeping Flow storage-agnostic.
type UpdateFields struct {
	AccessToken  *string
	RefreshToken *string
}

// Flow drives the `initiated → code_received → exchanging → stored →
// active` state machine for one plugin's workspace installation (§4.9).
type Flow struct {
	pluginName   string
	clientID     string
	clientSecret string
	redirectURI  string
	signingKey   []byte
	client       PlatformClient
	logger       *logging.Logger
	nonceGuard   *security.ReplayProtection
}

// SetNonceGuard wires a single-use nonce cache so a state token's nonce
// can only be consumed once even within its JWT expiry window (the
// Housekeeper sweeps this cache per SPEC_FULL §4.11). Nil (the zero
// value) disables single-use enforcement; the JWT's own `exp` still
// bounds the CSRF window.
func (f *Flow) SetNonceGuard(guard *security.ReplayProtection) {
	f.nonceGuard = guard
}

// New creates a Flow for one plugin's OAuth configuration.
func New(pluginName, clientID, clientSecret, redirectURI string, signingKey []byte, client PlatformClient, logger *logging.Logger) *Flow {
	return &Flow{
		pluginName:   pluginName,
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		signingKey:   signingKey,
		client:       client,
		logger:       logger,
	}
}

// AuthorizeURL composes the platform authorization URL, carrying a freshly
// signed CSRF state token (§4.9 "authorize_url(state, scopes?) → url").
func (f *Flow) AuthorizeURL(redirectAfter string) (string, error) {
	scopes := f.client.DefaultScopes()

	claims := stateClaims{
		Plugin:        f.pluginName,
		Nonce:         randomNonce(),
		RedirectAfter: redirectAfter,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(StateTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	state, err := token.SignedString(f.signingKey)
	if err != nil {
		return "", errors.Internal("failed to sign oauth state", err)
	}

	return f.client.AuthorizeURL(f.clientID, f.redirectURI, state, scopes), nil
}

// VerifyState validates a callback's state token and returns its claims.
// An expired, malformed, or wrong-plugin state is rejected the same way a
// CSRF attempt would be, returning OAuthInvalidState.
func (f *Flow) VerifyState(state string) (*stateClaims, error) {
	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return f.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New(errors.ErrCodeOAuthInvalidState, "invalid or expired oauth state", http.StatusBadRequest)
	}
	if claims.Plugin != f.pluginName {
		return nil, errors.New(errors.ErrCodeOAuthInvalidState, "invalid or expired oauth state", http.StatusBadRequest)
	}
	if f.nonceGuard != nil && !f.nonceGuard.ValidateAndMark(f.pluginName+":"+claims.Nonce) {
		return nil, errors.New(errors.ErrCodeOAuthInvalidState, "invalid or expired oauth state", http.StatusBadRequest)
	}
	return claims, nil
}

// Exchange calls the platform token endpoint and maps any platform error
// code through the closed user-friendly message table (§4.9).
func (f *Flow) Exchange(ctx context.Context, code string) (Tokens, error) {
	tokens, err := f.client.Exchange(ctx, f.clientID, f.clientSecret, code, f.redirectURI)
	if err != nil {
		return Tokens{}, f.mapPlatformError(err)
	}
	return tokens, nil
}

// Store creates the installation from a successful exchange. Duplicate
// workspace errors return a message naming the workspace (§4.9).
func (f *Flow) Store(ctx context.Context, installer Installer, channelID string, tokens Tokens) (*bus.Installation, error) {
	inst, err := installer.Create(ctx, bus.Installation{
		PluginName:   f.pluginName,
		ChannelID:    channelID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Metadata:     map[string]interface{}{},
	})
	if err != nil {
		if se := errors.As(err); se != nil && se.Code == errors.ErrCodeAlreadyExists {
			return nil, errors.New(errors.ErrCodeOAuthDuplicateInstall,
				fmt.Sprintf("workspace %q is already installed", channelID), http.StatusConflict)
		}
		return nil, err
	}
	return inst, nil
}

// Refresh re-calls the token endpoint in refresh mode and atomically
// updates the stored tokens on success (§4.9).
func (f *Flow) Refresh(ctx context.Context, installer Installer, channelID, refreshToken string) (Tokens, error) {
	tokens, err := f.client.Refresh(ctx, f.clientID, f.clientSecret, refreshToken)
	if err != nil {
		return Tokens{}, f.mapPlatformError(err)
	}

	access := tokens.AccessToken
	refresh := tokens.RefreshToken
	if _, err := installer.Update(ctx, f.pluginName, channelID, UpdateFields{
		AccessToken:  &access,
		RefreshToken: &refresh,
	}); err != nil {
		return Tokens{}, err
	}
	return tokens, nil
}

// mapPlatformError maps a raw platform error code into a ServiceError
// carrying a user-friendly message, never the client secret or a stack
// trace (§4.9, §7).
func (f *Flow) mapPlatformError(err error) error {
	code := platformErrorCode(err)
	message, known := platformErrorMessages[code]
	if !known {
		message = "The integration could not be installed. Please try again."
		code = "unknown_oauth_error"
	}
	if f.logger != nil {
		f.logger.WithFields(map[string]interface{}{"plugin": f.pluginName, "platform_error": code}).
			Error("oauth exchange failed")
	}
	return errors.New(errors.ErrorCode(code), message, http.StatusBadGateway)
}

// platformCodeError is implemented by PlatformClient errors that carry a
// stable platform error code (e.g. Slack's oauth.v2.access "error" field).
type platformCodeError interface {
	PlatformErrorCode() string
}

func platformErrorCode(err error) string {
	if pe, ok := err.(platformCodeError); ok {
		return pe.PlatformErrorCode()
	}
	return "unknown_oauth_error"
}

// randomNonce generates a CSPRNG-backed, single-use value for the state
// token's nonce claim. The JWT signature already prevents forgery; this
// guards against a predictable nonce narrowing the single-use guarantee
// (e.g. two states issued in the same clock tick colliding).
func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// buildAuthorizeURL is a small helper platform clients may reuse to avoid
// hand-rolling query encoding for the common case.
func buildAuthorizeURL(base, clientID, redirectURI, state string, scopes []string) string {
	v := url.Values{}
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	v.Set("state", state)
	v.Set("scope", strings.Join(scopes, ","))
	return base + "?" + v.Encode()
}
