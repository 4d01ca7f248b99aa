package slack

import (
	"context"
	"strings"
	"sync"

	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/logging"
)

// pluginName is the channel tag the Registry routes on.
const pluginName = "slack"

// pluginVersion follows semver (§4.6 "version() → semver-string").
const pluginVersion = "1.0.0"

// workspaceIDPrefixes are the platform-expected prefixes for Slack user
// ids (§9 Open Question resolution: cheap defense-in-depth, not a
// membership check).
var workspaceIDPrefixes = []string{"U", "W"}

// InstallationLookup is the narrow view of the Installation Store the
// adapter needs for its workspace isolation gate.
type InstallationLookup interface {
	Get(ctx context.Context, pluginName, channelID string) (*bus.Installation, error)
}

// Plugin is the Slack reference adapter implementing bus.Plugin (§4.10).
type Plugin struct {
	mu         sync.RWMutex
	core       bus.CoreAPI
	installs   InstallationLookup
	sender     MessageSender
	logger     *logging.Logger
	config     bus.PluginConfig
	socketMode *SocketModeClient // nil unless SLACK_SOCKET_MODE_ENABLED
}

// New creates an uninitialized Slack Plugin; installs may be nil until
// Initialize is called with a real Installation Store. sender is the
// collaborator SendMessage calls into; a nil sender makes SendMessage
// always report failure rather than panic.
func New(installs InstallationLookup, sender MessageSender, logger *logging.Logger) *Plugin {
	return &Plugin{installs: installs, sender: sender, logger: logger}
}

func (p *Plugin) Name() string    { return pluginName }
func (p *Plugin) Version() string { return pluginVersion }

// ConfigSchema declares the Slack adapter's recognised config keys (§4.3).
func (p *Plugin) ConfigSchema() bus.ConfigSchema {
	return bus.ConfigSchema{
		"signing_secret":            {Type: "string", Required: true},
		"client_id":                 {Type: "string", Required: true},
		"client_secret":             {Type: "string", Required: true},
		"app_level_token":           {Type: "string"},
		"socket_mode_enabled":       {Type: "bool", Default: false},
	}
}

// Initialize wires the adapter to its config and the borrowed Core API
// reference (§4.6). It never takes ownership of core.
func (p *Plugin) Initialize(ctx context.Context, config bus.PluginConfig, core bus.CoreAPI) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
	p.core = core

	if enabled, _ := config.Config["socket_mode_enabled"].(bool); enabled {
		token, _ := config.Config["app_level_token"].(string)
		p.socketMode = NewSocketModeClient(token, p.logger)
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.mu.RLock()
	sm := p.socketMode
	p.mu.RUnlock()
	if sm == nil {
		return nil
	}
	return sm.Start(ctx, p.HandleMessage)
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.RLock()
	sm := p.socketMode
	p.mu.RUnlock()
	if sm == nil {
		return nil
	}
	return sm.Stop()
}

// HealthCheck reports HEALTHY as long as the adapter has been initialized
// with a Core API reference.
func (p *Plugin) HealthCheck(ctx context.Context) bus.HealthState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.core == nil {
		return bus.HealthUnhealthy
	}
	return bus.HealthHealthy
}

// HandleMessage is the Slack adapter's inbound entry point: workspace
// isolation gate, then command dispatch into the Core Actions API
// (§4.10). Any internal exception becomes a generic ephemeral error
// response; unknown commands emit a help block; unknown event types are
// silently ignored by the caller before reaching here.
func (p *Plugin) HandleMessage(ctx context.Context, msg bus.Message) (resp bus.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = ephemeral("Something went wrong handling your request.")
			err = nil
		}
	}()

	if !p.verifyInstallation(ctx, msg.ChannelID) {
		return ephemeral("This workspace doesn't have the app installed."), nil
	}
	if !p.ensureWorkspaceIsolation(msg.ChannelID, msg.UserID) {
		return ephemeral("Unable to verify your workspace membership."), nil
	}

	p.mu.RLock()
	core := p.core
	p.mu.RUnlock()

	switch msg.Command {
	case "plan":
		return p.dispatchGeneratePlan(ctx, core, msg), nil
	case "approve_plan":
		return p.dispatchApprovePlan(ctx, core, msg), nil
	case "reject_plan":
		return p.dispatchRejectPlan(ctx, core, msg), nil
	case "decompose":
		return p.dispatchDecompose(ctx, core, msg), nil
	case "status":
		return p.dispatchStatus(ctx, core, msg), nil
	case "settings":
		return p.dispatchSettings(ctx, core, msg), nil
	case "":
		return helpResponse(), nil
	default:
		return helpResponse(), nil
	}
}

// verifyInstallation implements the first half of the workspace isolation
// gate (§4.10): an active installation must exist for channelID.
func (p *Plugin) verifyInstallation(ctx context.Context, channelID string) bool {
	p.mu.RLock()
	installs := p.installs
	p.mu.RUnlock()
	if installs == nil {
		return false
	}
	inst, err := installs.Get(ctx, pluginName, channelID)
	if err != nil || inst == nil {
		return false
	}
	return inst.IsActive
}

// ensureWorkspaceIsolation is a cheap prefix sanity check, not a
// membership check (§9 Open Question resolution, documented as
// defense-in-depth only): userID must begin with a platform-expected
// prefix.
func (p *Plugin) ensureWorkspaceIsolation(channelID, userID string) bool {
	for _, prefix := range workspaceIDPrefixes {
		if strings.HasPrefix(userID, prefix) {
			return true
		}
	}
	return false
}

// SendMessage pushes resp to channelID via the Slack Web API's
// chat.postMessage, authenticated with the channel's own installation
// access token (§4.6 send_message). Returns false on a missing/inactive
// installation, a missing sender, or a non-OK response from Slack — the
// caller is never notified of delivery failure beyond this boolean (§7).
func (p *Plugin) SendMessage(ctx context.Context, channelID, userID string, resp bus.Response) bool {
	p.mu.RLock()
	installs := p.installs
	sender := p.sender
	logger := p.logger
	p.mu.RUnlock()

	if installs == nil {
		return false
	}
	inst, err := installs.Get(ctx, pluginName, channelID)
	if err != nil || inst == nil || !inst.IsActive {
		if logger != nil {
			logger.WithContext(ctx).Warn("send_message: no active installation for channel")
		}
		return false
	}
	if sender == nil {
		if logger != nil {
			logger.WithContext(ctx).Warn("send_message: no message sender configured")
		}
		return false
	}

	blocks := ResponseToBlocks(resp)
	ok := sender.PostMessage(ctx, inst.AccessToken, channelID, blocks, resp.Content)
	if !ok && logger != nil {
		logger.WithContext(ctx).Warn("send_message: chat.postMessage delivery failed")
	}
	return ok
}

// HandleEvent reacts to a core Event by deciding whether to push a channel
// message (§4.6 Events). Event delivery failure is logged but never
// changes adapter health (§7).
func (p *Plugin) HandleEvent(ctx context.Context, eventType bus.EventType, eventData map[string]interface{}) error {
	channelID, _ := eventData["channel_id"].(string)
	userID, _ := eventData["user_id"].(string)
	if channelID == "" {
		return nil
	}

	resp := bus.Response{
		Content:      string(eventType),
		ResponseType: bus.ResponseMessage,
		Metadata:     eventData,
	}
	p.SendMessage(ctx, channelID, userID, resp)
	return nil
}

func ephemeral(content string) bus.Response {
	return bus.Response{Content: content, ResponseType: bus.ResponseEphemeral}
}

func helpResponse() bus.Response {
	return bus.Response{
		Content:      "Unknown command. Try `/triage plan`, `status`, `decompose`, or `settings`.",
		ResponseType: bus.ResponseEphemeral,
	}
}
