// Package slack implements the Slack Adapter (§4.10), the Plugin Bus's
// reference channel adapter: command/event parsing, block formatting, and
// the workspace isolation gate.
package slack

import (
	"net/url"
	"strings"

	"github.com/stratecode/triage-sub002/internal/bus"
)

// botUserIDPlaceholder marks where parseMention strips a leading bot
// mention token (`<@BOT_ID>`); the real bot user id is injected by the
// adapter at construction (Initialize), not hardcoded here.
const mentionPrefix = "<@"

// ParseSlashCommand implements `parse_slash_command(payload)` (§4.10):
// text after `/triage` is split on whitespace; token 0 is the command,
// remaining `key=value` tokens become parameters, remaining bare tokens
// become positional `arg_N`.
func ParseSlashCommand(form url.Values) bus.Message {
	text := strings.TrimSpace(form.Get("text"))
	tokens := strings.Fields(text)

	msg := bus.Message{
		ChannelID: form.Get("team_id"),
		UserID:    form.Get("user_id"),
		Content:   text,
		Parameters: make(map[string]string),
		Metadata: map[string]interface{}{
			"slack_channel_id": form.Get("channel_id"),
			"response_url":     form.Get("response_url"),
		},
	}

	if len(tokens) == 0 {
		return msg
	}
	msg.Command = tokens[0]

	positional := 0
	for _, tok := range tokens[1:] {
		if key, value, ok := splitKeyValue(tok); ok {
			msg.Parameters[key] = value
			continue
		}
		msg.Parameters[argName(positional)] = tok
		positional++
	}
	return msg
}

func splitKeyValue(tok string) (string, string, bool) {
	idx := strings.IndexByte(tok, '=')
	if idx <= 0 {
		return "", "", false
	}
	return tok[:idx], tok[idx+1:], true
}

func argName(n int) string {
	return "arg_" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// InteractivePayload is the subset of Slack's block_actions interactive
// payload the adapter needs.
type InteractivePayload struct {
	ActionID      string
	TeamID        string
	UserID        string
	ChannelID     string
	MessageTS     string
	ResponseURL   string
	PlanDate      string
}

// ParseInteractiveComponent implements `parse_interactive_component(payload)`
// (§4.10): the action id's prefix before `_` becomes the command; the rest
// of the payload becomes metadata.
func ParseInteractiveComponent(p InteractivePayload) bus.Message {
	command := p.ActionID
	if idx := strings.IndexByte(p.ActionID, '_'); idx > 0 {
		command = p.ActionID[:idx]
	}

	metadata := map[string]interface{}{
		"message_ts":   p.MessageTS,
		"channel":      p.ChannelID,
		"response_url": p.ResponseURL,
	}
	if p.PlanDate != "" {
		metadata["plan_date"] = p.PlanDate
	}

	return bus.Message{
		ChannelID:  p.TeamID,
		UserID:     p.UserID,
		Command:    command,
		Parameters: map[string]string{},
		Metadata:   metadata,
	}
}

// ParseAppMention implements `parse_app_mention(event)` (§4.10): strips
// the leading `<@BOT>` token, parses identically to a slash command text,
// and preserves the thread id.
func ParseAppMention(teamID, userID, text, channelID, threadID string) bus.Message {
	return parseEventText(teamID, userID, text, channelID, threadID)
}

// ParseDirectMessage implements `parse_direct_message(event)` (§4.10).
func ParseDirectMessage(teamID, userID, text, channelID, threadID string) bus.Message {
	return parseEventText(teamID, userID, text, channelID, threadID)
}

func parseEventText(teamID, userID, text, channelID, threadID string) bus.Message {
	stripped := text
	if strings.HasPrefix(stripped, mentionPrefix) {
		if idx := strings.IndexByte(stripped, '>'); idx >= 0 {
			stripped = strings.TrimSpace(stripped[idx+1:])
		}
	}

	msg := ParseSlashCommand(url.Values{
		"text":      {stripped},
		"team_id":   {teamID},
		"user_id":   {userID},
		"channel_id": {channelID},
	})
	msg.ThreadID = threadID
	return msg
}
