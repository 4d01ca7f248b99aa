package slack

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSlashCommand(t *testing.T) {
	form := url.Values{
		"command":    {"/triage"},
		"text":       {"plan closure_rate=0.8 extra"},
		"team_id":    {"T1"},
		"user_id":    {"U1"},
		"channel_id": {"C1"},
		"response_url": {"https://hooks.slack.com/x"},
	}

	msg := ParseSlashCommand(form)

	assert.Equal(t, "T1", msg.ChannelID)
	assert.Equal(t, "U1", msg.UserID)
	assert.Equal(t, "plan", msg.Command)
	assert.Equal(t, "0.8", msg.Parameters["closure_rate"])
	assert.Equal(t, "extra", msg.Parameters["arg_0"])
	assert.Equal(t, "C1", msg.Metadata["slack_channel_id"])
	assert.Equal(t, "https://hooks.slack.com/x", msg.Metadata["response_url"])
}

func TestParseSlashCommandEmptyText(t *testing.T) {
	msg := ParseSlashCommand(url.Values{"team_id": {"T1"}, "user_id": {"U1"}})
	assert.Equal(t, "", msg.Command)
}

func TestParseInteractiveComponent(t *testing.T) {
	msg := ParseInteractiveComponent(InteractivePayload{
		ActionID:    "approve_plan_2026-07-30",
		TeamID:      "T1",
		UserID:      "U1",
		ChannelID:   "C1",
		MessageTS:   "1234.5678",
		ResponseURL: "https://hooks.slack.com/x",
		PlanDate:    "2026-07-30",
	})

	assert.Equal(t, "approve", msg.Command)
	assert.Equal(t, "2026-07-30", msg.Metadata["plan_date"])
	assert.Equal(t, "1234.5678", msg.Metadata["message_ts"])
}

func TestParseAppMentionStripsBotPrefix(t *testing.T) {
	msg := ParseAppMention("T1", "U1", "<@BOT123> plan", "C1", "thread-1")
	assert.Equal(t, "plan", msg.Command)
	assert.Equal(t, "thread-1", msg.ThreadID)
}
