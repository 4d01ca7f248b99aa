package slack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratecode/triage-sub002/internal/bus"
)

func TestResponseToBlocksIncludesActionsAndDivider(t *testing.T) {
	resp := bus.Response{
		Content: "Your plan is ready.",
		Actions: []bus.Action{
			{ID: "approve_plan", Label: "Approve", Style: "primary"},
			{ID: "reject_plan", Label: "Reject", Style: "danger"},
		},
	}

	blocks := ResponseToBlocks(resp)
	require.Len(t, blocks, 3) // section, divider, actions

	assert.Equal(t, "section", blocks[0]["type"])
	assert.Equal(t, "divider", blocks[1]["type"])
	assert.Equal(t, "actions", blocks[2]["type"])

	elements, ok := blocks[2]["elements"].([]Block)
	require.True(t, ok)
	require.Len(t, elements, 2)
	assert.Equal(t, "approve_plan", elements[0]["action_id"])
	assert.Equal(t, "primary", elements[0]["style"])
}

func TestResponseToBlocksSplitsLongContent(t *testing.T) {
	resp := bus.Response{Content: strings.Repeat("a", 6000)}
	blocks := ResponseToBlocks(resp)
	assert.GreaterOrEqual(t, len(blocks), 3)
}

func TestResponseToBlocksRendersPlanDateContext(t *testing.T) {
	resp := bus.Response{
		Content:  "status",
		Metadata: map[string]interface{}{"plan_date": "2026-07-30"},
	}
	blocks := ResponseToBlocks(resp)
	last := blocks[len(blocks)-1]
	assert.Equal(t, "context", last["type"])
}
