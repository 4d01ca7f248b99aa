package slack

import (
	"github.com/stratecode/triage-sub002/internal/bus"
)

// sectionMaxChars is Slack's practical limit for a single section block's
// text; the platform hard limit is 3000 (§4.10).
const sectionMaxChars = 2900

// Block is a minimal Slack block-kit element.
type Block map[string]interface{}

// ResponseToBlocks implements `response_to_blocks(Response) → [Block]`
// (§4.10): section blocks for content split at ≤2900 chars, a divider
// before any action row, action buttons styled by primary/danger, and
// selected metadata rendered as trailing context blocks.
func ResponseToBlocks(resp bus.Response) []Block {
	var blocks []Block

	for _, chunk := range splitText(resp.Content, sectionMaxChars) {
		blocks = append(blocks, Block{
			"type": "section",
			"text": Block{"type": "mrkdwn", "text": chunk},
		})
	}

	if len(resp.Actions) > 0 {
		blocks = append(blocks, Block{"type": "divider"})

		elements := make([]Block, 0, len(resp.Actions))
		for _, action := range resp.Actions {
			btn := Block{
				"type":      "button",
				"action_id": action.ID,
				"text":      Block{"type": "plain_text", "text": action.Label},
				"value":     action.Value,
			}
			if action.Style == "primary" || action.Style == "danger" {
				btn["style"] = action.Style
			}
			elements = append(elements, btn)
		}
		blocks = append(blocks, Block{"type": "actions", "elements": elements})
	}

	if planDate, ok := resp.Metadata["plan_date"]; ok {
		blocks = append(blocks, Block{
			"type": "context",
			"elements": []Block{
				{"type": "mrkdwn", "text": "Plan date: " + toString(planDate)},
			},
		})
	}

	for _, attachment := range resp.Attachments {
		blocks = append(blocks, Block{"type": "section", "text": Block{"type": "mrkdwn", "text": toString(attachment["text"])}})
	}

	return blocks
}

func splitText(text string, max int) []string {
	if text == "" {
		return []string{""}
	}
	if len(text) <= max {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		end := max
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[:end]))
		runes = runes[end:]
	}
	return chunks
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
