package slack

import (
	"context"
	"strconv"

	"github.com/stratecode/triage-sub002/internal/bus"
)

func (p *Plugin) dispatchGeneratePlan(ctx context.Context, core bus.CoreAPI, msg bus.Message) bus.Response {
	var planDate *string
	if v, ok := msg.Parameters["plan_date"]; ok {
		planDate = &v
	}
	var closureRate *float64
	if v, ok := msg.Parameters["closure_rate"]; ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			closureRate = &parsed
		}
	}

	result := core.GeneratePlan(ctx, msg.UserID, planDate, closureRate)
	if !result.Success {
		return errorResponse(result)
	}

	renderedText, _ := result.Data["rendered_text"].(string)
	return bus.Response{
		Content:      renderedText,
		ResponseType: bus.ResponseInChannel,
		Actions: []bus.Action{
			{ID: "approve_plan", Label: "Approve", Style: "primary"},
			{ID: "reject_plan", Label: "Reject", Style: "danger"},
		},
	}
}

func (p *Plugin) dispatchApprovePlan(ctx context.Context, core bus.CoreAPI, msg bus.Message) bus.Response {
	planDate := msg.Parameters["plan_date"]
	var feedback *string
	if v, ok := msg.Parameters["feedback"]; ok {
		feedback = &v
	}

	result := core.ApprovePlan(ctx, msg.UserID, planDate, true, feedback)
	if !result.Success {
		return errorResponse(result)
	}
	return bus.Response{Content: "Plan approved.", ResponseType: bus.ResponseInChannel}
}

func (p *Plugin) dispatchRejectPlan(ctx context.Context, core bus.CoreAPI, msg bus.Message) bus.Response {
	planDate := msg.Parameters["plan_date"]
	feedback := msg.Parameters["feedback"]

	result := core.RejectPlan(ctx, msg.UserID, planDate, feedback)
	if !result.Success {
		return errorResponse(result)
	}
	return bus.Response{Content: "Plan rejected; a fresh plan has been generated.", ResponseType: bus.ResponseInChannel}
}

func (p *Plugin) dispatchDecompose(ctx context.Context, core bus.CoreAPI, msg bus.Message) bus.Response {
	taskKey := msg.Parameters["arg_0"]
	targetDays := 1.0
	if v, ok := msg.Parameters["target_days"]; ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			targetDays = parsed
		}
	}

	result := core.DecomposeTask(ctx, msg.UserID, taskKey, targetDays)
	if !result.Success {
		return errorResponse(result)
	}
	return bus.Response{Content: "Task decomposed.", ResponseType: bus.ResponseInChannel, Metadata: result.Data}
}

func (p *Plugin) dispatchStatus(ctx context.Context, core bus.CoreAPI, msg bus.Message) bus.Response {
	var planDate *string
	if v, ok := msg.Parameters["plan_date"]; ok {
		planDate = &v
	}

	result := core.GetStatus(ctx, msg.UserID, planDate)
	if !result.Success {
		return errorResponse(result)
	}
	if status, ok := result.Data["status"].(string); ok && status == "not_found" {
		return ephemeral("No status found for that date.")
	}
	return bus.Response{Content: "Status retrieved.", ResponseType: bus.ResponseEphemeral, Metadata: result.Data}
}

func (p *Plugin) dispatchSettings(ctx context.Context, core bus.CoreAPI, msg bus.Message) bus.Response {
	settings := make(map[string]interface{}, len(msg.Parameters))
	for k, v := range msg.Parameters {
		settings[k] = v
	}

	result := core.ConfigureSettings(ctx, msg.UserID, settings)
	if !result.Success {
		return errorResponse(result)
	}
	return ephemeral("Settings updated.")
}

func errorResponse(result bus.ActionResult) bus.Response {
	return ephemeral(result.Error)
}
