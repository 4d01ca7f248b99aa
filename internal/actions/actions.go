// Package actions implements the Core Actions API (§4.5): the stable,
// versioned façade the plugins call into the triage engine. Every entry
// point validates its input before any side effect and returns a
// bus.ActionResult rather than raising for expected failures.
package actions

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/errors"
	"github.com/stratecode/triage-sub002/internal/logging"
	"github.com/stratecode/triage-sub002/internal/triage"
)

// API is the concrete, triage.Engine-backed implementation of bus.CoreAPI.
type API struct {
	engine triage.Engine
	logger *logging.Logger
}

// New creates an API backed by engine.
func New(engine triage.Engine, logger *logging.Logger) *API {
	return &API{engine: engine, logger: logger}
}

var adminBlockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d-([01]\d|2[0-3]):[0-5]\d$`)

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// GeneratePlan implements `generate_plan(user_id, plan_date?, closure_rate?)` (§4.5).
func (a *API) GeneratePlan(ctx context.Context, userID string, planDate *string, closureRate *float64) bus.ActionResult {
	if a.engine == nil {
		return fail(errors.NotInitialized())
	}
	if strings.TrimSpace(userID) == "" {
		return fail(errors.InvalidUserID("must not be empty"))
	}

	date := dateOnly(time.Now())
	if planDate != nil && *planDate != "" {
		parsed, err := parseDate(*planDate)
		if err != nil {
			return fail(errors.InvalidDate(fmt.Sprintf("%q is not a valid date", *planDate)))
		}
		date = parsed
	}

	if closureRate != nil {
		if math.IsNaN(*closureRate) || math.IsInf(*closureRate, 0) || *closureRate < 0.0 || *closureRate > 1.0 {
			return fail(errors.InvalidClosureRate("must be a finite number in [0.0, 1.0]"))
		}
	}

	plan, err := a.engine.GeneratePlan(ctx, userID, date, closureRate)
	if err != nil {
		a.logPlugin(ctx, "generate_plan failed", err)
		return fail(errors.PlanGenerationFailed(err))
	}

	return bus.Ok(map[string]interface{}{
		"plan":          plan,
		"rendered_text": plan.RenderedText,
	})
}

// ApprovePlan implements `approve_plan(user_id, plan_date, approved, feedback?)` (§4.5).
func (a *API) ApprovePlan(ctx context.Context, userID, planDate string, approved bool, feedback *string) bus.ActionResult {
	if a.engine == nil {
		return fail(errors.NotInitialized())
	}
	if strings.TrimSpace(userID) == "" {
		return fail(errors.InvalidUserID("must not be empty"))
	}
	date, err := parseDate(planDate)
	if err != nil {
		return fail(errors.InvalidDate(fmt.Sprintf("%q is not a valid date", planDate)))
	}

	fb := ""
	if feedback != nil {
		fb = *feedback
	}
	if err := a.engine.RecordApproval(ctx, userID, date, approved, fb); err != nil {
		a.logPlugin(ctx, "approve_plan failed", err)
		return fail(errors.ApprovalFailed(err))
	}

	result := map[string]interface{}{
		"user_id":   userID,
		"plan_date": planDate,
		"approved":  approved,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if feedback != nil {
		result["feedback"] = *feedback
	}
	return bus.Ok(result)
}

// RejectPlan implements `reject_plan(user_id, plan_date, feedback)` (§4.5).
func (a *API) RejectPlan(ctx context.Context, userID, planDate, feedback string) bus.ActionResult {
	if a.engine == nil {
		return fail(errors.NotInitialized())
	}
	if strings.TrimSpace(userID) == "" {
		return fail(errors.InvalidUserID("must not be empty"))
	}
	date, err := parseDate(planDate)
	if err != nil {
		return fail(errors.InvalidDate(fmt.Sprintf("%q is not a valid date", planDate)))
	}
	if strings.TrimSpace(feedback) == "" {
		return fail(errors.InvalidFeedback("must not be empty or whitespace"))
	}

	freshPlan, err := a.engine.RecordRejection(ctx, userID, date, feedback)
	if err != nil {
		a.logPlugin(ctx, "reject_plan failed", err)
		return fail(errors.RejectionFailed(err))
	}

	result := map[string]interface{}{
		"user_id":   userID,
		"plan_date": planDate,
		"feedback":  feedback,
	}
	if freshPlan != nil {
		result["plan"] = freshPlan
	}
	return bus.Ok(result)
}

// DecomposeTask implements `decompose_task(user_id, task_key, target_days=1.0)` (§4.5).
func (a *API) DecomposeTask(ctx context.Context, userID, taskKey string, targetDays float64) bus.ActionResult {
	if a.engine == nil {
		return fail(errors.NotInitialized())
	}
	if strings.TrimSpace(userID) == "" {
		return fail(errors.InvalidUserID("must not be empty"))
	}
	if strings.TrimSpace(taskKey) == "" {
		return fail(errors.InvalidTaskKey("must not be empty"))
	}
	if targetDays <= 0 || math.IsNaN(targetDays) || math.IsInf(targetDays, 0) {
		return fail(errors.InvalidTargetDays("must be a finite, positive number"))
	}

	subtasks, err := a.engine.Decompose(ctx, userID, taskKey, targetDays)
	if err != nil {
		a.logPlugin(ctx, "decompose_task failed", err)
		return fail(errors.DecompositionFailed(err))
	}

	return bus.Ok(map[string]interface{}{
		"task_key": taskKey,
		"subtasks": subtasks,
		"count":    len(subtasks),
	})
}

// GetStatus implements `get_status(user_id, plan_date?)` (§4.5).
func (a *API) GetStatus(ctx context.Context, userID string, planDate *string) bus.ActionResult {
	if a.engine == nil {
		return fail(errors.NotInitialized())
	}
	if strings.TrimSpace(userID) == "" {
		return fail(errors.InvalidUserID("must not be empty"))
	}

	date := dateOnly(time.Now())
	if planDate != nil && *planDate != "" {
		parsed, err := parseDate(*planDate)
		if err != nil {
			return fail(errors.InvalidDate(fmt.Sprintf("%q is not a valid date", *planDate)))
		}
		date = parsed
	}

	record, err := a.engine.ClosureRecord(ctx, userID, date)
	if err != nil {
		a.logPlugin(ctx, "get_status failed", err)
		return fail(errors.StatusFetchFailed(err))
	}
	if record == nil {
		return bus.Ok(map[string]interface{}{"status": "not_found"})
	}

	return bus.Ok(map[string]interface{}{
		"total_priorities":     record.TotalPriorities,
		"completed_priorities": record.CompletedPriorities,
		"closure_rate":         record.ClosureRate,
		"incomplete_tasks":     record.IncompleteTasks,
	})
}

var recognisedSettings = map[string]string{
	"notification_enabled":  "bool",
	"approval_timeout_hours": "positive_number",
	"admin_block_time":      "time_range",
	"max_priorities":        "int_1_5",
}

// ConfigureSettings implements `configure_settings(user_id, settings)` (§4.5),
// validating only the recognised keys; unknown keys are silently dropped.
func (a *API) ConfigureSettings(ctx context.Context, userID string, settings map[string]interface{}) bus.ActionResult {
	if a.engine == nil {
		return fail(errors.NotInitialized())
	}
	if strings.TrimSpace(userID) == "" {
		return fail(errors.InvalidUserID("must not be empty"))
	}

	cleaned := make(map[string]interface{})
	for key, value := range settings {
		kind, known := recognisedSettings[key]
		if !known {
			continue
		}
		if err := validateSetting(kind, value); err != nil {
			return fail(errors.InvalidSettings(fmt.Sprintf("%s: %s", key, err.Error())))
		}
		cleaned[key] = value
	}

	if err := a.engine.UpdateSettings(ctx, userID, cleaned); err != nil {
		a.logPlugin(ctx, "configure_settings failed", err)
		return fail(errors.SettingsUpdateFailed(err))
	}

	return bus.Ok(map[string]interface{}{
		"user_id":    userID,
		"settings":   cleaned,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func validateSetting(kind string, value interface{}) error {
	switch kind {
	case "bool":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("must be a boolean")
		}
	case "positive_number":
		n, err := toFloat(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("must be a positive number")
		}
	case "time_range":
		s, ok := value.(string)
		if !ok || !adminBlockPattern.MatchString(s) {
			return fmt.Errorf("must match HH:MM-HH:MM")
		}
	case "int_1_5":
		n, err := toFloat(value)
		if err != nil || n != math.Trunc(n) || n < 1 || n > 5 {
			return fmt.Errorf("must be an integer in [1,5]")
		}
	}
	return nil
}

func toFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("not a number")
	}
}

func (a *API) logPlugin(ctx context.Context, msg string, err error) {
	if a.logger == nil {
		return
	}
	a.logger.WithContext(ctx).WithError(err).Error(msg)
}

func fail(err *errors.ServiceError) bus.ActionResult {
	return bus.Fail(string(err.Code), err.Message)
}
