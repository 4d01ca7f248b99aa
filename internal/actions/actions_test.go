package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratecode/triage-sub002/internal/logging"
	"github.com/stratecode/triage-sub002/internal/triage"
)

func newTestAPI() *API {
	eng := triage.NewMemoryEngine()
	eng.SeedTasks("u1", []triage.Task{
		{Key: "t1", Title: "Fix bug", Class: triage.ClassPriorityEligible, RankScore: 5},
	})
	return New(eng, logging.Default())
}

func TestGeneratePlanValidation(t *testing.T) {
	api := newTestAPI()
	ctx := context.Background()

	r := api.GeneratePlan(ctx, "", nil, nil)
	assert.False(t, r.Success)
	assert.Equal(t, "INVALID_USER_ID", r.ErrorCode)

	badDate := "not-a-date"
	r = api.GeneratePlan(ctx, "u1", &badDate, nil)
	assert.False(t, r.Success)
	assert.Equal(t, "INVALID_DATE", r.ErrorCode)

	badRate := 1.5
	r = api.GeneratePlan(ctx, "u1", nil, &badRate)
	assert.False(t, r.Success)
	assert.Equal(t, "INVALID_CLOSURE_RATE", r.ErrorCode)

	r = api.GeneratePlan(ctx, "u1", nil, nil)
	assert.True(t, r.Success)
	assert.NotNil(t, r.Data["plan"])
}

func TestApprovePlanValidation(t *testing.T) {
	api := newTestAPI()
	ctx := context.Background()

	r := api.ApprovePlan(ctx, "u1", "bad-date", true, nil)
	assert.False(t, r.Success)
	assert.Equal(t, "INVALID_DATE", r.ErrorCode)

	r = api.ApprovePlan(ctx, "u1", "2026-07-30", true, nil)
	assert.True(t, r.Success)
	assert.Equal(t, true, r.Data["approved"])
}

func TestRejectPlanRequiresFeedback(t *testing.T) {
	api := newTestAPI()
	ctx := context.Background()

	r := api.RejectPlan(ctx, "u1", "2026-07-30", "   ")
	assert.False(t, r.Success)
	assert.Equal(t, "INVALID_FEEDBACK", r.ErrorCode)

	r = api.RejectPlan(ctx, "u1", "2026-07-30", "too much work")
	assert.True(t, r.Success)
}

func TestDecomposeTaskValidation(t *testing.T) {
	api := newTestAPI()
	ctx := context.Background()

	r := api.DecomposeTask(ctx, "u1", "", 1.0)
	assert.False(t, r.Success)
	assert.Equal(t, "INVALID_TASK_KEY", r.ErrorCode)

	r = api.DecomposeTask(ctx, "u1", "t1", -1)
	assert.False(t, r.Success)
	assert.Equal(t, "INVALID_TARGET_DAYS", r.ErrorCode)

	r = api.DecomposeTask(ctx, "u1", "missing", 1.0)
	assert.False(t, r.Success)
	assert.Equal(t, "DECOMPOSITION_FAILED", r.ErrorCode)
}

func TestGetStatusNotFound(t *testing.T) {
	api := newTestAPI()
	r := api.GetStatus(context.Background(), "u1", nil)
	require.True(t, r.Success)
	assert.Equal(t, "not_found", r.Data["status"])
}

func TestConfigureSettingsValidatesKnownKeys(t *testing.T) {
	api := newTestAPI()
	ctx := context.Background()

	r := api.ConfigureSettings(ctx, "u1", map[string]interface{}{
		"max_priorities": 7,
	})
	assert.False(t, r.Success)
	assert.Equal(t, "INVALID_SETTINGS", r.ErrorCode)

	r = api.ConfigureSettings(ctx, "u1", map[string]interface{}{
		"max_priorities":        3,
		"notification_enabled":  true,
		"admin_block_time":      "09:00-10:30",
		"unknown_key":           "dropped",
	})
	require.True(t, r.Success)
	settings, ok := r.Data["settings"].(map[string]interface{})
	require.True(t, ok)
	assert.NotContains(t, settings, "unknown_key")
	assert.Contains(t, settings, "max_priorities")
}

func TestNotInitializedWhenEngineNil(t *testing.T) {
	api := New(nil, logging.Default())
	r := api.GeneratePlan(context.Background(), "u1", nil, nil)
	assert.False(t, r.Success)
	assert.Equal(t, "NOT_INITIALIZED", r.ErrorCode)
}
