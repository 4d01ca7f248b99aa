package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratecode/triage-sub002/internal/logging"
)

type fakeCore struct{}

func (fakeCore) GeneratePlan(ctx context.Context, userID string, planDate *string, closureRate *float64) ActionResult {
	return ActionResult{Success: true}
}
func (fakeCore) ApprovePlan(ctx context.Context, userID, planDate string, approved bool, feedback *string) ActionResult {
	return ActionResult{Success: true}
}
func (fakeCore) RejectPlan(ctx context.Context, userID, planDate, feedback string) ActionResult {
	return ActionResult{Success: true}
}
func (fakeCore) DecomposeTask(ctx context.Context, userID, taskKey string, targetDays float64) ActionResult {
	return ActionResult{Success: true}
}
func (fakeCore) GetStatus(ctx context.Context, userID string, planDate *string) ActionResult {
	return ActionResult{Success: true}
}
func (fakeCore) ConfigureSettings(ctx context.Context, userID string, settings map[string]interface{}) ActionResult {
	return ActionResult{Success: true}
}

type fakePlugin struct {
	mu          sync.Mutex
	name        string
	health      HealthState
	panicOnMsg  bool
	errOnMsg    bool
	eventsSeen  []EventType
	initErr     error
	startErr    error
}

func (p *fakePlugin) Name() string                  { return p.name }
func (p *fakePlugin) Version() string                { return "0.0.1" }
func (p *fakePlugin) ConfigSchema() ConfigSchema     { return ConfigSchema{} }

func (p *fakePlugin) Initialize(ctx context.Context, config PluginConfig, core CoreAPI) error {
	return p.initErr
}
func (p *fakePlugin) Start(ctx context.Context) error { return p.startErr }
func (p *fakePlugin) Stop(ctx context.Context) error  { return nil }

func (p *fakePlugin) HealthCheck(ctx context.Context) HealthState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

func (p *fakePlugin) HandleMessage(ctx context.Context, msg Message) (Response, error) {
	if p.panicOnMsg {
		panic("boom")
	}
	if p.errOnMsg {
		return Response{}, errors.New("adapter failure")
	}
	return Response{Content: "ok", ResponseType: ResponseInChannel}, nil
}

func (p *fakePlugin) SendMessage(ctx context.Context, channelID, userID string, resp Response) bool {
	return true
}

func (p *fakePlugin) HandleEvent(ctx context.Context, eventType EventType, eventData map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventsSeen = append(p.eventsSeen, eventType)
	return nil
}

func registerFake(t *testing.T, name string, plugin *fakePlugin) {
	t.Helper()
	Register(name, func() Plugin { return plugin })
}

func TestRegistryLoadAndRouteHappyPath(t *testing.T) {
	plugin := &fakePlugin{name: "fake-happy", health: HealthHealthy}
	registerFake(t, "fake-happy", plugin)

	r := NewRegistry(logging.Default())
	require.True(t, r.Load(context.Background(), "fake-happy", PluginConfig{PluginName: "fake-happy", Enabled: true}, fakeCore{}))

	state, ok := r.Health("fake-happy")
	require.True(t, ok)
	assert.Equal(t, HealthHealthy, state)

	resp := r.RouteMessage(context.Background(), "fake-happy", Message{})
	assert.Equal(t, "ok", resp.Content)
}

func TestRegistryRouteMessageUnknownChannel(t *testing.T) {
	r := NewRegistry(logging.Default())
	resp := r.RouteMessage(context.Background(), "does-not-exist", Message{})
	assert.Equal(t, ResponseError, resp.ResponseType)
}

func TestRegistryRouteMessageRecoversFromPanic(t *testing.T) {
	plugin := &fakePlugin{name: "fake-panic", health: HealthHealthy, panicOnMsg: true}
	registerFake(t, "fake-panic", plugin)

	r := NewRegistry(logging.Default())
	require.True(t, r.Load(context.Background(), "fake-panic", PluginConfig{PluginName: "fake-panic", Enabled: true}, fakeCore{}))

	resp := r.RouteMessage(context.Background(), "fake-panic", Message{})
	assert.Equal(t, ResponseError, resp.ResponseType)

	state, _ := r.Health("fake-panic")
	assert.Equal(t, HealthDegraded, state)
}

func TestRegistryRouteMessageDegradesOnError(t *testing.T) {
	plugin := &fakePlugin{name: "fake-err", health: HealthHealthy, errOnMsg: true}
	registerFake(t, "fake-err", plugin)

	r := NewRegistry(logging.Default())
	require.True(t, r.Load(context.Background(), "fake-err", PluginConfig{PluginName: "fake-err", Enabled: true}, fakeCore{}))

	resp := r.RouteMessage(context.Background(), "fake-err", Message{})
	assert.Equal(t, ResponseError, resp.ResponseType)

	state, _ := r.Health("fake-err")
	assert.Equal(t, HealthDegraded, state)
}

func TestRegistryRouteMessageUnhealthyAdapterRejected(t *testing.T) {
	plugin := &fakePlugin{name: "fake-unhealthy", health: HealthUnhealthy}
	registerFake(t, "fake-unhealthy", plugin)

	r := NewRegistry(logging.Default())
	require.True(t, r.Load(context.Background(), "fake-unhealthy", PluginConfig{PluginName: "fake-unhealthy", Enabled: true}, fakeCore{}))
	// Load always marks HEALTHY regardless of the plugin's own HealthCheck;
	// force the Registry's owned state down to simulate a prior demotion.
	r.setHealth("fake-unhealthy", HealthUnhealthy)

	resp := r.RouteMessage(context.Background(), "fake-unhealthy", Message{})
	assert.Equal(t, ResponseError, resp.ResponseType)
	assert.Equal(t, "Service temporarily unavailable", resp.Content)
}

func TestRegistryBroadcastEventReachesAllAdapters(t *testing.T) {
	p1 := &fakePlugin{name: "fake-b1", health: HealthHealthy}
	p2 := &fakePlugin{name: "fake-b2", health: HealthHealthy}
	registerFake(t, "fake-b1", p1)
	registerFake(t, "fake-b2", p2)

	r := NewRegistry(logging.Default())
	require.True(t, r.Load(context.Background(), "fake-b1", PluginConfig{PluginName: "fake-b1", Enabled: true}, fakeCore{}))
	require.True(t, r.Load(context.Background(), "fake-b2", PluginConfig{PluginName: "fake-b2", Enabled: true}, fakeCore{}))

	r.BroadcastEvent(context.Background(), EventType("task_completed"), map[string]interface{}{"key": "t1"})

	assert.Equal(t, []EventType{"task_completed"}, p1.eventsSeen)
	assert.Equal(t, []EventType{"task_completed"}, p2.eventsSeen)
}

func TestRegistryHealthCheckAllRestoresDegraded(t *testing.T) {
	plugin := &fakePlugin{name: "fake-recover", health: HealthHealthy, errOnMsg: true}
	registerFake(t, "fake-recover", plugin)

	r := NewRegistry(logging.Default())
	require.True(t, r.Load(context.Background(), "fake-recover", PluginConfig{PluginName: "fake-recover", Enabled: true}, fakeCore{}))

	r.RouteMessage(context.Background(), "fake-recover", Message{})
	state, _ := r.Health("fake-recover")
	require.Equal(t, HealthDegraded, state)

	plugin.mu.Lock()
	plugin.health = HealthHealthy
	plugin.mu.Unlock()

	snapshot := r.HealthCheckAll(context.Background())
	assert.Equal(t, HealthHealthy, snapshot["fake-recover"])
}

func TestLoadWithAutoConfigDisabledState(t *testing.T) {
	plugin := &fakePlugin{name: "fake-autoconf-disabled", health: HealthHealthy}
	registerFake(t, "fake-autoconf-disabled", plugin)

	r := NewRegistry(logging.Default())
	result := r.LoadWithAutoConfig(context.Background(), "fake-autoconf-disabled", fakeCore{},
		func(ctx context.Context, name string, schema ConfigSchema) (PluginConfig, error) {
			return PluginConfig{PluginName: name, Enabled: false}, nil
		})
	assert.Equal(t, LoadStateDisabled, result.State)
	_, ok := r.Health("fake-autoconf-disabled")
	assert.False(t, ok)
}

func TestLoadWithAutoConfigUnknownPlugin(t *testing.T) {
	r := NewRegistry(logging.Default())
	result := r.LoadWithAutoConfig(context.Background(), "no-such-plugin-registered", fakeCore{},
		func(ctx context.Context, name string, schema ConfigSchema) (PluginConfig, error) {
			return PluginConfig{}, nil
		})
	assert.Equal(t, LoadStateError, result.State)
	assert.Error(t, result.Error)
}
