package bus

import "context"

// ConfigSchema describes an adapter's configuration shape for the Config
// Loader (§4.3): one FieldSpec per recognised key.
type ConfigSchema map[string]FieldSpec

// FieldSpec describes one configuration field.
type FieldSpec struct {
	Type     string // "string", "bool", "int", "float", "array", "object"
	Default  interface{}
	Required bool
}

// Plugin is the capability set every channel adapter must satisfy (§4.6).
// Adapters must be re-entrant in HandleMessage and HandleEvent: the
// Registry may issue concurrent calls. No method may block the Registry
// indefinitely; adapters implement cooperative cancellation via ctx.
type Plugin interface {
	// Identity
	Name() string
	Version() string
	ConfigSchema() ConfigSchema

	// Lifecycle
	Initialize(ctx context.Context, config PluginConfig, core CoreAPI) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck(ctx context.Context) HealthState

	// Inbound
	HandleMessage(ctx context.Context, msg Message) (Response, error)

	// Outbound
	SendMessage(ctx context.Context, channelID, userID string, resp Response) bool

	// Events
	HandleEvent(ctx context.Context, eventType EventType, eventData map[string]interface{}) error
}

// CoreAPI is the narrow view of the Core Actions API an adapter is handed
// at Initialize — adapters hold a borrowed reference, never own it.
type CoreAPI interface {
	GeneratePlan(ctx context.Context, userID string, planDate *string, closureRate *float64) ActionResult
	ApprovePlan(ctx context.Context, userID, planDate string, approved bool, feedback *string) ActionResult
	RejectPlan(ctx context.Context, userID, planDate, feedback string) ActionResult
	DecomposeTask(ctx context.Context, userID, taskKey string, targetDays float64) ActionResult
	GetStatus(ctx context.Context, userID string, planDate *string) ActionResult
	ConfigureSettings(ctx context.Context, userID string, settings map[string]interface{}) ActionResult
}

// Factory constructs a fresh, uninitialized Plugin instance. Adapter
// packages register one via Register in their init(), replacing the
// source's reflective module/class discovery with a compile-time table
// (SPEC_FULL §4.7).
type Factory func() Plugin
