// Package bus implements the Plugin Bus core: the data model shared by
// every component (§3), the Plugin Contract (§4.6), the Event Bus (§4.4),
// and the Plugin Registry (§4.7).
package bus

import "time"

// HealthState is the lifecycle state the Registry tracks per adapter.
type HealthState string

const (
	HealthHealthy   HealthState = "HEALTHY"
	HealthDegraded  HealthState = "DEGRADED"
	HealthUnhealthy HealthState = "UNHEALTHY"
	HealthStopped   HealthState = "STOPPED"
)

// ResponseType is the closed enum for Response.ResponseType.
type ResponseType string

const (
	ResponseMessage   ResponseType = "message"
	ResponseEphemeral ResponseType = "ephemeral"
	ResponseModal     ResponseType = "modal"
	ResponseInChannel ResponseType = "in_channel"
	ResponseError     ResponseType = "error"
)

// EventType is the closed enum for core → plugin events.
type EventType string

const (
	EventPlanGenerated   EventType = "plan_generated"
	EventTaskBlocked     EventType = "task_blocked"
	EventApprovalTimeout EventType = "approval_timeout"
	EventPlanApproved    EventType = "plan_approved"
	EventPlanRejected    EventType = "plan_rejected"
	EventTaskCompleted   EventType = "task_completed"
)

// Installation is the identity of one workspace for one plugin (§3).
// AccessToken/RefreshToken hold ciphertext at rest; the Store decrypts on
// return so callers never see ciphertext (§4.2).
type Installation struct {
	ID           int64
	PluginName   string
	ChannelID    string
	AccessToken  string
	RefreshToken string
	Metadata     map[string]interface{}
	InstalledAt  time.Time
	LastActive   time.Time
	IsActive     bool
}

// PluginConfig is what the bus hands an adapter at construction (§3).
type PluginConfig struct {
	PluginName    string
	PluginVersion string
	Enabled       bool
	Config        map[string]interface{}
}

// Message is an inbound, channel-agnostic event (§3).
type Message struct {
	ChannelID  string
	UserID     string
	Content    string
	Command    string
	Parameters map[string]string
	Metadata   map[string]interface{}
	ThreadID   string
}

// Action describes one outbound interactive button (§4.10 block formatter).
type Action struct {
	ID    string
	Label string
	Style string // "primary", "danger", or "" for default
	Value string
}

// Response is an outbound, channel-agnostic reply (§3).
type Response struct {
	Content      string
	ResponseType ResponseType
	Attachments  []map[string]interface{}
	Actions      []Action
	Metadata     map[string]interface{}
}

// Event is a core → plugin notification (§3).
type Event struct {
	EventType EventType
	EventData map[string]interface{}
	Timestamp time.Time
	Source    string
}

// ActionResult is the return shape of every Core Actions API call (§3).
type ActionResult struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorCode string                 `json:"error_code,omitempty"`
}

// Ok builds a successful ActionResult.
func Ok(data map[string]interface{}) ActionResult {
	return ActionResult{Success: true, Data: data}
}

// Fail builds a failed ActionResult from a stable error code and a
// user-safe message.
func Fail(code, message string) ActionResult {
	return ActionResult{Success: false, Error: message, ErrorCode: code}
}
