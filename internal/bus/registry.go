package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/stratecode/triage-sub002/internal/logging"
)

// adapterEntry pairs a loaded Plugin instance with the health state the
// Registry exclusively owns (§3: "Registry owns adapter instances and
// their health state").
type adapterEntry struct {
	plugin Plugin
	health HealthState
}

// Registry is the heart of the Plugin Bus (§4.7): discovery, construction,
// lifecycle, routing, broadcast, and health tracking for every loaded
// adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*adapterEntry
	logger   *logging.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{adapters: make(map[string]*adapterEntry), logger: logger}
}

// Load instantiates name from the compile-time factory table, verifies the
// resulting instance satisfies the Plugin contract by construction (Go's
// interface system performs this check at compile time for every adapter
// package, replacing the source's runtime capability probe), initializes
// it, and records it as HEALTHY. Every failure is logged with the plugin
// name and returns false without affecting other plugins.
func (r *Registry) Load(ctx context.Context, name string, config PluginConfig, core CoreAPI) bool {
	factory, ok := Factories()[name]
	if !ok {
		r.logger.WithFields(map[string]interface{}{"plugin": name}).
			Warn("plugin load failed: no factory registered")
		return false
	}

	plugin := factory()
	if err := plugin.Initialize(ctx, config, core); err != nil {
		r.logger.WithFields(map[string]interface{}{"plugin": name, "error": err.Error()}).
			Error("plugin initialize failed")
		return false
	}

	r.mu.Lock()
	r.adapters[name] = &adapterEntry{plugin: plugin, health: HealthHealthy}
	r.mu.Unlock()
	observeHealth(name, HealthHealthy)
	return true
}

// LoadResult is the tri-state outcome of LoadWithAutoConfig, distinguishing
// a disabled plugin from a load error (§9 Open Question resolution).
type LoadState string

const (
	LoadStateLoaded   LoadState = "loaded"
	LoadStateDisabled LoadState = "disabled"
	LoadStateError    LoadState = "error"
)

type LoadResult struct {
	State LoadState
	Error error
}

// ConfigLoaderFunc resolves a PluginConfig for name against schema, per the
// Config Loader (§4.3). Accepted here as a function value so Registry does
// not import internal/config directly, keeping the dependency direction
// flowing from config → bus rather than the reverse.
type ConfigLoaderFunc func(ctx context.Context, name string, schema ConfigSchema) (PluginConfig, error)

// LoadWithAutoConfig probes name's bare instance for its declared schema,
// runs loadConfig against it, and only proceeds to Load if the resulting
// config is enabled (§4.7).
func (r *Registry) LoadWithAutoConfig(ctx context.Context, name string, core CoreAPI, loadConfig ConfigLoaderFunc) LoadResult {
	factory, ok := Factories()[name]
	if !ok {
		return LoadResult{State: LoadStateError, Error: fmt.Errorf("no factory registered for plugin %q", name)}
	}

	probe := factory()
	schema := probe.ConfigSchema()

	config, err := loadConfig(ctx, name, schema)
	if err != nil {
		return LoadResult{State: LoadStateError, Error: err}
	}
	if !config.Enabled {
		return LoadResult{State: LoadStateDisabled}
	}

	if !r.Load(ctx, name, config, core) {
		return LoadResult{State: LoadStateError, Error: fmt.Errorf("plugin %q failed to load", name)}
	}
	return LoadResult{State: LoadStateLoaded}
}

// StartAll starts every loaded plugin. A plugin whose Start fails
// transitions to UNHEALTHY; the others continue starting.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	r.mu.RUnlock()

	for _, name := range names {
		r.mu.RLock()
		entry := r.adapters[name]
		r.mu.RUnlock()
		if entry == nil {
			continue
		}
		if err := entry.plugin.Start(ctx); err != nil {
			r.logger.WithFields(map[string]interface{}{"plugin": name, "error": err.Error()}).
				Error("plugin start failed")
			r.setHealth(name, HealthUnhealthy)
		}
	}
}

// StopAll stops every loaded plugin and marks it STOPPED regardless of
// whether Stop returned an error (best-effort shutdown).
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	r.mu.RUnlock()

	for _, name := range names {
		r.mu.RLock()
		entry := r.adapters[name]
		r.mu.RUnlock()
		if entry == nil {
			continue
		}
		if err := entry.plugin.Stop(ctx); err != nil {
			r.logger.WithFields(map[string]interface{}{"plugin": name, "error": err.Error()}).
				Warn("plugin stop returned error")
		}
		r.setHealth(name, HealthStopped)
	}
}

// RouteMessage is the hot path (§4.7 Routing): look up the adapter by
// channel type, check health, invoke HandleMessage, and demote to
// DEGRADED on panic or error without ever leaking the failure detail to
// the caller.
func (r *Registry) RouteMessage(ctx context.Context, channelType string, msg Message) (resp Response) {
	r.mu.RLock()
	entry, ok := r.adapters[channelType]
	var health HealthState
	if ok {
		health = entry.health
	}
	r.mu.RUnlock()

	if !ok {
		observeRouted(channelType, "unknown_channel")
		return Response{
			Content:      fmt.Sprintf("Unknown channel type: %s", channelType),
			ResponseType: ResponseError,
		}
	}

	if health != HealthHealthy {
		observeRouted(channelType, "unavailable")
		return Response{
			Content:      "Service temporarily unavailable",
			ResponseType: ResponseError,
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(map[string]interface{}{
				"plugin": channelType,
				"panic":  fmt.Sprintf("%v", rec),
			}).Error("adapter panicked handling message")
			r.setHealth(channelType, HealthDegraded)
			observeRouted(channelType, "panic")
			resp = Response{Content: "An error occurred processing your request", ResponseType: ResponseError}
		}
	}()

	out, err := entry.plugin.HandleMessage(ctx, msg)
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"plugin": channelType,
			"error":  err.Error(),
		}).Error("adapter returned error handling message")
		r.setHealth(channelType, HealthDegraded)
		observeRouted(channelType, "error")
		return Response{Content: "An error occurred processing your request", ResponseType: ResponseError}
	}
	observeRouted(channelType, "ok")
	return out
}

// BroadcastEvent delivers an event to every loaded adapter independent of
// health state (events are informational). Per-adapter delivery is
// serialized so each adapter observes broadcasts in the order they were
// sent; adapters are invoked concurrently with one another.
func (r *Registry) BroadcastEvent(ctx context.Context, eventType EventType, eventData map[string]interface{}) {
	r.mu.RLock()
	entries := make(map[string]*adapterEntry, len(r.adapters))
	for name, e := range r.adapters {
		entries[name] = e
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for name, entry := range entries {
		wg.Add(1)
		go func(name string, entry *adapterEntry) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.WithFields(map[string]interface{}{
						"plugin": name,
						"panic":  fmt.Sprintf("%v", rec),
					}).Warn("adapter panicked handling event")
				}
			}()
			if err := entry.plugin.HandleEvent(ctx, eventType, eventData); err != nil {
				r.logger.WithFields(map[string]interface{}{
					"plugin": name,
					"error":  err.Error(),
				}).Warn("adapter returned error handling event")
			}
		}(name, entry)
	}
	wg.Wait()
}

// HealthCheckAll calls every adapter's HealthCheck and updates the
// Registry's owned health state. A DEGRADED adapter whose check now
// returns HEALTHY is restored and resumes receiving routed messages.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]HealthState {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	r.mu.RUnlock()

	snapshot := make(map[string]HealthState, len(names))
	for _, name := range names {
		state := r.healthCheckOne(ctx, name)
		snapshot[name] = state
	}
	return snapshot
}

func (r *Registry) healthCheckOne(ctx context.Context, name string) (state HealthState) {
	r.mu.RLock()
	entry := r.adapters[name]
	r.mu.RUnlock()
	if entry == nil {
		return HealthStopped
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.setHealth(name, HealthUnhealthy)
			state = HealthUnhealthy
		}
	}()

	state = entry.plugin.HealthCheck(ctx)
	r.setHealth(name, state)
	return state
}

func (r *Registry) setHealth(name string, state HealthState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.adapters[name]; ok {
		entry.health = state
		observeHealth(name, state)
	}
}

// Health returns the current health state for name, and whether it is loaded.
func (r *Registry) Health(name string) (HealthState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.adapters[name]
	if !ok {
		return "", false
	}
	return entry.health, true
}

// Plugin returns the loaded adapter instance for name, or nil.
func (r *Registry) Plugin(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.adapters[name]
	if !ok {
		return nil
	}
	return entry.plugin
}

// Names returns every currently loaded adapter name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
