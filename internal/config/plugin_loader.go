package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/errors"
)

// Loader merges schema defaults, a plugin config file, and environment
// variables into a validated bus.PluginConfig (§4.3).
type Loader struct {
	// ConfigDir is searched for {plugin}.yaml|yml|toml.
	ConfigDir string
}

// NewLoader creates a Loader rooted at configDir.
func NewLoader(configDir string) *Loader {
	return &Loader{ConfigDir: configDir}
}

// Load merges, in increasing precedence, schema defaults, the plugin's
// config file (if present), and PLUGIN_{NAME}_* environment variables,
// then validates the result against schema.
func (l *Loader) Load(pluginName string, schema bus.ConfigSchema) (bus.PluginConfig, error) {
	merged := l.schemaDefaults(schema)

	if fileValues, err := l.loadFile(pluginName); err != nil {
		return bus.PluginConfig{}, err
	} else {
		for k, v := range fileValues {
			merged[k] = v
		}
	}

	for k, v := range l.envValues(pluginName, schema) {
		merged[k] = v
	}

	enabled := true
	if raw, ok := merged["enabled"]; ok {
		enabled = coerceBool(raw)
		delete(merged, "enabled")
	}

	if err := validate(pluginName, merged, schema); err != nil {
		return bus.PluginConfig{}, err
	}

	return bus.PluginConfig{
		PluginName: pluginName,
		Enabled:    enabled,
		Config:     merged,
	}, nil
}

func (l *Loader) schemaDefaults(schema bus.ConfigSchema) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for key, spec := range schema {
		if spec.Default != nil {
			out[key] = spec.Default
		}
	}
	return out
}

// loadFile tries {plugin}.yaml, {plugin}.yml, {plugin}.toml in that order;
// the first file found wins (§4.3).
func (l *Loader) loadFile(pluginName string) (map[string]interface{}, error) {
	if l.ConfigDir == "" {
		return nil, nil
	}

	candidates := []string{
		pluginName + ".yaml",
		pluginName + ".yml",
		pluginName + ".toml",
	}

	for _, name := range candidates {
		path := filepath.Join(l.ConfigDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.ConfigurationError(pluginName, path, "unreadable config file")
		}

		out := make(map[string]interface{})
		if strings.HasSuffix(name, ".toml") {
			if err := toml.Unmarshal(data, &out); err != nil {
				return nil, errors.ConfigurationError(pluginName, path, "invalid TOML")
			}
		} else {
			if err := yaml.Unmarshal(data, &out); err != nil {
				return nil, errors.ConfigurationError(pluginName, path, "invalid YAML")
			}
		}
		return out, nil
	}
	return nil, nil
}

// envValues reads PLUGIN_{NAME}_{KEY} variables for every key in schema
// (plus "enabled"), supporting __-nested keys and JSON-first, string-
// fallback value parsing (§4.3).
func (l *Loader) envValues(pluginName string, schema bus.ConfigSchema) map[string]interface{} {
	prefix := fmt.Sprintf("PLUGIN_%s_", strings.ToUpper(pluginName))
	out := make(map[string]interface{})

	for _, entry := range os.Environ() {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name, value := parts[0], parts[1]
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		keyPath := strings.TrimPrefix(name, prefix)
		if keyPath == "" {
			continue
		}

		segments := strings.Split(strings.ToLower(keyPath), "__")
		setNested(out, segments, parseEnvValue(value))
	}
	return out
}

func parseEnvValue(raw string) interface{} {
	var parsed interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed
	}
	return raw
}

func setNested(m map[string]interface{}, segments []string, value interface{}) {
	if len(segments) == 1 {
		m[segments[0]] = value
		return
	}
	next, ok := m[segments[0]].(map[string]interface{})
	if !ok {
		next = make(map[string]interface{})
		m[segments[0]] = next
	}
	setNested(next, segments[1:], value)
}

func coerceBool(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return IsTruthy(val)
	default:
		return false
	}
}

// validate checks merged against schema: required fields present, types
// match. The resulting ConfigurationError never includes the offending
// value, since it may be a secret (§4.3).
func validate(pluginName string, merged map[string]interface{}, schema bus.ConfigSchema) error {
	for key, spec := range schema {
		value, present := merged[key]
		if !present {
			if spec.Required {
				return errors.ConfigurationError(pluginName, key, "required field missing")
			}
			continue
		}
		if !typeMatches(spec.Type, value) {
			return errors.ConfigurationError(pluginName, key, fmt.Sprintf("expected type %s", spec.Type))
		}
	}
	return nil
}

func typeMatches(wantType string, value interface{}) bool {
	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "int":
		switch value.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case "float":
		switch value.(type) {
		case float64, int:
			return true
		}
		return false
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}
