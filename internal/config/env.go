// Package config implements the Config Loader (§4.3): merging schema
// defaults, plugin config files, and environment variables into a
// validated PluginConfig.
package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvOrDefault returns the environment variable named key, or fallback if
// unset or empty. This generalizes the teacher's Marble/TEE-secret-store
// cascade (EnvOrSecret(m *marble.Marble, key, fallback)) to a plain
// environment cascade: this domain has no managed secret store, so the
// Marble parameter is dropped rather than stubbed (see DESIGN.md).
func EnvOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// truthy strings recognised for the `enabled` flag, case-insensitive
// (§4.3: "true/1/yes/on").
var truthyValues = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true,
}

// IsTruthy reports whether s is one of the recognised truthy strings.
func IsTruthy(s string) bool {
	return truthyValues[strings.ToLower(strings.TrimSpace(s))]
}

// EnvBool reads key as a truthy/falsy string, defaulting to fallback when unset.
func EnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	return IsTruthy(v)
}

// EnvInt reads key as an integer, defaulting to fallback when unset or unparsable.
func EnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
