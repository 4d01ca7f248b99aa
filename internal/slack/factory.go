package slack

import (
	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/logging"
)

// Factory returns a bus.Factory that constructs fresh Slack Plugin
// instances bound to installs and logger. Registered from cmd/gateway's
// wiring rather than this package's own init(), since a Factory takes no
// arguments but every adapter still needs its concrete collaborators
// (Installation Store, Logger) injected — the compile-time registration
// table (§4.7) still replaces the source's reflective discovery; only the
// call site of Register moves to where those collaborators are
// constructed.
func Factory(installs InstallationLookup, sender MessageSender, logger *logging.Logger) bus.Factory {
	return func() bus.Plugin {
		return New(installs, sender, logger)
	}
}
