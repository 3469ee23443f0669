// Package events publishes plugin lifecycle events over NATS core subjects.
//
// These are control-plane notifications (a plugin was loaded, enabled,
// disabled, reloaded, or failed) — distinct from the data-plane listing
// events that flow through pkg/queue. Consumers are observability tooling
// and other core instances in a multi-process deployment, not plugins
// themselves.
package events

import (
	"time"
)

// PluginLoadedEvent is published when the manager finishes loading a
// plugin's manifest and instantiating its implementation.
type PluginLoadedEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	PluginID  string    `json:"plugin_id"`
	Kind      string    `json:"kind"`
	Version   string    `json:"version"`
}

// PluginEnabledEvent is published when a plugin transitions to Enabled.
type PluginEnabledEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	PluginID  string    `json:"plugin_id"`
}

// PluginDisabledEvent is published when a plugin transitions to Disabled.
type PluginDisabledEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	PluginID  string    `json:"plugin_id"`
}

// PluginReloadedEvent is published after a successful hot-reload.
type PluginReloadedEvent struct {
	EventID    string    `json:"event_id"`
	Timestamp  time.Time `json:"timestamp"`
	PluginID   string    `json:"plugin_id"`
	OldVersion string    `json:"old_version"`
	NewVersion string    `json:"new_version"`
}

// PluginFailedEvent is published when a plugin transitions to Failed.
type PluginFailedEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	PluginID  string    `json:"plugin_id"`
	Reason    string    `json:"reason"`
}

// Plugin state constants, mirroring internal/plugins.State.
const (
	StateRegistered = "registered"
	StateConfigured = "configured"
	StateEnabled    = "enabled"
	StateDisabled   = "disabled"
	StateFailed     = "failed"
)
