// Package plugins implements the plugin manager: discovery, loading,
// dependency-aware batch load, lifecycle state machine, hot reload, and
// configuration binding. See manager.go for the state machine and
// registry.go for the built-in factory registry. The five plugin kinds
// (source, processing, detection, search, display) are declared in a
// plugin.yaml manifest per plugin directory.
package plugins

import (
	"context"

	"github.com/listingcore/core/pkg/manifest"
	"github.com/listingcore/core/pkg/model"
	"github.com/listingcore/core/pkg/scoring"
)

// Plugin is the contract every plugin kind satisfies, regardless of
// manifest.Kind. Kind-specific behavior is exposed through type
// assertions to the narrower interfaces below.
type Plugin interface {
	// ID returns the plugin's manifest id.
	ID() string

	// Configure binds the merged configuration (env > config file >
	// manifest defaults) into the plugin before it can be enabled.
	Configure(ctx context.Context, config map[string]interface{}) error

	// Shutdown releases any resources the plugin holds. Called with a
	// bounded deadline during reload/unload; the old instance continues
	// serving requests until Shutdown returns or the deadline expires.
	Shutdown(ctx context.Context) error
}

// ProcessingPlugin transforms a listing during the pipeline. Plugins run
// strictly in ascending Priority order, ties broken by plugin id.
type ProcessingPlugin interface {
	Plugin
	Process(ctx context.Context, listing model.Listing) (model.Listing, error)
	Priority() int
}

// DetectionPlugin analyzes a listing for fraud signals. It satisfies
// pkg/scoring.DetectionPlugin via the adapter in scoring_adapter.go.
type DetectionPlugin interface {
	Plugin
	Analyze(ctx context.Context, listing model.Listing) (scoring.PluginScore, error)
	Weight() float64
}

// SourcePlugin produces raw listing events from an external portal. The
// returned channel is a pull-based, finite sequence; the plugin must
// close it and respect ctx cancellation.
type SourcePlugin interface {
	Plugin
	Listings(ctx context.Context) (<-chan model.RawListingEvent, error)
}

// SearchPlugin indexes a processed listing into a search backend.
type SearchPlugin interface {
	Plugin
	Index(ctx context.Context, listing model.Listing) error
}

// DisplayPlugin renders a listing for a downstream presentation surface.
type DisplayPlugin interface {
	Plugin
	Render(ctx context.Context, listing model.Listing) ([]byte, error)
}

// Factory constructs a fresh Plugin instance, keyed by the manifest's
// entrypoint.module (built-in plugins) or resolved dynamically
// (out-of-tree plugins; see discovery.go).
type Factory func() Plugin

// PermanentError is how a plugin signals a non-retryable failure: the
// orchestrator routes it straight to the dead-letter queue instead of
// applying retry policy. Any other error returned by a plugin is
// treated as transient.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as a non-retryable processing failure.
func NewPermanentError(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// State is a loaded plugin's position in the lifecycle state machine.
type State string

const (
	StateRegistered State = "registered"
	StateConfigured State = "configured"
	StateEnabled    State = "enabled"
	StateDisabled   State = "disabled"
	StateFailed     State = "failed"
)

// Counters tracks per-plugin invocation statistics, updated atomically.
type Counters struct {
	Invocations int64
	Failures    int64
}

// LoadedPlugin is everything the manager tracks about one loaded plugin:
// its manifest, its live instance, its lifecycle state, and its
// counters. At most one LoadedPlugin is live per manifest id; Reload
// swaps Instance atomically under the manager's write lock.
type LoadedPlugin struct {
	Manifest   *manifest.Manifest
	Instance   Plugin
	State      State
	FailReason string
	Counters   *Counters
}
