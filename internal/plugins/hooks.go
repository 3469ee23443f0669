package plugins

import (
	"context"
	"os/exec"
	"time"

	"github.com/listingcore/core/internal/logger"
)

// HookTimeout is the hard ceiling on any lifecycle hook script. A hook
// that exceeds it is killed and treated as a non-zero exit.
const HookTimeout = 60 * time.Second

// ShutdownDeadline bounds how long Reload waits for the old instance's
// Shutdown to return before proceeding anyway.
const ShutdownDeadline = 5 * time.Second

// RunHook executes a lifecycle hook script (pre_load, post_load,
// pre_unload, post_unload) with a hard timeout. An empty path is a
// no-op success — hooks are optional per manifest.
func RunHook(ctx context.Context, pluginID, path string) error {
	if path == "" {
		return nil
	}

	hookCtx, cancel := context.WithTimeout(ctx, HookTimeout)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, path)
	out, err := cmd.CombinedOutput()
	log := logger.PluginManager().With().Str("plugin_id", pluginID).Str("hook", path).Logger()

	if hookCtx.Err() == context.DeadlineExceeded {
		log.Error().Msg("lifecycle hook timed out")
		return &HookError{Path: path, Output: string(out), Err: hookCtx.Err()}
	}
	if err != nil {
		log.Error().Err(err).Str("output", string(out)).Msg("lifecycle hook exited non-zero")
		return &HookError{Path: path, Output: string(out), Err: err}
	}
	return nil
}

// HookError reports a failed lifecycle hook invocation. A failed on_enable
// or on_disable hook drives the owning plugin to StateFailed; a failed
// pre_load or post_load hook keeps the plugin out of the registry, and a
// failed pre_unload hook aborts the unload.
type HookError struct {
	Path   string
	Output string
	Err    error
}

func (e *HookError) Error() string {
	return "hook " + e.Path + " failed: " + e.Err.Error()
}

func (e *HookError) Unwrap() error { return e.Err }
