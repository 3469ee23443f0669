package plugins

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/listingcore/core/internal/logger"
	"github.com/listingcore/core/pkg/manifest"
)

// HealthMonitor runs each enabled plugin's optional health probe
// (manifest's health.endpoint/interval/timeout/retries) as named jobs on
// a single shared cron.Cron, one entry per plugin id so a probe can be
// replaced or removed when its plugin is reloaded or disabled.
type HealthMonitor struct {
	cron   *cron.Cron
	client *http.Client

	mu      sync.Mutex
	entries map[string]cron.EntryID
	status  map[string]*healthState
}

type healthState struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastCheck           time.Time
	lastErr             error
}

// NewHealthMonitor constructs a HealthMonitor with its own running cron
// instance. Call Stop on shutdown.
func NewHealthMonitor() *HealthMonitor {
	c := cron.New()
	c.Start()
	return &HealthMonitor{
		cron:    c,
		client:  &http.Client{},
		entries: make(map[string]cron.EntryID),
		status:  make(map[string]*healthState),
	}
}

// Stop stops the underlying cron scheduler; no further probes run after
// this returns.
func (h *HealthMonitor) Stop() {
	h.cron.Stop()
}

// Watch schedules m's health probe, if it declares one. A manifest with
// no health block is skipped silently, one with an unparsable interval is
// skipped with a logged warning — health polling is an optional
// capability, not a load-bearing one.
func (h *HealthMonitor) Watch(m *manifest.Manifest) {
	if m.Health == nil || m.Health.Endpoint == "" {
		return
	}
	spec, err := cronSpecForInterval(m.Health.Interval)
	if err != nil {
		logger.PluginManager().Warn().Str("plugin_id", m.ID).Err(err).Msg("health.interval is not a usable schedule, skipping health polling")
		return
	}
	timeout, err := time.ParseDuration(m.Health.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 5 * time.Second
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.entries[m.ID]; ok {
		h.cron.Remove(existing)
	}
	st := &healthState{}
	h.status[m.ID] = st

	id, err := h.cron.AddFunc(spec, h.probe(m.ID, m.Health.Endpoint, timeout, m.Health.Retries, st))
	if err != nil {
		logger.PluginManager().Warn().Str("plugin_id", m.ID).Err(err).Msg("failed to schedule health probe")
		return
	}
	h.entries[m.ID] = id
}

// Forget stops polling id's health endpoint, called on disable/unload/reload.
func (h *HealthMonitor) Forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.entries[id]; ok {
		h.cron.Remove(entry)
		delete(h.entries, id)
	}
	delete(h.status, id)
}

// Status reports whether id's last probe succeeded and its consecutive
// failure count, for the Manager's health view. Returns ok=false if id
// has no scheduled probe.
func (h *HealthMonitor) Status(id string) (consecutiveFailures int, lastErr error, ok bool) {
	h.mu.Lock()
	st, exists := h.status[id]
	h.mu.Unlock()
	if !exists {
		return 0, nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.consecutiveFailures, st.lastErr, true
}

func (h *HealthMonitor) probe(id, endpoint string, timeout time.Duration, retries int, st *healthState) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				logger.PluginManager().Error().Str("plugin_id", id).Interface("panic", r).Msg("health probe panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err == nil {
			resp, reqErr := h.client.Do(req)
			err = reqErr
			if resp != nil {
				resp.Body.Close()
				if resp.StatusCode >= 400 {
					err = fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
				}
			}
		}

		st.mu.Lock()
		defer st.mu.Unlock()
		st.lastCheck = time.Now()
		if err != nil {
			st.consecutiveFailures++
			st.lastErr = err
			if retries > 0 && st.consecutiveFailures > retries {
				logger.PluginManager().Warn().Str("plugin_id", id).Int("consecutive_failures", st.consecutiveFailures).Err(err).Msg("plugin health probe failing past retry budget")
			}
			return
		}
		st.consecutiveFailures = 0
		st.lastErr = nil
	}
}

// cronSpecForInterval turns a duration string ("30s", "1m") into a cron
// spec cron.Cron accepts; robfig/cron v3 supports "@every <duration>"
// directly, so this is mostly validation.
func cronSpecForInterval(interval string) (string, error) {
	if interval == "" {
		return "", fmt.Errorf("empty interval")
	}
	d, err := time.ParseDuration(interval)
	if err != nil {
		return "", err
	}
	if d <= 0 {
		return "", fmt.Errorf("non-positive interval %q", interval)
	}
	return "@every " + d.String(), nil
}
