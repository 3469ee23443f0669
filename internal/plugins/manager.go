package plugins

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/listingcore/core/internal/errors"
	"github.com/listingcore/core/internal/events"
	"github.com/listingcore/core/internal/logger"
	"github.com/listingcore/core/pkg/depgraph"
	"github.com/listingcore/core/pkg/manifest"
	"github.com/listingcore/core/pkg/semverx"
)

// CoreVersion is the runtime's own version, checked against every
// manifest's dependencies.core_version constraint at load time.
const CoreVersion = "1.0.0"

// RuntimeAPIVersion is the plugin API version this runtime speaks. A
// manifest declaring any other api_version fails to load.
const RuntimeAPIVersion = "1.0"

// LoadFailure pairs a manifest id with why it did not make it into the
// registry.
type LoadFailure struct {
	ID     string
	Reason error
}

// LoadResult is the outcome of one batch Load call.
type LoadResult struct {
	Loaded []*LoadedPlugin
	Failed []LoadFailure
}

// Manager owns the set of loaded plugins and their dependency graph. All
// exported methods are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	plugins   map[string]*LoadedPlugin
	graph     *depgraph.Graph
	readFile  func(path string) ([]byte, error)
	publisher *events.Publisher
	health    *HealthMonitor
}

// NewManager constructs an empty Manager. publisher may be nil, in which
// case lifecycle events are simply not published.
func NewManager(publisher *events.Publisher) *Manager {
	return &Manager{
		plugins:   make(map[string]*LoadedPlugin),
		graph:     &depgraph.Graph{},
		readFile:  os.ReadFile,
		publisher: publisher,
		health:    NewHealthMonitor(),
	}
}

// Close stops the manager's background health polling. Safe to call once
// during process shutdown.
func (m *Manager) Close() {
	m.health.Stop()
}

// HealthStatus reports the consecutive-failure count and last error of
// id's optional health probe (manifest's health block). ok is false if
// id declares no health endpoint or is not loaded.
func (m *Manager) HealthStatus(id string) (consecutiveFailures int, lastErr error, ok bool) {
	return m.health.Status(id)
}

// Load validates, instantiates, and configures a batch of manifests,
// then rebuilds the dependency graph over the union of the currently
// registered plugins and this batch. A manifest whose id is already
// registered, whose entrypoint cannot be resolved, whose configuration
// fails to bind, or whose hooks fail is reported in LoadResult.Failed
// and excluded from the registry; it does not abort the rest of the
// batch. Likewise, a manifest that fails dependency-graph validation
// (missing dependency, incompatible version, or a cycle) is dropped one
// plugin at a time until the remaining batch validates cleanly.
func (m *Manager) Load(ctx context.Context, manifests []*manifest.Manifest) LoadResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logger.PluginManager()
	pending := make(map[string]*LoadedPlugin, len(manifests))
	var failed []LoadFailure

	for _, mf := range manifests {
		if _, exists := m.plugins[mf.ID]; exists {
			failed = append(failed, LoadFailure{ID: mf.ID, Reason: fmt.Errorf("plugin %q already registered", mf.ID)})
			continue
		}
		if _, exists := pending[mf.ID]; exists {
			failed = append(failed, LoadFailure{ID: mf.ID, Reason: fmt.Errorf("duplicate manifest id %q in batch", mf.ID)})
			continue
		}

		lp, err := m.instantiate(ctx, mf)
		if err != nil {
			failed = append(failed, LoadFailure{ID: mf.ID, Reason: err})
			continue
		}
		pending[mf.ID] = lp
	}

	loaded, depFailures := m.resolveDependencies(pending)
	failed = append(failed, depFailures...)

	for _, lp := range loaded {
		m.plugins[lp.Manifest.ID] = lp
		log.Info().Str("plugin_id", lp.Manifest.ID).Str("kind", string(lp.Manifest.Kind)).Msg("plugin loaded")
		if m.publisher != nil {
			m.publisher.PublishPluginLoaded(&events.PluginLoadedEvent{
				PluginID: lp.Manifest.ID,
				Kind:     string(lp.Manifest.Kind),
				Version:  lp.Manifest.Version,
			})
		}
	}
	for _, f := range failed {
		log.Warn().Str("plugin_id", f.ID).Err(f.Reason).Msg("plugin failed to load")
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Manifest.ID < loaded[j].Manifest.ID })
	return LoadResult{Loaded: loaded, Failed: failed}
}

// instantiate runs pre_load, resolves the entrypoint, constructs the
// instance, binds configuration, configures it, then runs post_load.
// Any failure along the way leaves no trace in the registry.
func (m *Manager) instantiate(ctx context.Context, mf *manifest.Manifest) (*LoadedPlugin, error) {
	if mf.APIVersion != RuntimeAPIVersion {
		return nil, fmt.Errorf("plugin %q declares api_version %q, runtime speaks %q", mf.ID, mf.APIVersion, RuntimeAPIVersion)
	}

	if err := RunHook(ctx, mf.ID, mf.Hooks.PreLoad); err != nil {
		return nil, err
	}

	factory, err := resolveEntrypoint(mf)
	if err != nil {
		return nil, err
	}
	instance := factory()

	cfg, err := BindConfig(mf, m.readFile)
	if err != nil {
		return nil, err
	}
	if err := instance.Configure(ctx, cfg); err != nil {
		return nil, fmt.Errorf("plugin %q: configure: %w", mf.ID, err)
	}

	if err := RunHook(ctx, mf.ID, mf.Hooks.PostLoad); err != nil {
		return nil, err
	}

	return &LoadedPlugin{
		Manifest: mf,
		Instance: instance,
		State:    StateConfigured,
		Counters: &Counters{},
	}, nil
}

// resolveDependencies builds the dependency graph over m.plugins union
// pending, evicting one offending pending plugin per validation failure
// until the graph builds cleanly or pending is exhausted. On success it
// installs the new graph as m.graph.
func (m *Manager) resolveDependencies(pending map[string]*LoadedPlugin) ([]*LoadedPlugin, []LoadFailure) {
	var failed []LoadFailure

	for id, lp := range pending {
		if lp.Manifest.Dependencies.CoreVersion == "" {
			continue
		}
		c, err := semverx.ParseConstraint(lp.Manifest.Dependencies.CoreVersion)
		if err != nil {
			delete(pending, id)
			failed = append(failed, LoadFailure{ID: id, Reason: fmt.Errorf("invalid core_version constraint: %w", err)})
			continue
		}
		coreV, _ := semverx.ParseVersion(CoreVersion)
		if !semverx.Satisfies(coreV, c) {
			delete(pending, id)
			failed = append(failed, LoadFailure{ID: id, Reason: fmt.Errorf("requires core %s, runtime is %s", lp.Manifest.Dependencies.CoreVersion, CoreVersion)})
		}
	}

	for {
		if len(pending) == 0 {
			break
		}

		nodes := map[string]semverx.Version{}
		for id, lp := range m.plugins {
			v, _ := semverx.ParseVersion(lp.Manifest.Version)
			nodes[id] = v
		}
		for id, lp := range pending {
			v, _ := semverx.ParseVersion(lp.Manifest.Version)
			nodes[id] = v
		}

		union := make(map[string]*LoadedPlugin, len(m.plugins)+len(pending))
		for id, lp := range m.plugins {
			union[id] = lp
		}
		for id, lp := range pending {
			union[id] = lp
		}
		edges, edgeErrs := buildEdges(union)
		for id, err := range edgeErrs {
			if _, isPending := pending[id]; !isPending {
				continue
			}
			delete(pending, id)
			failed = append(failed, LoadFailure{ID: id, Reason: err})
		}
		if len(pending) == 0 {
			break
		}

		g, err := depgraph.Build(nodes, edges)
		if err == nil {
			m.graph = g
			break
		}

		badID := offendingID(err, pending)
		if badID == "" {
			for id := range pending {
				failed = append(failed, LoadFailure{ID: id, Reason: err})
			}
			pending = map[string]*LoadedPlugin{}
			break
		}
		failed = append(failed, LoadFailure{ID: badID, Reason: err})
		delete(pending, badID)
	}

	loaded := make([]*LoadedPlugin, 0, len(pending))
	for _, lp := range pending {
		loaded = append(loaded, lp)
	}
	return loaded, failed
}

func buildEdges(pending map[string]*LoadedPlugin) (map[string][]depgraph.Edge, map[string]error) {
	edges := map[string][]depgraph.Edge{}
	errs := map[string]error{}
	for id, lp := range pending {
		var es []depgraph.Edge
		bad := false
		for depID, constraintStr := range lp.Manifest.Dependencies.Plugins {
			c, err := semverx.ParseConstraint(constraintStr)
			if err != nil {
				errs[id] = fmt.Errorf("invalid constraint %q on dependency %q: %w", constraintStr, depID, err)
				bad = true
				break
			}
			es = append(es, depgraph.Edge{DependencyID: depID, Constraint: c})
		}
		if bad {
			continue
		}
		if len(es) > 0 {
			edges[id] = es
		}
	}
	return edges, errs
}

// offendingID identifies which pending plugin to evict for a given
// depgraph error, so the rest of the batch can still be retried.
func offendingID(err error, pending map[string]*LoadedPlugin) string {
	switch e := err.(type) {
	case *depgraph.MissingDependencyError:
		if _, ok := pending[e.Dependent]; ok {
			return e.Dependent
		}
	case *depgraph.VersionIncompatibilityError:
		if _, ok := pending[e.Dependent]; ok {
			return e.Dependent
		}
	case *depgraph.CyclicDependencyError:
		for _, id := range e.Path {
			if _, ok := pending[id]; ok {
				return id
			}
		}
	}
	return ""
}

// Enable transitions a Configured or Disabled plugin to Enabled, running
// its on_enable hook. A hook failure drives the plugin to Failed instead.
func (m *Manager) Enable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lp, ok := m.plugins[id]
	if !ok {
		return errors.PluginNotFound(id)
	}
	if lp.State != StateConfigured && lp.State != StateDisabled {
		return errors.Conflict(fmt.Sprintf("plugin %s cannot be enabled from state %s", id, lp.State))
	}

	if err := RunHook(ctx, id, lp.Manifest.Hooks.OnEnable); err != nil {
		lp.State = StateFailed
		lp.FailReason = err.Error()
		m.publishFailed(id, err)
		return err
	}

	lp.State = StateEnabled
	logger.PluginManager().Info().Str("plugin_id", id).Msg("plugin enabled")
	m.health.Watch(lp.Manifest)
	if m.publisher != nil {
		m.publisher.PublishPluginEnabled(&events.PluginEnabledEvent{PluginID: id})
	}
	return nil
}

// Disable transitions an Enabled plugin to Disabled, running its
// on_disable hook. The instance is kept alive, just excluded from the
// processing/detection fan-out.
func (m *Manager) Disable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lp, ok := m.plugins[id]
	if !ok {
		return errors.PluginNotFound(id)
	}
	if lp.State != StateEnabled {
		return errors.Conflict(fmt.Sprintf("plugin %s cannot be disabled from state %s", id, lp.State))
	}

	if err := RunHook(ctx, id, lp.Manifest.Hooks.OnDisable); err != nil {
		lp.State = StateFailed
		lp.FailReason = err.Error()
		m.publishFailed(id, err)
		return err
	}

	lp.State = StateDisabled
	logger.PluginManager().Info().Str("plugin_id", id).Msg("plugin disabled")
	m.health.Forget(id)
	if m.publisher != nil {
		m.publisher.PublishPluginDisabled(&events.PluginDisabledEvent{PluginID: id})
	}
	return nil
}

// Reload hot-swaps a plugin's running instance with a freshly re-read
// manifest and re-instantiated implementation, in five steps:
//
//  1. Shut down the old instance, bounded by ShutdownDeadline — a slow
//     Shutdown does not block the reload, it just proceeds anyway.
//  2. Re-read and re-parse the manifest from path.
//  3. Resolve the (possibly changed) entrypoint and instantiate it.
//  4. Re-validate the dependency graph with the new version swapped in;
//     if the new version would break the graph, the old instance is
//     kept and Reload fails — the registry is never left without a
//     working plugin for id.
//  5. Bind config, configure the new instance, and atomically swap it
//     in as Enabled (or Configured, matching the old instance's prior
//     enabled/disabled state).
func (m *Manager) Reload(ctx context.Context, id, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.plugins[id]
	if !ok {
		return errors.PluginNotFound(id)
	}
	wasEnabled := old.State == StateEnabled

	shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownDeadline)
	defer cancel()
	if err := old.Instance.Shutdown(shutdownCtx); err != nil {
		logger.PluginManager().Warn().Str("plugin_id", id).Err(err).Msg("old instance shutdown did not complete cleanly, proceeding with reload")
	}

	data, err := m.readFile(path)
	if err != nil {
		return errors.ReloadFailed(id, fmt.Errorf("reading manifest %q: %w", path, err))
	}
	newManifest, err := manifest.Parse(data)
	if err != nil {
		return errors.ReloadFailed(id, err)
	}
	if newManifest.ID != id {
		return errors.ReloadFailed(id, fmt.Errorf("manifest at %q declares id %q, expected %q", path, newManifest.ID, id))
	}
	if newManifest.APIVersion != RuntimeAPIVersion {
		return errors.ReloadFailed(id, fmt.Errorf("new manifest declares api_version %q, runtime speaks %q", newManifest.APIVersion, RuntimeAPIVersion))
	}

	factory, err := resolveEntrypoint(newManifest)
	if err != nil {
		return errors.ReloadFailed(id, err)
	}
	newInstance := factory()

	nodes := map[string]semverx.Version{}
	for pid, lp := range m.plugins {
		v, _ := semverx.ParseVersion(lp.Manifest.Version)
		nodes[pid] = v
	}
	newV, err := semverx.ParseVersion(newManifest.Version)
	if err != nil {
		return errors.ReloadFailed(id, err)
	}
	nodes[id] = newV

	candidates := map[string]*LoadedPlugin{id: {Manifest: newManifest}}
	for pid, lp := range m.plugins {
		if pid == id {
			continue
		}
		candidates[pid] = lp
	}
	edges, edgeErrs := buildEdges(candidates)
	if err, bad := edgeErrs[id]; bad {
		return errors.ReloadFailed(id, err)
	}
	if _, err := depgraph.Build(nodes, edges); err != nil {
		return errors.ReloadFailed(id, fmt.Errorf("new version would break dependency graph, keeping old instance: %w", err))
	}

	cfg, err := BindConfig(newManifest, m.readFile)
	if err != nil {
		return errors.ReloadFailed(id, err)
	}
	if err := newInstance.Configure(ctx, cfg); err != nil {
		return errors.ReloadFailed(id, err)
	}

	oldVersion := old.Manifest.Version
	newState := StateConfigured
	if wasEnabled {
		newState = StateEnabled
	}
	m.plugins[id] = &LoadedPlugin{
		Manifest: newManifest,
		Instance: newInstance,
		State:    newState,
		Counters: &Counters{},
	}
	g, _ := depgraph.Build(nodes, edges)
	m.graph = g

	m.health.Forget(id)
	if wasEnabled {
		m.health.Watch(newManifest)
	}

	logger.PluginManager().Info().Str("plugin_id", id).Str("old_version", oldVersion).Str("new_version", newManifest.Version).Msg("plugin reloaded")
	if m.publisher != nil {
		m.publisher.PublishPluginReloaded(&events.PluginReloadedEvent{
			PluginID:   id,
			OldVersion: oldVersion,
			NewVersion: newManifest.Version,
		})
	}
	return nil
}

// Get returns the currently loaded plugin for id.
func (m *Manager) Get(id string) (*LoadedPlugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lp, ok := m.plugins[id]
	if !ok {
		return nil, errors.PluginNotFound(id)
	}
	return lp, nil
}

// Filter narrows List to plugins matching non-zero fields.
type Filter struct {
	Kind  manifest.Kind
	State State
}

// List returns loaded plugins matching filter, sorted by id. A zero
// Filter returns everything.
func (m *Manager) List(filter Filter) []*LoadedPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*LoadedPlugin, 0, len(m.plugins))
	for _, lp := range m.plugins {
		if filter.Kind != "" && lp.Manifest.Kind != filter.Kind {
			continue
		}
		if filter.State != "" && lp.State != filter.State {
			continue
		}
		out = append(out, lp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

// Unload shuts down and removes a plugin from the registry entirely,
// rebuilding the dependency graph over the remaining set. Fails if any
// other loaded plugin still depends on id.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lp, ok := m.plugins[id]
	if !ok {
		return errors.PluginNotFound(id)
	}
	if m.graph != nil {
		if dependents := m.graph.DependentsOf(id); len(dependents) > 0 {
			names := make([]string, 0, len(dependents))
			for d := range dependents {
				names = append(names, d)
			}
			sort.Strings(names)
			return errors.DependencyError(fmt.Sprintf("plugin %s is still depended on by %v", id, names))
		}
	}

	if err := RunHook(ctx, id, lp.Manifest.Hooks.PreUnload); err != nil {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownDeadline)
	defer cancel()
	if err := lp.Instance.Shutdown(shutdownCtx); err != nil {
		logger.PluginManager().Warn().Str("plugin_id", id).Err(err).Msg("shutdown during unload did not complete cleanly")
	}
	_ = RunHook(ctx, id, lp.Manifest.Hooks.PostUnload)

	m.health.Forget(id)
	delete(m.plugins, id)

	nodes := map[string]semverx.Version{}
	for pid, other := range m.plugins {
		v, _ := semverx.ParseVersion(other.Manifest.Version)
		nodes[pid] = v
	}
	edges, _ := buildEdges(m.plugins)
	if g, err := depgraph.Build(nodes, edges); err == nil {
		m.graph = g
	}

	logger.PluginManager().Info().Str("plugin_id", id).Msg("plugin unloaded")
	return nil
}

func (m *Manager) publishFailed(id string, err error) {
	logger.PluginManager().Error().Str("plugin_id", id).Err(err).Msg("plugin transitioned to failed")
	if m.publisher != nil {
		m.publisher.PublishPluginFailed(&events.PluginFailedEvent{PluginID: id, Reason: err.Error()})
	}
}

// TopoOrder returns the current load order, dependencies before
// dependents, for callers that need to process plugins in dependency
// order (e.g. a future batch restart).
func (m *Manager) TopoOrder() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.graph == nil {
		return nil
	}
	return m.graph.TopoOrder()
}
