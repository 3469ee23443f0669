package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"

	"github.com/listingcore/core/internal/logger"
	"github.com/listingcore/core/pkg/manifest"
)

const manifestFileName = "plugin.yaml"

// Discover recursively walks root and returns the path of every
// plugin.yaml file under it. It does not parse the manifests (that is
// LoadManifests' job); an error from the filesystem walk aborts the scan
// and is returned.
func Discover(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Base(path) == manifestFileName {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("plugins: discovery walk of %q failed: %w", root, err)
	}
	return paths, nil
}

// DiscoveredManifest pairs a parsed manifest with the plugin.yaml path
// it was read from, so reload can re-read it later.
type DiscoveredManifest struct {
	Manifest *manifest.Manifest
	Path     string
}

// LoadManifests parses and validates every manifest at the given paths.
// A single invalid manifest is reported in failed and does not prevent
// the others from loading.
func LoadManifests(paths []string) (loaded []DiscoveredManifest, failed []ManifestLoadError) {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			failed = append(failed, ManifestLoadError{Path: path, Err: err})
			continue
		}
		m, err := manifest.Parse(data)
		if err != nil {
			logger.PluginManager().Warn().Err(err).Str("path", path).Msg("manifest failed validation, skipping")
			failed = append(failed, ManifestLoadError{Path: path, Err: err})
			continue
		}
		loaded = append(loaded, DiscoveredManifest{Manifest: m, Path: path})
	}
	return loaded, failed
}

// ManifestLoadError pairs a manifest path with why it failed to load.
type ManifestLoadError struct {
	Path string
	Err  error
}

func (e ManifestLoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Err)
}

// dynamicPluginSymbol is the exported constructor every out-of-tree
// .so plugin must provide.
const dynamicPluginSymbol = "NewPlugin"

// resolveEntrypoint resolves a manifest's entrypoint descriptor to a
// Factory. Built-in plugins resolve via the global registry keyed by
// entrypoint.module; anything else is treated as a path to a compiled Go
// plugin (.so) exporting a "func() plugins.Plugin" symbol named
// NewPlugin. Resolution failures are returned, never panicked.
func resolveEntrypoint(m *manifest.Manifest) (Factory, error) {
	if f, ok := LookupBuiltin(m.Entrypoint.Module); ok {
		return f, nil
	}

	p, err := plugin.Open(m.Entrypoint.Module)
	if err != nil {
		return nil, fmt.Errorf("plugins: entrypoint module %q not found for %q: %w", m.Entrypoint.Module, m.ID, err)
	}
	sym, err := p.Lookup(dynamicPluginSymbol)
	if err != nil {
		return nil, fmt.Errorf("plugins: symbol %q not found in %q: %w", dynamicPluginSymbol, m.Entrypoint.Module, err)
	}
	factory, ok := sym.(func() Plugin)
	if !ok {
		return nil, fmt.Errorf("plugins: %q's %s has unexpected signature", m.Entrypoint.Module, dynamicPluginSymbol)
	}
	return factory, nil
}
