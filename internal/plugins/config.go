package plugins

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/listingcore/core/pkg/manifest"
)

var secretRefPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// BindConfig merges a plugin's effective configuration in precedence
// order: environment variables prefixed PLUGIN_<UPPER_SNAKE_ID>_ (highest),
// the config file named by the manifest's config.file (if any), then the
// manifest's own config.defaults (lowest). String values of the form
// "${ENV_VAR}" are resolved against the process environment at any
// precedence level.
func BindConfig(m *manifest.Manifest, readFile func(path string) ([]byte, error)) (map[string]interface{}, error) {
	merged := map[string]interface{}{}
	for k, v := range m.Config.Defaults {
		merged[k] = v
	}

	if m.Config.File != "" {
		if readFile == nil {
			return nil, fmt.Errorf("plugins: config file %q referenced but no file reader available", m.Config.File)
		}
		data, err := readFile(m.Config.File)
		if err != nil {
			return nil, fmt.Errorf("plugins: reading config file %q for %q: %w", m.Config.File, m.ID, err)
		}
		var fileConfig map[string]interface{}
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("plugins: parsing config file %q for %q: %w", m.Config.File, m.ID, err)
		}
		for k, v := range fileConfig {
			merged[k] = v
		}
	}

	prefix := envPrefix(m.ID)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		configKey := strings.ToLower(strings.TrimPrefix(key, prefix))
		merged[configKey] = coerceEnvValue(value)
	}

	for k, v := range merged {
		if s, ok := v.(string); ok {
			merged[k] = resolveSecret(s)
		}
	}

	for _, required := range m.Config.RequiredKeys {
		if _, ok := merged[required]; !ok {
			return nil, fmt.Errorf("plugins: %q missing required config key %q", m.ID, required)
		}
	}

	return merged, nil
}

// envPrefix turns "plugin-processing-geocode" into "PLUGIN_PROCESSING_GEOCODE_".
func envPrefix(pluginID string) string {
	upper := strings.ToUpper(strings.ReplaceAll(pluginID, "-", "_"))
	return upper + "_"
}

// coerceEnvValue converts an environment string into bool/int/float when
// it unambiguously parses as one, else leaves it as a string.
func coerceEnvValue(v string) interface{} {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// resolveSecret replaces a "${ENV_VAR}" value with the named environment
// variable's contents; non-matching strings pass through unchanged.
func resolveSecret(v string) string {
	m := secretRefPattern.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	return os.Getenv(m[1])
}
