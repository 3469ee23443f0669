package plugins

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingcore/core/pkg/manifest"
)

func bindManifest(id string) *manifest.Manifest {
	return &manifest.Manifest{
		ID:         id,
		Name:       id,
		Version:    "1.0.0",
		Kind:       manifest.KindProcessing,
		APIVersion: "1.0",
		Entrypoint: manifest.Entrypoint{Module: "test/" + id},
	}
}

func TestBindConfig_DefaultsOnly(t *testing.T) {
	m := bindManifest("plugin-processing-binddefaults")
	m.Config.Defaults = map[string]interface{}{"threshold": 2.5, "mode": "strict"}

	cfg, err := BindConfig(m, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg["threshold"])
	assert.Equal(t, "strict", cfg["mode"])
}

func TestBindConfig_FileOverridesDefaults(t *testing.T) {
	m := bindManifest("plugin-processing-bindfile")
	m.Config.Defaults = map[string]interface{}{"threshold": 2.5, "mode": "strict"}
	m.Config.File = "config/override.yaml"

	readFile := func(path string) ([]byte, error) {
		require.Equal(t, "config/override.yaml", path)
		return []byte("threshold: 4.0\n"), nil
	}

	cfg, err := BindConfig(m, readFile)
	require.NoError(t, err)
	assert.Equal(t, 4.0, cfg["threshold"])
	assert.Equal(t, "strict", cfg["mode"])
}

func TestBindConfig_EnvOverridesEverything(t *testing.T) {
	m := bindManifest("plugin-processing-bindenv")
	m.Config.Defaults = map[string]interface{}{"threshold": 2.5}
	t.Setenv("PLUGIN_PROCESSING_BINDENV_THRESHOLD", "9")
	t.Setenv("PLUGIN_PROCESSING_BINDENV_DRY_RUN", "true")

	cfg, err := BindConfig(m, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg["threshold"])
	assert.Equal(t, true, cfg["dry_run"])
}

func TestBindConfig_SecretReferenceResolved(t *testing.T) {
	m := bindManifest("plugin-processing-bindsecret")
	m.Config.Defaults = map[string]interface{}{"api_key": "${GEOCODER_API_KEY}"}
	t.Setenv("GEOCODER_API_KEY", "s3cret")

	cfg, err := BindConfig(m, nil)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg["api_key"])
}

func TestBindConfig_MissingRequiredKeyFails(t *testing.T) {
	m := bindManifest("plugin-processing-bindrequired")
	m.Config.RequiredKeys = []string{"api_key"}

	_, err := BindConfig(m, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestBindConfig_UnreadableFileFails(t *testing.T) {
	m := bindManifest("plugin-processing-bindbadfile")
	m.Config.File = "config/gone.yaml"

	_, err := BindConfig(m, func(path string) ([]byte, error) {
		return nil, fmt.Errorf("no such file")
	})
	assert.Error(t, err)
}
