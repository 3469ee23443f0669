package manifest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifest = `id: plugin-detection-price-anomaly
name: Price Anomaly Detector
version: "1.2.3"
kind: detection
api_version: "1.0"
description: Flags listings priced far outside their area's market band.
author: listingcore
dependencies:
  core_version: "^1.0.0"
  plugins:
    plugin-processing-normalize: ">=1.0.0 <2.0.0"
config:
  defaults:
    deviation_threshold: 2.5
  required_keys:
    - deviation_threshold
capabilities:
  - price-analysis
hooks:
  on_enable: hooks/enable.sh
health:
  endpoint: http://localhost:9001/healthz
  interval: 30s
  timeout: 5s
  retries: 3
entrypoint:
  module: builtin/price-anomaly
weight: 0.7
`

func TestParse_ValidManifest(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	require.NoError(t, err)

	assert.Equal(t, "plugin-detection-price-anomaly", m.ID)
	assert.Equal(t, KindDetection, m.Kind)
	assert.Equal(t, "1.2.3", m.Version)
	assert.Equal(t, "^1.0.0", m.Dependencies.CoreVersion)
	assert.Equal(t, ">=1.0.0 <2.0.0", m.Dependencies.Plugins["plugin-processing-normalize"])
	assert.Equal(t, "hooks/enable.sh", m.Hooks.OnEnable)
	require.NotNil(t, m.Health)
	assert.Equal(t, "30s", m.Health.Interval)
	assert.Equal(t, "builtin/price-anomaly", m.Entrypoint.Module)
	assert.InDelta(t, 0.7, m.Weight, 0.0001)
}

func TestParse_InvalidManifests(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(m *Manifest)
		wantFrag string
	}{
		{
			name:     "bad id format",
			mutate:   func(m *Manifest) { m.ID = "my-cool-plugin" },
			wantFrag: "ID",
		},
		{
			name:     "unknown kind",
			mutate:   func(m *Manifest) { m.Kind = "transformer" },
			wantFrag: "Kind",
		},
		{
			name:     "kind not matching id prefix is still a valid id",
			mutate:   func(m *Manifest) { m.ID = "plugin-source-scraper" },
			wantFrag: "",
		},
		{
			name:     "invalid version",
			mutate:   func(m *Manifest) { m.Version = "one.two.three" },
			wantFrag: "Version",
		},
		{
			name:     "missing description",
			mutate:   func(m *Manifest) { m.Description = "" },
			wantFrag: "Description",
		},
		{
			name:     "missing entrypoint module",
			mutate:   func(m *Manifest) { m.Entrypoint.Module = "" },
			wantFrag: "Module",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := Parse([]byte(validManifest))
			require.NoError(t, err)
			tt.mutate(base)

			data, err := Emit(base)
			require.NoError(t, err)
			_, err = Parse(data)

			if tt.wantFrag == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Contains(t, schemaErr.Field, tt.wantFrag)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("id: [unterminated"))
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParse_OversizeManifestRejected(t *testing.T) {
	big := append([]byte(validManifest), bytes.Repeat([]byte("# padding\n"), MaxManifestBytes/10)...)
	_, err := Parse(big)
	require.Error(t, err)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "(file)", schemaErr.Field)
}

func TestParseEmitRoundTrip(t *testing.T) {
	first, err := Parse([]byte(validManifest))
	require.NoError(t, err)

	emitted, err := Emit(first)
	require.NoError(t, err)

	second, err := Parse(emitted)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
