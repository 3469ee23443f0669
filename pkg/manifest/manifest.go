// Package manifest parses and validates plugin.yaml documents.
//
// A manifest is the single file contract a plugin directory exposes to the
// runtime (see internal/plugins for how manifests become loaded plugins).
// Parsing never panics; malformed or schema-invalid documents produce a
// SchemaError or ParseError naming the offending field.
package manifest

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/listingcore/core/pkg/semverx"
)

// MaxManifestBytes is the file-size ceiling from the manifest contract.
const MaxManifestBytes = 100 * 1024

var idPattern = regexp.MustCompile(`^plugin-(source|processing|detection|search|display)-[a-z0-9-]+$`)

// Kind enumerates the five plugin kinds a manifest may declare.
type Kind string

const (
	KindSource     Kind = "source"
	KindProcessing Kind = "processing"
	KindDetection  Kind = "detection"
	KindSearch     Kind = "search"
	KindDisplay    Kind = "display"
)

// Dependencies describes a plugin's declared version constraints.
type Dependencies struct {
	CoreVersion           string            `yaml:"core_version,omitempty" json:"core_version,omitempty"`
	LanguageRuntimeVersion string           `yaml:"language_runtime_version,omitempty" json:"language_runtime_version,omitempty"`
	Plugins               map[string]string `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// ConfigSpec describes a plugin's configuration contract.
type ConfigSpec struct {
	SchemaRef    string                 `yaml:"schema_ref,omitempty" json:"schema_ref,omitempty"`
	RequiredKeys []string               `yaml:"required_keys,omitempty" json:"required_keys,omitempty"`
	Defaults     map[string]interface{} `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	File         string                 `yaml:"file,omitempty" json:"file,omitempty"`
}

// Resources describes resource hints for scheduling/capacity planning.
type Resources struct {
	MemoryMB int    `yaml:"memory_mb,omitempty" json:"memory_mb,omitempty"`
	CPUCores float64 `yaml:"cpu_cores,omitempty" json:"cpu_cores,omitempty"`
	DiskMB   int    `yaml:"disk_mb,omitempty" json:"disk_mb,omitempty"`
	Network  bool   `yaml:"network,omitempty" json:"network,omitempty"`
}

// Hooks names lifecycle hook script paths, relative to the manifest's
// directory. Each corresponds to a transition in the plugin state
// machine; any may be empty, in which case that transition runs no
// script.
type Hooks struct {
	PreLoad    string `yaml:"pre_load,omitempty" json:"pre_load,omitempty"`
	PostLoad   string `yaml:"post_load,omitempty" json:"post_load,omitempty"`
	OnEnable   string `yaml:"on_enable,omitempty" json:"on_enable,omitempty"`
	OnDisable  string `yaml:"on_disable,omitempty" json:"on_disable,omitempty"`
	PreUnload  string `yaml:"pre_unload,omitempty" json:"pre_unload,omitempty"`
	PostUnload string `yaml:"post_unload,omitempty" json:"post_unload,omitempty"`
}

// Health describes the optional periodic health-check contract.
type Health struct {
	Endpoint string        `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Interval string        `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout  string        `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries  int           `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// Entrypoint names the module+class descriptor the manager resolves at
// load time. Interpretation is host-specific: for built-in plugins, Module
// is the registry factory key; for dynamic plugins, Module is a path to a
// compiled .so and Class is unused (the loader looks up symbol "NewPlugin").
type Entrypoint struct {
	Module string `yaml:"module" json:"module" validate:"required"`
	Class  string `yaml:"class,omitempty" json:"class,omitempty"`
}

// Manifest is the parsed, validated contents of a plugin.yaml document.
type Manifest struct {
	ID          string       `yaml:"id" json:"id" validate:"required,plugin_id"`
	Name        string       `yaml:"name" json:"name" validate:"required"`
	Version     string       `yaml:"version" json:"version" validate:"required,semver"`
	Kind        Kind         `yaml:"kind" json:"kind" validate:"required,oneof=source processing detection search display"`
	APIVersion  string       `yaml:"api_version" json:"api_version" validate:"required"`
	Description string       `yaml:"description" json:"description" validate:"required"`

	Author       string        `yaml:"author,omitempty" json:"author,omitempty"`
	License      string        `yaml:"license,omitempty" json:"license,omitempty"`
	Repository   string        `yaml:"repository,omitempty" json:"repository,omitempty"`
	Dependencies Dependencies  `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Config       ConfigSpec    `yaml:"config,omitempty" json:"config,omitempty"`
	Capabilities []string      `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Resources    Resources     `yaml:"resources,omitempty" json:"resources,omitempty"`
	Hooks        Hooks         `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	Metrics      []string      `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Health       *Health       `yaml:"health,omitempty" json:"health,omitempty"`
	Entrypoint   Entrypoint    `yaml:"entrypoint" json:"entrypoint" validate:"required"`
	Tags         []string      `yaml:"tags,omitempty" json:"tags,omitempty"`
	Compatibility []string     `yaml:"compatibility,omitempty" json:"compatibility,omitempty"`

	// Priority orders this plugin within its kind's processing pipeline.
	// Meaningful only for processing plugins; ties break by ID.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Weight influences this plugin's contribution to the aggregate
	// fraud score. Meaningful only for detection plugins.
	Weight float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// SchemaError names the offending field and the reason it failed validation.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("manifest field %q: %s", e.Field, e.Reason)
}

// ParseError reports a malformed YAML document.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest parse error at line %d: %s", e.Offset, e.Reason)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("plugin_id", func(fl validator.FieldLevel) bool {
		return idPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
		_, err := semverx.ParseVersion(fl.Field().String())
		return err == nil
	})
	return v
}

// Parse parses and validates a plugin.yaml document.
func Parse(data []byte) (*Manifest, error) {
	if len(data) > MaxManifestBytes {
		return nil, &SchemaError{Field: "(file)", Reason: fmt.Sprintf("manifest exceeds %d bytes", MaxManifestBytes)}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Offset: 0, Reason: err.Error()}
	}

	if err := validate.Struct(&m); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &SchemaError{Field: fe.Namespace(), Reason: fmt.Sprintf("failed %q validation", fe.Tag())}
		}
		return nil, &SchemaError{Field: "(struct)", Reason: err.Error()}
	}

	return &m, nil
}

// Emit re-serializes a manifest to YAML, used by the round-trip law
// (parse -> emit -> parse yields an equal manifest).
func Emit(m *Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}
