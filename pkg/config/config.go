// Package config defines the scanner's on-disk configuration surface.
package config

// Config represents the top-level scanner configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Limits   LimitsConfig   `yaml:"limits"`
	Ignore   IgnoreConfig   `yaml:"ignore"`
	Excludes []string       `yaml:"excludes,omitempty"`
	Tracing  *TracingConfig `yaml:"tracing,omitempty"`
}

// BackendConfig holds the connection parameters for the remote scan API.
type BackendConfig struct {
	Endpoint  string `yaml:"endpoint"`
	KMSKeyARN string `yaml:"kms_key_arn,omitempty"`
	// RequestsPerSecond caps outbound calls to the backend. Zero means the
	// built-in default.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// LimitsConfig carries optional overrides for the per-scope payload size
// ceilings, in bytes. Zero values fall back to the built-in defaults.
type LimitsConfig struct {
	ProjectPayloadBytes int64 `yaml:"project_payload_bytes,omitempty"`
	FilePayloadBytes    int64 `yaml:"file_payload_bytes,omitempty"`
}

// IgnoreConfig points at the persisted ignore-list file. The pipeline treats
// the list as read-only; mutation happens through the tracker accessors.
type IgnoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// TracingConfig enables the OTLP trace exporter when present.
type TracingConfig struct {
	ExporterEndpoint string  `yaml:"exporter_endpoint"`
	Probability      float64 `yaml:"probability"`
	Insecure         bool    `yaml:"insecure,omitempty"`
}
