package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoaderLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "codesentry.yaml")
	data := []byte(`
backend:
  endpoint: https://scan.example.com
  kms_key_arn: arn:aws:kms:us-east-1:123:key/abc
  requests_per_second: 2.5
limits:
  project_payload_bytes: 1048576
ignore:
  path: /tmp/ignored.yaml
excludes:
  - "vendor/**"
  - "**/*_gen.go"
tracing:
  exporter_endpoint: otel:4317
  probability: 0.1
  insecure: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://scan.example.com", cfg.Backend.Endpoint)
	assert.Equal(t, "arn:aws:kms:us-east-1:123:key/abc", cfg.Backend.KMSKeyARN)
	assert.Equal(t, 2.5, cfg.Backend.RequestsPerSecond)
	assert.Equal(t, int64(1048576), cfg.Limits.ProjectPayloadBytes)
	assert.Zero(t, cfg.Limits.FilePayloadBytes)
	assert.Equal(t, "/tmp/ignored.yaml", cfg.Ignore.Path)
	assert.Equal(t, []string{"vendor/**", "**/*_gen.go"}, cfg.Excludes)
	require.NotNil(t, cfg.Tracing)
	assert.Equal(t, "otel:4317", cfg.Tracing.ExporterEndpoint)
	assert.True(t, cfg.Tracing.Insecure)
}

func TestFileLoaderMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestFileLoaderMalformedYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [not-a-map"), 0o644))

	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to parse config")
}
