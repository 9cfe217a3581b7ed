package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxnlabs/linalg-kernels/fixtures"
	"github.com/fxnlabs/linalg-kernels/internal/backend"
	"github.com/fxnlabs/linalg-kernels/internal/kernels"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "console", config.Logger.Encoding)
		assert.Equal(t, backend.KindHost, config.Backend.Kind)
		assert.Equal(t, kernels.StagingDeferred, config.Backend.Staging)
		assert.Equal(t, "127.0.0.1:19464", config.Metrics.ListenAddress)
		assert.Equal(t, 2*time.Second, config.Metrics.ReadHeaderTimeout)
		assert.Equal(t, 2, config.Selftest.Streams)
		// Not in the file, so the defaults stay.
		assert.Equal(t, 16, config.Selftest.Batch)
		assert.Equal(t, 8, config.Selftest.N)
	})

	t.Run("directory", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config")
		require.Error(t, err, "the directory holds no config.yaml")
		assert.Nil(t, config)

		config, err = LoadConfig("../../fixtures/tests/invalid_config")
		assert.Error(t, err)
		assert.Nil(t, config)
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir, err := os.Getwd()
		require.NoError(t, err)

		configPath := filepath.Join(dir, "..", "..", "fixtures", "tests", "invalid_config", "config.yaml")
		_, err = LoadConfig(configPath)
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := LoadConfig("../../fixtures/tests/config/unknown_backend.yaml")
		assert.ErrorContains(t, err, `unknown backend.kind "opencl"`)
	})

	t.Run("missing default file", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		config, err := LoadConfig(DefaultConfigPath())
		require.NoError(t, err)
		assert.Equal(t, Default(), config)
	})
}

func TestConfigTemplate(t *testing.T) {
	config := Default()
	require.NoError(t, yaml.Unmarshal(fixtures.ConfigTemplate, config))
	if diff := cmp.Diff(Default(), config); diff != "" {
		t.Errorf("template does not match the defaults (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"encoding", func(c *Config) { c.Logger.Encoding = "" }, "logger.encoding"},
		{"backend", func(c *Config) { c.Backend.Kind = "tpu" }, "backend.kind"},
		{"staging", func(c *Config) { c.Backend.Staging = "never" }, "backend.staging"},
		{"selftest", func(c *Config) { c.Selftest.Batch = 0 }, "must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
