package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxnlabs/linalg-kernels/internal/backend"
	"github.com/fxnlabs/linalg-kernels/internal/kernels"
	"github.com/fxnlabs/linalg-kernels/internal/logger"
	"gopkg.in/yaml.v3"
)

const configFileName = "config.yaml"

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Backend struct {
		Kind    backend.Kind          `yaml:"kind"`
		Staging kernels.StagingPolicy `yaml:"staging"`
	} `yaml:"backend"`
	Metrics struct {
		ListenAddress     string        `yaml:"listenAddress"`
		ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	} `yaml:"metrics"`
	Selftest struct {
		Streams int `yaml:"streams"`
		Batch   int `yaml:"batch"`
		N       int `yaml:"n"`
	} `yaml:"selftest"`
}

// Default returns the configuration used when no file is given. Values
// missing from a loaded file keep these defaults.
func Default() *Config {
	var cfg Config
	cfg.Logger.Verbosity = "info"
	cfg.Logger.Encoding = logger.EncodingJSON
	cfg.Backend.Kind = backend.KindAuto
	cfg.Backend.Staging = kernels.StagingSynchronize
	cfg.Metrics.ListenAddress = "127.0.0.1:9464"
	cfg.Metrics.ReadHeaderTimeout = 5 * time.Second
	cfg.Selftest.Streams = 4
	cfg.Selftest.Batch = 16
	cfg.Selftest.N = 8
	return &cfg
}

// GetDefaultConfigHome returns the directory holding config.yaml when no
// path is given on the command line.
func GetDefaultConfigHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kernelctl"
	}
	return filepath.Join(home, ".kernelctl")
}

// DefaultConfigPath is config.yaml in the default home.
func DefaultConfigPath() string {
	return filepath.Join(GetDefaultConfigHome(), configFileName)
}

// LoadConfig reads the configuration at path. A directory is taken to hold
// config.yaml. If the default config file does not exist, Default() is
// returned.
func LoadConfig(path string) (*Config, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, configFileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath() {
			return Default(), nil
		}
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return config, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	if e := c.Logger.Encoding; e != logger.EncodingJSON && e != logger.EncodingConsole {
		return fmt.Errorf("unknown logger.encoding %q", e)
	}
	if !c.Backend.Kind.Valid() {
		return fmt.Errorf("unknown backend.kind %q", c.Backend.Kind)
	}
	if !c.Backend.Staging.Valid() {
		return fmt.Errorf("unknown backend.staging %q", c.Backend.Staging)
	}
	if c.Selftest.Streams < 1 || c.Selftest.Batch < 1 || c.Selftest.N < 1 {
		return errors.New("selftest streams, batch and n must be positive")
	}
	return nil
}
