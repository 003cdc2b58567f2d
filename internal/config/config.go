package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dyluth/burrow/internal/pathstrategy"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration.
const DefaultPath = "burrow.yml"

// BurrowConfig represents the top-level burrow.yml configuration
type BurrowConfig struct {
	Version      string        `yaml:"version"`
	Instance     string        `yaml:"instance,omitempty"`      // Namespaces Redis keys; default "default"
	RedisURL     string        `yaml:"redis_url,omitempty"`     // Required by serve and dump
	LogDirectory string        `yaml:"log_directory,omitempty"` // Root of all dump output; default "logs"
	Dump         *DumpConfig   `yaml:"dump,omitempty"`
	Devices      []string      `yaml:"devices,omitempty"` // Devices assumed connected at startup
	Upload       *UploadConfig `yaml:"upload,omitempty"`
	Status       *StatusConfig `yaml:"status,omitempty"`
}

// DumpConfig controls the coordinator and its workers
type DumpConfig struct {
	MaxConcurrency        int             `yaml:"max_concurrency,omitempty"`         // Default 3
	PathStrategy          string          `yaml:"path_strategy,omitempty"`           // unified, individual or hybrid
	LocalDirectoryPrefix  string          `yaml:"local_directory_prefix,omitempty"`  // Default "issues"
	UploadDirectoryPrefix string          `yaml:"upload_directory_prefix,omitempty"` // Default "issues"
	AutoUploadEnabled     *bool           `yaml:"auto_upload_enabled,omitempty"`     // Used when a request does not say; default true
	HeadlessTimeout       time.Duration   `yaml:"headless_timeout,omitempty"`        // Default 5m
	DialogTimeout         time.Duration   `yaml:"dialog_timeout,omitempty"`          // Default 10m
	ProgressInterval      time.Duration   `yaml:"progress_interval,omitempty"`       // Default 1s
	ManifestWriteRetries  *int            `yaml:"manifest_write_retries,omitempty"`  // Default 3
	ShutdownGrace         time.Duration   `yaml:"shutdown_grace,omitempty"`          // Default 5s
	ExpectedArtifacts     []string        `yaml:"expected_artifacts,omitempty"`      // Default ["*.zip"]
	Commands              []CommandConfig `yaml:"commands"`
}

// CommandConfig is one extraction step run against each device
type CommandConfig struct {
	Name        string   `yaml:"name"`
	Command     []string `yaml:"command"`
	Environment []string `yaml:"environment,omitempty"`
}

// UploadConfig configures the artifact storage gateway
type UploadConfig struct {
	CLI         string        `yaml:"cli,omitempty"` // Default "jf"
	ServerID    string        `yaml:"server_id,omitempty"`
	Repository  string        `yaml:"repository"`
	PlatformURL string        `yaml:"platform_url,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"` // Per file; default 5m
}

// StatusConfig configures the HTTP status server
type StatusConfig struct {
	Addr string `yaml:"addr,omitempty"` // Default ":8080"
}

// Validate checks the configuration and fills in defaults.
func (c *BurrowConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}
	if c.LogDirectory == "" {
		c.LogDirectory = "logs"
	}

	if c.Dump == nil {
		c.Dump = &DumpConfig{}
	}
	if err := c.Dump.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, d := range c.Devices {
		if d == "" {
			return fmt.Errorf("devices: empty device id")
		}
		if seen[d] {
			return fmt.Errorf("devices: duplicate device id '%s'", d)
		}
		seen[d] = true
	}

	if c.Upload != nil {
		if c.Upload.Repository == "" {
			return fmt.Errorf("upload.repository is required when upload is configured")
		}
		if c.Upload.CLI == "" {
			c.Upload.CLI = "jf"
		}
		if c.Upload.Timeout == 0 {
			c.Upload.Timeout = 5 * time.Minute
		}
		if c.Upload.Timeout < 0 {
			return fmt.Errorf("upload.timeout must be positive, got %s", c.Upload.Timeout)
		}
	}

	if c.Status == nil {
		c.Status = &StatusConfig{}
	}
	if c.Status.Addr == "" {
		c.Status.Addr = ":8080"
	}

	return nil
}

// Validate checks the dump section and fills in defaults.
func (d *DumpConfig) Validate() error {
	if d.MaxConcurrency == 0 {
		d.MaxConcurrency = 3
	}
	if d.MaxConcurrency < 0 {
		return fmt.Errorf("dump.max_concurrency must be >= 1, got %d", d.MaxConcurrency)
	}

	if d.PathStrategy == "" {
		d.PathStrategy = pathstrategy.Unified
	}
	switch d.PathStrategy {
	case pathstrategy.Unified, pathstrategy.Individual, pathstrategy.Hybrid:
	default:
		return fmt.Errorf("dump.path_strategy '%s' is invalid (must be 'unified', 'individual' or 'hybrid')", d.PathStrategy)
	}

	if d.LocalDirectoryPrefix == "" {
		d.LocalDirectoryPrefix = "issues"
	}
	if d.UploadDirectoryPrefix == "" {
		d.UploadDirectoryPrefix = "issues"
	}
	if d.AutoUploadEnabled == nil {
		enabled := true
		d.AutoUploadEnabled = &enabled
	}

	durations := []struct {
		name  string
		value *time.Duration
		def   time.Duration
	}{
		{"headless_timeout", &d.HeadlessTimeout, 5 * time.Minute},
		{"dialog_timeout", &d.DialogTimeout, 10 * time.Minute},
		{"progress_interval", &d.ProgressInterval, time.Second},
		{"shutdown_grace", &d.ShutdownGrace, 5 * time.Second},
	}
	for _, dur := range durations {
		if *dur.value == 0 {
			*dur.value = dur.def
		}
		if *dur.value < 0 {
			return fmt.Errorf("dump.%s must be positive, got %s", dur.name, *dur.value)
		}
	}

	if d.ManifestWriteRetries == nil {
		retries := 3
		d.ManifestWriteRetries = &retries
	}
	if *d.ManifestWriteRetries < 0 {
		return fmt.Errorf("dump.manifest_write_retries must be >= 0, got %d", *d.ManifestWriteRetries)
	}

	if len(d.ExpectedArtifacts) == 0 {
		d.ExpectedArtifacts = []string{"*.zip"}
	}

	if len(d.Commands) == 0 {
		return fmt.Errorf("dump.commands: at least one extraction command is required")
	}
	names := make(map[string]bool)
	for i, c := range d.Commands {
		if c.Name == "" {
			return fmt.Errorf("dump.commands[%d]: name is required", i)
		}
		if names[c.Name] {
			return fmt.Errorf("dump.commands: duplicate command name '%s'", c.Name)
		}
		names[c.Name] = true
		if len(c.Command) == 0 {
			return fmt.Errorf("dump.commands '%s': command is required", c.Name)
		}
	}

	return nil
}

// Load reads and validates a burrow.yml file, then applies environment
// overrides (BURROW_INSTANCE_NAME, REDIS_URL).
func Load(path string) (*BurrowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config BurrowConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if v := os.Getenv("BURROW_INSTANCE_NAME"); v != "" {
		config.Instance = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		config.RedisURL = v
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
