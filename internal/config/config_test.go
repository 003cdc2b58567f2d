package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `version: "1.0"
dump:
  commands:
    - name: coredump
      command: ["./coredump_extraction_script.sh"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrow.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	config, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "default", config.Instance)
	assert.Equal(t, "logs", config.LogDirectory)
	assert.Equal(t, ":8080", config.Status.Addr)
	assert.Nil(t, config.Upload)

	d := config.Dump
	assert.Equal(t, 3, d.MaxConcurrency)
	assert.Equal(t, "unified", d.PathStrategy)
	assert.Equal(t, "issues", d.LocalDirectoryPrefix)
	assert.Equal(t, "issues", d.UploadDirectoryPrefix)
	assert.True(t, *d.AutoUploadEnabled)
	assert.Equal(t, 5*time.Minute, d.HeadlessTimeout)
	assert.Equal(t, 10*time.Minute, d.DialogTimeout)
	assert.Equal(t, time.Second, d.ProgressInterval)
	assert.Equal(t, 5*time.Second, d.ShutdownGrace)
	assert.Equal(t, 3, *d.ManifestWriteRetries)
	assert.Equal(t, []string{"*.zip"}, d.ExpectedArtifacts)
}

func TestLoad_FullConfig(t *testing.T) {
	config, err := Load(writeConfig(t, `version: "1.0"
instance: lab-3
redis_url: redis://localhost:6379
log_directory: /var/log/burrow
devices: ["R58M123", "R58M456"]
dump:
  max_concurrency: 1
  path_strategy: hybrid
  auto_upload_enabled: false
  headless_timeout: 90s
  manifest_write_retries: 0
  expected_artifacts: ["*.zip", "logs/*.txt"]
  commands:
    - name: coredump
      command: ["./coredump.sh", "--all"]
      environment: ["VERBOSE=1"]
upload:
  repository: qa-dumps
  server_id: lab
  platform_url: https://jfrog.example.com
status:
  addr: 127.0.0.1:9090
`))
	require.NoError(t, err)

	assert.Equal(t, "lab-3", config.Instance)
	assert.Equal(t, []string{"R58M123", "R58M456"}, config.Devices)
	assert.Equal(t, 1, config.Dump.MaxConcurrency)
	assert.Equal(t, "hybrid", config.Dump.PathStrategy)
	assert.False(t, *config.Dump.AutoUploadEnabled)
	assert.Equal(t, 90*time.Second, config.Dump.HeadlessTimeout)
	assert.Equal(t, 0, *config.Dump.ManifestWriteRetries)
	assert.Equal(t, []string{"./coredump.sh", "--all"}, config.Dump.Commands[0].Command)
	assert.Equal(t, "jf", config.Upload.CLI)
	assert.Equal(t, 5*time.Minute, config.Upload.Timeout)
	assert.Equal(t, "127.0.0.1:9090", config.Status.Addr)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("BURROW_INSTANCE_NAME", "from-env")
	t.Setenv("REDIS_URL", "redis://redis:6379")

	config, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", config.Instance)
	assert.Equal(t, "redis://redis:6379", config.RedisURL)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/burrow.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	config, err := Load(writeConfig(t, "version: \"1.0\"\ndump:\n  - this is invalid\n    yaml syntax\n"))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		contains string
	}{
		{"wrong version", `version: "2.0"`, "unsupported version"},
		{"no commands", `version: "1.0"`, "at least one extraction command"},
		{"unknown strategy", minimalConfig + "  path_strategy: scattered\n", "path_strategy 'scattered' is invalid"},
		{"negative concurrency", minimalConfig + "  max_concurrency: -1\n", "max_concurrency"},
		{"negative retries", minimalConfig + "  manifest_write_retries: -2\n", "manifest_write_retries"},
		{"negative timeout", minimalConfig + "  dialog_timeout: -1s\n", "dialog_timeout"},
		{"duplicate device", minimalConfig + "devices: [a, a]\n", "duplicate device id"},
		{"upload without repository", minimalConfig + "upload:\n  server_id: lab\n", "upload.repository"},
		{"command without argv", `version: "1.0"
dump:
  commands:
    - name: coredump
`, "command is required"},
		{"duplicate command", minimalConfig + `    - name: coredump
      command: ["again"]
`, "duplicate command name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
