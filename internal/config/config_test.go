package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 50, cfg.MaxIterations)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.True(t, cfg.AutoFix)
	assert.Equal(t, 8192, cfg.ReportLimitBytes)
	assert.Equal(t, "main", cfg.Workspace.IntegrationBranch)
	assert.Equal(t, 3000, cfg.Workspace.BasePort)
	assert.Equal(t, 10, cfg.Workspace.Stride)
	assert.Equal(t, 60*time.Second, cfg.Quality.ReadinessTimeout)
	assert.Equal(t, 2*time.Second, cfg.Quality.PollInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigValidFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
max_retries: 5
concurrency: 4
auto_fix: false
worker:
  command: my-agent
  timeout: 10m
workspace:
  integration_branch: trunk
  base_port: 4000
  stride: 20
quality:
  readiness_timeout: 30s
  probes:
    - name: api
      kind: http
      target: "http://127.0.0.1:{port:0}/health"
  suites:
    - name: unit
      command: go test ./...
      phase: RunUnitTests
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.AutoFix)
	assert.Equal(t, "my-agent", cfg.Worker.Command)
	assert.Equal(t, 10*time.Minute, cfg.Worker.Timeout)
	assert.Equal(t, "trunk", cfg.Workspace.IntegrationBranch)
	assert.Equal(t, 4000, cfg.Workspace.BasePort)
	assert.Equal(t, 20, cfg.Workspace.Stride)
	assert.Equal(t, 30*time.Second, cfg.Quality.ReadinessTimeout)
	require.Len(t, cfg.Quality.Probes, 1)
	assert.Equal(t, "http", cfg.Quality.Probes[0].Kind)
	require.Len(t, cfg.Quality.Suites, 1)
	assert.Equal(t, "RunUnitTests", cfg.Quality.Suites[0].Phase)

	// Untouched keys keep their defaults
	assert.Equal(t, 50, cfg.MaxIterations)
	assert.Equal(t, 64, cfg.Workspace.MaxProbe)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileNotExists(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxRetries, cfg.MaxRetries)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := writeConfig(t, "max_retries: [unclosed\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "max_retries: 5\n")
	t.Setenv("CADENCE_MAX_RETRIES", "7")
	t.Setenv("CADENCE_WORKSPACE__BASE_PORT", "5000")
	t.Setenv("CADENCE_QUALITY__POLL_INTERVAL", "500ms")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 5000, cfg.Workspace.BasePort)
	assert.Equal(t, 500*time.Millisecond, cfg.Quality.PollInterval)
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	concurrency := 8
	autoFix := false
	addr := ":9464"

	cfg.MergeWithFlags(&concurrency, nil, &autoFix, nil, &addr)

	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxRetries, "nil flag must not override")
	assert.False(t, cfg.AutoFix)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestResolvePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Documents = []string{"docs/prd.md", "/abs/arch.md"}
	cfg.ResolvePaths("/proj/.cadence", "/proj")

	assert.Equal(t, "/proj/.cadence/progress.yaml", cfg.ProgressFile)
	assert.Equal(t, "/proj/.cadence/workspaces", cfg.Workspace.Dir)
	assert.Equal(t, "/proj/.cadence/history.db", cfg.History.DBPath)
	assert.Equal(t, "/proj", cfg.Workspace.Root)
	assert.Equal(t, []string{"/proj/docs/prd.md", "/abs/arch.md"}, cfg.Documents)

	mem := DefaultConfig()
	mem.History.DBPath = ":memory:"
	mem.ResolvePaths("/proj/.cadence", "/proj")
	assert.Equal(t, ":memory:", mem.History.DBPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }, "max_retries"},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, "max_iterations"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"tiny report limit", func(c *Config) { c.ReportLimitBytes = 10 }, "report_limit_bytes"},
		{"empty branch", func(c *Config) { c.Workspace.IntegrationBranch = "" }, "integration_branch"},
		{"port out of range", func(c *Config) { c.Workspace.BasePort = 70000 }, "base_port"},
		{"zero stride", func(c *Config) { c.Workspace.Stride = 0 }, "stride"},
		{"bad probe kind", func(c *Config) {
			c.Quality.Probes = []ProbeConfig{{Name: "db", Kind: "udp", Target: "x"}}
		}, "kind must be"},
		{"duplicate suite", func(c *Config) {
			c.Quality.Suites = []SuiteConfig{
				{Name: "unit", Command: "true", Phase: "RunUnitTests"},
				{Name: "unit", Command: "true", Phase: "RunUnitTests"},
			}
		}, "duplicate suite"},
		{"suite bad phase", func(c *Config) {
			c.Quality.Suites = []SuiteConfig{{Name: "unit", Command: "true", Phase: "Review"}}
		}, "phase must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
