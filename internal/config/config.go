package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides.
// Nested keys use a double underscore: CADENCE_WORKSPACE__BASE_PORT.
const EnvPrefix = "CADENCE_"

// WorkerConfig configures the external worker adapter
type WorkerConfig struct {
	// Command is the worker executable (e.g. "claude")
	Command string `yaml:"command"`

	// Args are passed before the prompt arguments
	Args []string `yaml:"args"`

	// Timeout bounds a single invocation (0 = no limit)
	Timeout time.Duration `yaml:"timeout"`

	// Roles maps a worker role to the agent name the worker should use
	Roles map[string]string `yaml:"roles"`

	// AgentsDir holds agent definitions referenced by Roles (default ~/.claude/agents)
	AgentsDir string `yaml:"agents_dir"`
}

// WorkspaceConfig configures sandbox isolation
type WorkspaceConfig struct {
	// Root is the repository that owns the integration branch
	Root string `yaml:"root"`

	// Dir is where working copies are materialized
	Dir string `yaml:"dir"`

	// IntegrationBranch is the main integration line
	IntegrationBranch string `yaml:"integration_branch"`

	// BasePort is the first port handed out
	BasePort int `yaml:"base_port"`

	// Stride is the size of each workspace's port block
	Stride int `yaml:"stride"`

	// MaxProbe bounds the forward search on port collisions
	MaxProbe int `yaml:"max_probe"`

	// EnvFiles are service/environment definitions whose ports get rewritten
	EnvFiles []string `yaml:"env_files"`
}

// ProbeConfig describes one readiness probe
type ProbeConfig struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`   // tcp, http, command
	Target string `yaml:"target"` // {port:N} expands to the workspace port base + N
}

// SuiteConfig describes a verification suite recorded for regression checks
type SuiteConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Phase   string `yaml:"phase"` // RunUnitTests or RunE2ETests
}

// QualityConfig configures the quality gates
type QualityConfig struct {
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	Probes           []ProbeConfig `yaml:"probes"`
	Suites           []SuiteConfig `yaml:"suites"`
}

// HistoryConfig configures the history database
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr serves /metrics during a run when non-empty (e.g. ":9464")
	Addr string `yaml:"addr"`
}

// Config represents cadence configuration options
type Config struct {
	// ProgressFile is the sprint progress document
	ProgressFile string `yaml:"progress_file"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written
	LogDir string `yaml:"log_dir"`

	// MaxRetries is the consecutive phase failures that block a sprint
	MaxRetries int `yaml:"max_retries"`

	// MaxIterations is the hard ceiling on loop iterations per sprint run
	MaxIterations int `yaml:"max_iterations"`

	// Concurrency is the number of sprints executed at once in parallel mode
	Concurrency int `yaml:"concurrency"`

	// AutoFix enables the single fix-and-rerun pass of the quality gates
	AutoFix bool `yaml:"auto_fix"`

	// FailureDir holds failure reports keyed by sprint and phase
	FailureDir string `yaml:"failure_dir"`

	// ReportLimitBytes caps the size of one failure report
	ReportLimitBytes int `yaml:"report_limit_bytes"`

	// Documents are supporting documents handed to every worker invocation
	Documents []string `yaml:"documents"`

	Worker    WorkerConfig    `yaml:"worker"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Quality   QualityConfig   `yaml:"quality"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		ProgressFile:     "progress.yaml",
		LogLevel:         "info",
		LogDir:           "logs",
		MaxRetries:       3,
		MaxIterations:    50,
		Concurrency:      2,
		AutoFix:          true,
		FailureDir:       "failures",
		ReportLimitBytes: 8 * 1024,
		Worker: WorkerConfig{
			Command: "claude",
			Args:    []string{"--dangerously-skip-permissions"},
			Timeout: 30 * time.Minute,
			Roles:   map[string]string{},
		},
		Workspace: WorkspaceConfig{
			Root:              ".",
			Dir:               "workspaces",
			IntegrationBranch: "main",
			BasePort:          3000,
			Stride:            10,
			MaxProbe:          64,
			EnvFiles:          []string{".env", "docker-compose.yml", "docker-compose.yaml", "compose.yaml"},
		},
		Quality: QualityConfig{
			ReadinessTimeout: 60 * time.Second,
			PollInterval:     2 * time.Second,
		},
		History: HistoryConfig{
			DBPath: "history.db",
		},
	}
}

// LoadConfig loads configuration from the specified file path, then applies
// CADENCE_* environment overrides.
// If the file doesn't exist, defaults (plus environment) are returned.
// If the file exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, nil
}

// envKey maps CADENCE_WORKSPACE__BASE_PORT to workspace.base_port.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// LoadConfigFromHome loads <home>/config.yaml
func LoadConfigFromHome(home string) (*Config, error) {
	return LoadConfig(filepath.Join(home, "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(concurrency *int, maxRetries *int, autoFix *bool, logLevel *string, metricsAddr *string) {
	if concurrency != nil {
		c.Concurrency = *concurrency
	}
	if maxRetries != nil {
		c.MaxRetries = *maxRetries
	}
	if autoFix != nil {
		c.AutoFix = *autoFix
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if metricsAddr != nil {
		c.Metrics.Addr = *metricsAddr
	}
}

// ResolvePaths makes relative paths absolute. State files (progress, logs,
// failures, workspaces, history) resolve against home; the repository root
// and supporting documents resolve against root.
func (c *Config) ResolvePaths(home, root string) {
	resolve := func(base string, p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(home, &c.ProgressFile)
	resolve(home, &c.LogDir)
	resolve(home, &c.FailureDir)
	resolve(home, &c.Workspace.Dir)
	if c.History.DBPath != ":memory:" {
		resolve(home, &c.History.DBPath)
	}
	resolve(root, &c.Workspace.Root)
	for i := range c.Documents {
		resolve(root, &c.Documents[i])
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	if c.ProgressFile == "" {
		return fmt.Errorf("progress_file cannot be empty")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be > 0, got %d", c.MaxRetries)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be > 0, got %d", c.MaxIterations)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0, got %d", c.Concurrency)
	}
	if c.ReportLimitBytes < 512 {
		return fmt.Errorf("report_limit_bytes must be >= 512, got %d", c.ReportLimitBytes)
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command cannot be empty")
	}
	if c.Worker.Timeout < 0 {
		return fmt.Errorf("worker.timeout must be >= 0, got %v", c.Worker.Timeout)
	}

	ws := c.Workspace
	if ws.IntegrationBranch == "" {
		return fmt.Errorf("workspace.integration_branch cannot be empty")
	}
	if ws.BasePort <= 0 || ws.BasePort > 65535 {
		return fmt.Errorf("workspace.base_port must be in 1..65535, got %d", ws.BasePort)
	}
	if ws.Stride <= 0 {
		return fmt.Errorf("workspace.stride must be > 0, got %d", ws.Stride)
	}
	if ws.MaxProbe <= 0 {
		return fmt.Errorf("workspace.max_probe must be > 0, got %d", ws.MaxProbe)
	}

	q := c.Quality
	if q.ReadinessTimeout <= 0 {
		return fmt.Errorf("quality.readiness_timeout must be > 0, got %v", q.ReadinessTimeout)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("quality.poll_interval must be > 0, got %v", q.PollInterval)
	}
	for _, p := range q.Probes {
		switch p.Kind {
		case "tcp", "http", "command":
		default:
			return fmt.Errorf("quality.probes[%s]: kind must be tcp, http or command, got %q", p.Name, p.Kind)
		}
		if p.Target == "" {
			return fmt.Errorf("quality.probes[%s]: target cannot be empty", p.Name)
		}
	}
	seen := make(map[string]bool)
	for _, s := range q.Suites {
		if s.Name == "" || s.Command == "" {
			return fmt.Errorf("quality.suites: name and command are required")
		}
		if seen[s.Name] {
			return fmt.Errorf("quality.suites: duplicate suite %q", s.Name)
		}
		seen[s.Name] = true
		if s.Phase != "RunUnitTests" && s.Phase != "RunE2ETests" {
			return fmt.Errorf("quality.suites[%s]: phase must be RunUnitTests or RunE2ETests, got %q", s.Name, s.Phase)
		}
	}

	return nil
}
