package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/cadence/internal/agent"
	"github.com/harrison/cadence/internal/config"
	"github.com/harrison/cadence/internal/history"
	"github.com/harrison/cadence/internal/logger"
	"github.com/harrison/cadence/internal/metrics"
	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/orchestrator"
	"github.com/harrison/cadence/internal/progress"
	"github.com/harrison/cadence/internal/quality"
	"github.com/harrison/cadence/internal/workspace"
	"github.com/spf13/cobra"
)

// loadConfig resolves the cadence home, loads its config.yaml (or the
// --config override) and makes every path absolute.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	home, err := config.GetCadenceHome()
	if err != nil {
		return nil, "", err
	}

	path := filepath.Join(home, "config.yaml")
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		path = p
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, "", err
	}

	if cmd.Flags().Changed("log-level") {
		level, _ := cmd.Flags().GetString("log-level")
		cfg.MergeWithFlags(nil, nil, nil, &level, nil)
	}
	cfg.ResolvePaths(home, config.ProjectRoot(home))
	return cfg, home, nil
}

// app holds the components of one command invocation.
type app struct {
	cfg        *config.Config
	home       string
	log        *logger.MultiLogger
	console    *logger.ConsoleLogger
	fileLog    *logger.FileLogger
	metrics    *metrics.Collector
	store      *progress.Store
	workspaces *workspace.Manager
	history    *history.Store
}

// openApp builds the shared components. withFileLog adds a per-run log file.
func openApp(cmd *cobra.Command, cfg *config.Config, home string, withFileLog bool) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, models.NewConfigurationError(filepath.Join(home, "config.yaml"), err)
	}

	a := &app{cfg: cfg, home: home, metrics: metrics.New()}
	a.console = logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if withFileLog {
		fl, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		a.fileLog = fl
	}
	if a.fileLog != nil {
		a.log = logger.NewMultiLogger(a.console, a.fileLog)
	} else {
		a.log = logger.NewMultiLogger(a.console)
	}

	store, err := progress.Open(cfg.ProgressFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	ws := cfg.Workspace
	a.workspaces, err = workspace.NewManager(workspace.Options{
		Root:              ws.Root,
		Dir:               ws.Dir,
		IntegrationBranch: ws.IntegrationBranch,
		BasePort:          ws.BasePort,
		Stride:            ws.Stride,
		MaxProbe:          ws.MaxProbe,
		EnvFiles:          ws.EnvFiles,
		Metrics:           a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	// History is best effort: without it the regression gate has no
	// baseline and transitions are not audited.
	if h, err := history.NewStore(cfg.History.DBPath); err != nil {
		a.console.Warnf("history disabled: %v", err)
	} else {
		a.history = h
	}
	return a, nil
}

// Close releases the file logger and the history database.
func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
	if a.fileLog != nil {
		a.fileLog.Close()
	}
}

// probes converts configured readiness probes.
func probes(cfg *config.Config) []quality.Probe {
	out := make([]quality.Probe, 0, len(cfg.Quality.Probes))
	for _, p := range cfg.Quality.Probes {
		out = append(out, quality.Probe{Name: p.Name, Kind: p.Kind, Target: p.Target})
	}
	return out
}

// gatePipeline is the schema + shape pipeline every artifact passes.
func gatePipeline(c *metrics.Collector) *quality.Pipeline {
	return quality.NewPipeline(quality.NewSchemaGate(), quality.NewShapeGate()).WithMetrics(c)
}

// newWorker builds the CLI worker and checks its role bindings.
func (a *app) newWorker() (*agent.CLIWorker, error) {
	wc := a.cfg.Worker
	w := agent.NewCLIWorker(wc.Command, wc.Args, wc.Timeout, wc.Roles)

	if len(wc.Roles) > 0 {
		reg := agent.NewRegistry(wc.AgentsDir)
		reg.Warn = a.log.Warnf
		if _, err := reg.Discover(); err != nil {
			return nil, fmt.Errorf("discover agents: %w", err)
		}
		if errs := agent.ValidateRoles(wc.Roles, reg); len(errs) > 0 {
			return nil, models.NewConfigurationError("worker.roles", &errs[0])
		}
		w.Registry = reg
	}
	return w, nil
}

// newOrchestrator wires the sprint orchestrator from the app's components.
func (a *app) newOrchestrator(worker orchestrator.Worker) (*orchestrator.Orchestrator, error) {
	verification := []quality.Gate{
		quality.NewReadinessGate(probes(a.cfg), a.cfg.Quality.ReadinessTimeout, a.cfg.Quality.PollInterval),
	}

	var suites []orchestrator.Suite
	for _, s := range a.cfg.Quality.Suites {
		suites = append(suites, orchestrator.Suite{Name: s.Name, Command: s.Command, Phase: models.Phase(s.Phase)})
	}

	cfg := orchestrator.Config{
		Store:             a.store,
		Workspaces:        a.workspaces,
		Worker:            worker,
		Logger:            a.log,
		Metrics:           a.metrics,
		Gates:             gatePipeline(a.metrics),
		VerificationGates: verification,
		Suites:            suites,
		MaxRetries:        a.cfg.MaxRetries,
		MaxIterations:     a.cfg.MaxIterations,
		Concurrency:       a.cfg.Concurrency,
		AutoFix:           a.cfg.AutoFix,
		FailureDir:        a.cfg.FailureDir,
		ReportLimit:       a.cfg.ReportLimitBytes,
		Documents:         a.cfg.Documents,
	}
	if a.history != nil {
		cfg.History = a.history
		cfg.VerificationGates = append(cfg.VerificationGates, quality.NewRegressionGate(a.history, quality.ShellRunner{}))
	}
	return orchestrator.New(cfg)
}

// liveBranches returns the workspace branches still referenced by a sprint.
func (a *app) liveBranches() map[string]bool {
	live := make(map[string]bool)
	for _, s := range a.store.Sprints() {
		if s.Workspace != nil {
			live[s.Workspace.Branch] = true
		}
	}
	return live
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
