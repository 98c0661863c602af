package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/orchestrator"
	"github.com/spf13/cobra"
)

// errIncomplete makes the process exit non-zero when sprints stopped short
// of Done.
var errIncomplete = errors.New("not every sprint reached Done")

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [sprint-id]...",
		Short: "Drive sprints through the pipeline",
		Long: `Run advances the named sprints (or, with --all, every sprint that is
not Done) phase by phase until each is Done or Blocked.

Sprints joined by depends_on run in dependency order. With --parallel,
independent sprints run concurrently in separate workspaces, at most
--concurrency at a time.

Examples:
  cadence run 3                    # one sprint
  cadence run --all                # everything, one at a time
  cadence run --all --parallel     # independent sprints concurrently
  cadence run --all --metrics-addr :9464

Exit code: 0 if every requested sprint reached Done, 1 otherwise.`,
		RunE: runCommand,
	}

	cmd.Flags().Bool("all", false, "Run every sprint that is not Done")
	cmd.Flags().Bool("parallel", false, "Run independent sprints concurrently")
	cmd.Flags().Int("concurrency", 0, "Sprints running at once with --parallel (default: config)")
	cmd.Flags().Bool("no-fix", false, "Disable the automatic fix pass of the quality gates")
	cmd.Flags().Int("max-retries", 0, "Consecutive phase failures before a sprint blocks (default: config)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) > 0) {
		return fmt.Errorf("name sprint ids or pass --all (not both)")
	}

	cfg, home, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var concurrencyPtr, maxRetriesPtr *int
	var autoFixPtr *bool
	var metricsAddrPtr *string
	if cmd.Flags().Changed("concurrency") {
		n, _ := cmd.Flags().GetInt("concurrency")
		concurrencyPtr = &n
	}
	if cmd.Flags().Changed("max-retries") {
		n, _ := cmd.Flags().GetInt("max-retries")
		maxRetriesPtr = &n
	}
	if noFix, _ := cmd.Flags().GetBool("no-fix"); noFix {
		off := false
		autoFixPtr = &off
	}
	if cmd.Flags().Changed("metrics-addr") {
		addr, _ := cmd.Flags().GetString("metrics-addr")
		metricsAddrPtr = &addr
	}
	cfg.MergeWithFlags(concurrencyPtr, maxRetriesPtr, autoFixPtr, nil, metricsAddrPtr)

	a, err := openApp(cmd, cfg, home, true)
	if err != nil {
		return err
	}
	defer a.Close()

	worker, err := a.newWorker()
	if err != nil {
		return err
	}
	orch, err := a.newOrchestrator(worker)
	if err != nil {
		return err
	}

	// Cancel cooperatively on SIGINT/SIGTERM; committed phases survive.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			a.log.Warnf("received interrupt signal, stopping after in-flight phases")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				a.log.Warnf("metrics endpoint: %v", err)
			}
		}()
		a.log.Infof("serving metrics on %s/metrics", cfg.Metrics.Addr)
	}

	parallel, _ := cmd.Flags().GetBool("parallel")
	var result *models.ExecutionResult
	if all {
		result, err = orch.RunAll(ctx, parallel)
	} else {
		concurrency := 1
		if parallel {
			concurrency = cfg.Concurrency
		}
		result, err = orch.RunParallel(ctx, args, concurrency)
	}
	if err != nil {
		if orchestrator.IsFatal(err) {
			return fmt.Errorf("fatal: %w", err)
		}
		return err
	}

	if a.fileLog != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Logs written to: %s\n", a.fileLog.RunFile())
	}
	if result.Completed < result.Total {
		return fmt.Errorf("%w: %d of %d completed", errIncomplete, result.Completed, result.Total)
	}
	return nil
}
