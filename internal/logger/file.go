package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/orchestrator"
	"github.com/harrison/cadence/internal/workspace"
)

// FileLogger writes a timestamped log per run plus one appending log per
// sprint under <logDir>/sprints/. latest.log points at the newest run log.
type FileLogger struct {
	logDir     string
	runLog     *os.File
	runFile    string
	sprintsDir string
	logLevel   string
	mu         sync.Mutex
}

var _ orchestrator.Logger = (*FileLogger)(nil)

// NewFileLogger creates a FileLogger under logDir, creating it if needed.
func NewFileLogger(logDir, logLevel string) (*FileLogger, error) {
	sprintsDir := filepath.Join(logDir, "sprints")
	if err := os.MkdirAll(sprintsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log; a second run in the same second appends.
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:     logDir,
		runLog:     file,
		runFile:    runFile,
		sprintsDir: sprintsDir,
		logLevel:   normalizeLogLevel(logLevel),
	}
	fl.writeRunLog(fmt.Sprintf("=== Cadence Run Log ===\nStarted at: %s\n\n", time.Now().Format(time.RFC3339)))
	return fl, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// SprintLogPath returns the per-sprint log of id.
func (fl *FileLogger) SprintLogPath(id string) string {
	return filepath.Join(fl.sprintsDir, workspace.Slug(id)+".log")
}

func (fl *FileLogger) logWithLevel(level, message string) {
	if !enabled(fl.logLevel, strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// Debugf logs a debug-level message.
func (fl *FileLogger) Debugf(format string, args ...interface{}) {
	fl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (fl *FileLogger) Infof(format string, args ...interface{}) {
	fl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs a warning.
func (fl *FileLogger) Warnf(format string, args ...interface{}) {
	fl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (fl *FileLogger) Errorf(format string, args ...interface{}) {
	fl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

// event writes msg to the run log (subject to level) and always to the
// sprint's own log.
func (fl *FileLogger) event(level, sprintID, msg string) {
	fl.logWithLevel(level, msg)
	fl.writeSprintLog(sprintID, fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format(time.RFC3339), level, msg))
}

// LogSprintStart implements orchestrator.Logger.
func (fl *FileLogger) LogSprintStart(sprint *models.Sprint) {
	fl.event("INFO", sprint.ID, fmt.Sprintf("Sprint %s starting at %s (retry count %d)", sprint.ID, sprint.Status, sprint.RetryCount))
}

// LogPhaseStart implements orchestrator.Logger.
func (fl *FileLogger) LogPhaseStart(sprintID string, phase models.Phase, attempt int) {
	fl.event("DEBUG", sprintID, fmt.Sprintf("Sprint %s: %s attempt %d", sprintID, phase, attempt))
}

// LogPhaseComplete implements orchestrator.Logger.
func (fl *FileLogger) LogPhaseComplete(sprintID string, from, to models.Phase, duration time.Duration) {
	fl.event("INFO", sprintID, fmt.Sprintf("Sprint %s: %s -> %s (%.1fs)", sprintID, from, to, duration.Seconds()))
}

// LogPhaseFailure implements orchestrator.Logger. The full error, including
// multi-line gate output, goes to the sprint log.
func (fl *FileLogger) LogPhaseFailure(sprintID string, phase models.Phase, retryCount int, err error) {
	fl.event("WARN", sprintID, fmt.Sprintf("Sprint %s: %s failed (retry %d): %v", sprintID, phase, retryCount, err))
}

// LogSprintBlocked implements orchestrator.Logger.
func (fl *FileLogger) LogSprintBlocked(sprintID string, phase models.Phase, reportPath string) {
	fl.event("ERROR", sprintID, fmt.Sprintf("Sprint %s blocked at %s; report: %s", sprintID, phase, reportPath))
}

// LogSprintResult implements orchestrator.Logger.
func (fl *FileLogger) LogSprintResult(result models.SprintResult) {
	msg := fmt.Sprintf("Sprint %s: %s at %s (%d transitions, %.1fs)",
		result.SprintID, result.Outcome, result.Phase, result.Transitions, result.Duration.Seconds())
	if result.Error != nil {
		msg += fmt.Sprintf(": %v", result.Error)
	}
	fl.event("INFO", result.SprintID, msg)
}

// LogSummary writes the run totals at INFO level.
func (fl *FileLogger) LogSummary(result models.ExecutionResult) {
	if !enabled(fl.logLevel, "info") {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Execution Summary ===\n")
	fmt.Fprintf(&b, "Run: %s\n", result.RunID)
	fmt.Fprintf(&b, "Total sprints: %d\n", result.Total)
	fmt.Fprintf(&b, "Completed: %d\n", result.Completed)
	fmt.Fprintf(&b, "Blocked: %d\n", result.Blocked)
	fmt.Fprintf(&b, "Failed: %d\n", result.Failed)
	fmt.Fprintf(&b, "Skipped: %d\n", result.Skipped)
	fmt.Fprintf(&b, "Duration: %.1fs\n", result.Duration.Seconds())
	for _, r := range result.Results {
		fmt.Fprintf(&b, "  - Sprint %s: %s at %s\n", r.SprintID, r.Outcome, r.Phase)
	}
	fl.writeRunLog(b.String())
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}

func (fl *FileLogger) writeSprintLog(sprintID, line string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	f, err := os.OpenFile(fl.SprintLogPath(sprintID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(line)
}
