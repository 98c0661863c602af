// Package logger provides logging implementations for sprint execution.
//
// Loggers report sprint lifecycle events (phase starts, transitions,
// failures, blocks) and run summaries. Implementations are thread-safe and
// write to the console, to per-run log files, or to several sinks at once.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/orchestrator"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger logs execution progress to a writer with timestamps.
// All output is prefixed with [HH:MM:SS]. Color output is enabled when the
// writer is a terminal and NO_COLOR is unset.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

var _ orchestrator.Logger = (*ConsoleLogger)(nil)

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded. Invalid levels fall
// back to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is a TTY that should receive colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (cl *ConsoleLogger) shouldLog(level string) bool {
	return cl.writer != nil && enabled(cl.logLevel, level)
}

func (cl *ConsoleLogger) paint(attr color.Attribute, s string) string {
	if !cl.colorOutput {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

// write prefixes every line of msg with the timestamp.
func (cl *ConsoleLogger) write(msg string) {
	ts := "[" + timestamp() + "] "
	lines := strings.Split(strings.TrimRight(msg, "\n"), "\n")
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(ts)
		b.WriteString(line)
		b.WriteByte('\n')
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	_, _ = io.WriteString(cl.writer, b.String())
}

func (cl *ConsoleLogger) logWithLevel(level, message string) {
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}
	var tag string
	switch level {
	case "TRACE":
		tag = cl.paint(color.FgHiBlack, level)
	case "DEBUG":
		tag = cl.paint(color.FgCyan, level)
	case "INFO":
		tag = cl.paint(color.FgBlue, level)
	case "WARN":
		tag = cl.paint(color.FgYellow, level)
	case "ERROR":
		tag = cl.paint(color.FgRed, level)
	default:
		tag = level
	}
	cl.write(fmt.Sprintf("[%s] %s", tag, message))
}

// Tracef logs a trace-level message.
func (cl *ConsoleLogger) Tracef(format string, args ...interface{}) {
	cl.logWithLevel("TRACE", fmt.Sprintf(format, args...))
}

// Debugf logs a debug-level message.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf logs a warning.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

// LogSprintStart logs the start of a sprint run at INFO level.
// Format: "[HH:MM:SS] Sprint <id> starting at <phase>: <goal>"
func (cl *ConsoleLogger) LogSprintStart(sprint *models.Sprint) {
	if !cl.shouldLog("info") {
		return
	}
	id := cl.paint(color.Bold, "Sprint "+sprint.ID)
	msg := fmt.Sprintf("%s starting at %s", id, sprint.Status)
	if sprint.Goal != "" {
		msg += ": " + firstLine(sprint.Goal)
	}
	cl.write(msg)
}

// LogPhaseStart logs one phase attempt at DEBUG level.
func (cl *ConsoleLogger) LogPhaseStart(sprintID string, phase models.Phase, attempt int) {
	if !cl.shouldLog("debug") {
		return
	}
	cl.write(fmt.Sprintf("Sprint %s: %s attempt %d", sprintID, phase, attempt))
}

// LogPhaseComplete logs a committed transition at INFO level with the
// sprint's position in the pipeline.
// Format: "[HH:MM:SS] Sprint <id>: <from> -> <to> (<duration>) [===   ] n/8 (p%)"
func (cl *ConsoleLogger) LogPhaseComplete(sprintID string, from, to models.Phase, duration time.Duration) {
	if !cl.shouldLog("info") {
		return
	}
	pos := newBar(to.Index(), pipelineSteps(), 10, cl.colorOutput)
	cl.write(fmt.Sprintf("Sprint %s: %s -> %s (%s) %s",
		sprintID, from, cl.paint(color.FgGreen, string(to)), formatDuration(duration), pos))
}

// LogPhaseFailure logs a failed phase attempt at WARN level.
func (cl *ConsoleLogger) LogPhaseFailure(sprintID string, phase models.Phase, retryCount int, err error) {
	if !cl.shouldLog("warn") {
		return
	}
	cl.write(fmt.Sprintf("[%s] Sprint %s: %s failed (retry %d): %v",
		cl.paint(color.FgYellow, "WARN"), sprintID, phase, retryCount, err))
}

// LogSprintBlocked logs a blocked sprint at ERROR level.
func (cl *ConsoleLogger) LogSprintBlocked(sprintID string, phase models.Phase, reportPath string) {
	if !cl.shouldLog("error") {
		return
	}
	msg := fmt.Sprintf("[%s] Sprint %s blocked at %s", cl.paint(color.FgRed, "ERROR"), sprintID, phase)
	if reportPath != "" {
		msg += "; see " + reportPath
	}
	cl.write(msg)
}

// LogSprintResult logs the end of one sprint run at INFO level.
// Format: "[HH:MM:SS] Sprint <id>: <outcome> at <phase> (<n> transitions, <duration>)"
func (cl *ConsoleLogger) LogSprintResult(result models.SprintResult) {
	if !cl.shouldLog("info") {
		return
	}
	msg := fmt.Sprintf("Sprint %s: %s at %s (%d transitions, %s)",
		result.SprintID, cl.outcome(result.Outcome), result.Phase, result.Transitions, formatDuration(result.Duration))
	if result.Error != nil && !result.Succeeded() {
		msg += ": " + firstLine(result.Error.Error())
	}
	cl.write(msg)
}

func (cl *ConsoleLogger) outcome(o models.Outcome) string {
	switch o {
	case models.OutcomeSuccess:
		return cl.paint(color.FgGreen, string(o))
	case models.OutcomeBlocked, models.OutcomeFatal:
		return cl.paint(color.FgRed, string(o))
	case models.OutcomeGateFailure, models.OutcomeInterrupted:
		return cl.paint(color.FgYellow, string(o))
	default:
		return string(o)
	}
}

// LogSummary logs the run summary at INFO level.
func (cl *ConsoleLogger) LogSummary(result models.ExecutionResult) {
	if !cl.shouldLog("info") {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", cl.paint(color.Bold, "=== Execution Summary ==="))
	if result.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", result.RunID)
	}
	fmt.Fprintf(&b, "Total sprints: %d\n", result.Total)
	fmt.Fprintf(&b, "%s\n", cl.paint(color.FgGreen, fmt.Sprintf("Completed: %d", result.Completed)))

	counts := []struct {
		label string
		n     int
		attr  color.Attribute
	}{
		{"Blocked", result.Blocked, color.FgRed},
		{"Failed", result.Failed, color.FgRed},
		{"Skipped", result.Skipped, color.FgYellow},
	}
	for _, c := range counts {
		line := fmt.Sprintf("%s: %d", c.label, c.n)
		if c.n > 0 {
			line = cl.paint(c.attr, line)
		}
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "Duration: %s\n", formatDuration(result.Duration))

	fmt.Fprintf(&b, "Progress: %s\n", newBar(result.Completed, result.Total, 20, cl.colorOutput))

	var unfinished []models.SprintResult
	for _, r := range result.Results {
		if !r.Succeeded() && r.Outcome != models.OutcomeSkipped {
			unfinished = append(unfinished, r)
		}
	}
	if len(unfinished) > 0 {
		b.WriteString(cl.paint(color.FgRed, "Unfinished sprints:") + "\n")
		for _, r := range unfinished {
			fmt.Fprintf(&b, "  - Sprint %s: %s at %s\n", r.SprintID, r.Outcome, r.Phase)
			if r.FailurePath != "" {
				fmt.Fprintf(&b, "    report: %s\n", r.FailurePath)
			}
		}
	}

	cl.write(b.String())
}

// pipelineSteps is the number of transitions from Pending to Done.
func pipelineSteps() int {
	return len(models.AllPhases()) - 1
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}
