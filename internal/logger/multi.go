package logger

import (
	"fmt"
	"time"

	"github.com/harrison/cadence/internal/models"
	"github.com/harrison/cadence/internal/orchestrator"
)

// MultiLogger fans every event out to several loggers in order.
type MultiLogger struct {
	loggers []orchestrator.Logger
}

// NewMultiLogger creates a MultiLogger. Nil entries are dropped.
func NewMultiLogger(loggers ...orchestrator.Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) LogSprintStart(sprint *models.Sprint) {
	for _, l := range m.loggers {
		l.LogSprintStart(sprint)
	}
}

func (m *MultiLogger) LogPhaseStart(sprintID string, phase models.Phase, attempt int) {
	for _, l := range m.loggers {
		l.LogPhaseStart(sprintID, phase, attempt)
	}
}

func (m *MultiLogger) LogPhaseComplete(sprintID string, from, to models.Phase, duration time.Duration) {
	for _, l := range m.loggers {
		l.LogPhaseComplete(sprintID, from, to, duration)
	}
}

func (m *MultiLogger) LogPhaseFailure(sprintID string, phase models.Phase, retryCount int, err error) {
	for _, l := range m.loggers {
		l.LogPhaseFailure(sprintID, phase, retryCount, err)
	}
}

func (m *MultiLogger) LogSprintBlocked(sprintID string, phase models.Phase, reportPath string) {
	for _, l := range m.loggers {
		l.LogSprintBlocked(sprintID, phase, reportPath)
	}
}

func (m *MultiLogger) LogSprintResult(result models.SprintResult) {
	for _, l := range m.loggers {
		l.LogSprintResult(result)
	}
}

func (m *MultiLogger) LogSummary(result models.ExecutionResult) {
	for _, l := range m.loggers {
		l.LogSummary(result)
	}
}

func (m *MultiLogger) Infof(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	for _, l := range m.loggers {
		l.Infof("%s", msg)
	}
}

func (m *MultiLogger) Warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	for _, l := range m.loggers {
		l.Warnf("%s", msg)
	}
}

// NoOpLogger discards everything. Useful for tests or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (NoOpLogger) LogSprintStart(*models.Sprint) {}
func (NoOpLogger) LogPhaseStart(string, models.Phase, int) {}
func (NoOpLogger) LogPhaseComplete(string, models.Phase, models.Phase, time.Duration) {}
func (NoOpLogger) LogPhaseFailure(string, models.Phase, int, error) {}
func (NoOpLogger) LogSprintBlocked(string, models.Phase, string) {}
func (NoOpLogger) LogSprintResult(models.SprintResult) {}
func (NoOpLogger) LogSummary(models.ExecutionResult) {}
func (NoOpLogger) Infof(string, ...interface{}) {}
func (NoOpLogger) Warnf(string, ...interface{}) {}
