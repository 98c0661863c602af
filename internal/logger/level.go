package logger

import "strings"

// levels orders the accepted log levels, most verbose first.
var levels = map[string]int{"trace": 0, "debug": 1, "info": 2, "warn": 3, "error": 4}

// normalizeLogLevel lowercases level, falling back to "info" when it is
// empty or unknown.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if _, ok := levels[normalized]; ok {
		return normalized
	}
	return "info"
}

// enabled reports whether a message at msgLevel passes the configured level.
func enabled(configured, msgLevel string) bool {
	return levels[normalizeLogLevel(msgLevel)] >= levels[normalizeLogLevel(configured)]
}
