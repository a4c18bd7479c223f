// Package config provides configuration helpers for go-obstacle commands.
package config

import (
	"os"
	"strings"
)

// Default stream and dashboard configuration.
const (
	DefaultStreamURL = "http://192.168.1.55/stream"
	DefaultWebPort   = "8080"
	DefaultLogLevel  = "info"
)

// StreamURL returns the camera stream URL from STREAM_URL env var.
// Falls back to the provided default if not set.
func StreamURL(defaultURL string) string {
	if url := os.Getenv("STREAM_URL"); url != "" {
		return url
	}
	return defaultURL
}

// WebPort returns the dashboard port from WEB_PORT env var.
// Falls back to the provided default if not set.
func WebPort(defaultPort string) string {
	if port := os.Getenv("WEB_PORT"); port != "" {
		return strings.TrimPrefix(port, ":")
	}
	return defaultPort
}

// LogLevel returns the log level from LOG_LEVEL env var, lower-cased.
// Falls back to the provided default if not set.
func LogLevel(defaultLevel string) string {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		return strings.ToLower(level)
	}
	return defaultLevel
}

// Production reports whether GO_ENV is "production".
func Production() bool {
	return os.Getenv("GO_ENV") == "production"
}
