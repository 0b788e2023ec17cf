// Package logging builds the zap loggers used by the binaries. Library
// packages never build their own; they take a *zap.Logger and default to a
// no-op one.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel accepts any zap level name, ignoring case and surrounding space.
// An empty string means info.
func ParseLevel(s string) (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("logging: %w", err)
	}
	return lvl, nil
}

// New builds a logger writing to stderr. Development loggers use the console
// encoder; production ones write JSON.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
