package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger based on level/format settings. Logs go to
// stderr so CLI output on stdout stays machine-readable.
func NewLogger(level, format string) (*zap.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	var zapLevel zapcore.Level
	if err := zapLevel.Set(strings.ToLower(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Encoding = "console"
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("invalid log format %q: want console or json", format)
	}

	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("testpilot"), nil
}
