package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"draftcell/internal/config"
)

const logLevelEnvKey = "DRAFTCELL_LOG_LEVEL"

// configureLoggerForCLI installs the default slog logger. A bad --log-level
// is an error; a bad env or config level falls back to info and returns a
// warning line for stderr.
func configureLoggerForCLI(flagLevel, configLevel string) (string, error) {
	envLevel := os.Getenv(logLevelEnvKey)
	raw, source := selectedLogLevel(flagLevel, envLevel, configLevel)

	level, err := parseLogLevel(raw)
	if err == nil {
		slog.SetDefault(newLogger(level))
		return "", nil
	}

	var origin string
	switch source {
	case "flag":
		return "", fmt.Errorf("invalid --log-level %q", flagLevel)
	case "env":
		origin = logLevelEnvKey
	default:
		origin = "log_level"
	}
	slog.SetDefault(newLogger(slog.LevelInfo))
	return fmt.Sprintf("warning: invalid %s=%q; defaulting to %s", origin, raw, config.DefaultLogLevel), nil
}

func selectedLogLevel(flagLevel, envLevel, configLevel string) (string, string) {
	for _, candidate := range []struct{ raw, source string }{
		{flagLevel, "flag"},
		{envLevel, "env"},
		{configLevel, "config"},
	} {
		if strings.TrimSpace(candidate.raw) != "" {
			return candidate.raw, candidate.source
		}
	}
	return "", "default"
}

// parseLogLevel accepts slog level names, "warning", and numeric levels.
// Empty means info.
func parseLogLevel(raw string) (slog.Level, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	if numeric, err := strconv.Atoi(value); err == nil {
		return slog.Level(numeric), nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
