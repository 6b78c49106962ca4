package main

import (
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    slog.Level
		wantErr bool
	}{
		{name: "default info", raw: "", want: slog.LevelInfo},
		{name: "debug", raw: "debug", want: slog.LevelDebug},
		{name: "upper case", raw: "INFO", want: slog.LevelInfo},
		{name: "warning alias", raw: "Warning", want: slog.LevelWarn},
		{name: "error", raw: " error ", want: slog.LevelError},
		{name: "numeric", raw: "8", want: slog.LevelError},
		{name: "invalid", raw: "chatty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLogLevel(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse level: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSelectedLogLevel(t *testing.T) {
	tests := []struct {
		flag, env, cfg      string
		wantRaw, wantSource string
	}{
		{"debug", "error", "warn", "debug", "flag"},
		{" ", "warn", "info", "warn", "env"},
		{"", "", "error", "error", "config"},
		{"", "", "", "", "default"},
	}
	for _, tt := range tests {
		raw, source := selectedLogLevel(tt.flag, tt.env, tt.cfg)
		if raw != tt.wantRaw || source != tt.wantSource {
			t.Fatalf("selectedLogLevel(%q, %q, %q) = %q, %q", tt.flag, tt.env, tt.cfg, raw, source)
		}
	}
}

func TestConfigureLoggerForCLI(t *testing.T) {
	t.Run("flag wins over bad env", func(t *testing.T) {
		t.Setenv(logLevelEnvKey, "chatty")
		warning, err := configureLoggerForCLI("debug", "info")
		if err != nil || warning != "" {
			t.Fatalf("expected clean configure, got warning=%q err=%v", warning, err)
		}
		if !slog.Default().Enabled(t.Context(), slog.LevelDebug) {
			t.Fatal("expected debug logging enabled")
		}
	})

	t.Run("bad flag is an error", func(t *testing.T) {
		t.Setenv(logLevelEnvKey, "")
		if _, err := configureLoggerForCLI("chatty", "info"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("bad env falls back with warning", func(t *testing.T) {
		t.Setenv(logLevelEnvKey, "chatty")
		warning, err := configureLoggerForCLI("", "debug")
		if err != nil {
			t.Fatalf("configure logger: %v", err)
		}
		if !strings.Contains(warning, logLevelEnvKey) || !strings.Contains(warning, "defaulting to info") {
			t.Fatalf("unexpected warning %q", warning)
		}
		if slog.Default().Enabled(t.Context(), slog.LevelDebug) {
			t.Fatal("expected fallback to info")
		}
	})

	t.Run("bad config falls back with warning", func(t *testing.T) {
		t.Setenv(logLevelEnvKey, "")
		warning, err := configureLoggerForCLI("", "chatty")
		if err != nil {
			t.Fatalf("configure logger: %v", err)
		}
		if !strings.Contains(warning, "invalid log_level") {
			t.Fatalf("unexpected warning %q", warning)
		}
	})
}
