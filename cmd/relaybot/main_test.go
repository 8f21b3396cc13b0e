package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relaybot/internal/config"
)

func TestNewLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaybot.log")
	logger, closeLog, err := newLogger(config.GeneralConfig{LogLevel: "debug", LogFormat: "json", LogFile: path})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("hello", "conversation", "C1")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"conversation":"C1"`) {
		t.Fatalf("expected json record in log file, got %s", data)
	}
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	logger, closeLog, err := newLogger(config.GeneralConfig{LogLevel: "loud"})
	if err != nil {
		t.Fatal(err)
	}
	defer closeLog()
	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Fatal("debug should be disabled at the fallback level")
	}
}

func TestNewRenderer(t *testing.T) {
	logger, closeLog, _ := newLogger(config.GeneralConfig{LogLevel: "error"})
	defer closeLog()

	cases := map[string]string{
		"":       "ink",
		"ink":    "ink",
		"chrome": "chrome",
		"chain":  "chrome+ink",
	}
	for setting, want := range cases {
		r := newRenderer(config.ToolsConfig{DiagramRenderer: setting}, logger)
		if r == nil || r.Name() != want {
			t.Errorf("renderer %q: got %v, want %s", setting, r, want)
		}
	}
	if r := newRenderer(config.ToolsConfig{DiagramRenderer: "off"}, logger); r != nil {
		t.Fatalf("off should disable rendering, got %s", r.Name())
	}
}

func TestResolveConfigPath_Flag(t *testing.T) {
	old := configPath
	defer func() { configPath = old }()
	configPath = "/tmp/custom.json"
	if got := resolveConfigPath(); got != "/tmp/custom.json" {
		t.Fatalf("got %q", got)
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "relaybot "+version+"\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}
