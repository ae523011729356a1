package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/cxlogin/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestLogFormatterIncludesFlowAndFields(t *testing.T) {
	entry := &log.Entry{
		Logger:  log.New(),
		Time:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "probe failed\n",
		Data: log.Fields{
			"flow":   "3f2a9c1e-8b7d-4c6e-9f0a-1b2c3d4e5f60",
			"status": 404,
			"secret": "must-not-print",
		},
	}

	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	line := string(out)
	want := "[2026-01-02 15:04:05] [3f2a9c1e] [warn ] probe failed status=404\n"
	if line != want {
		t.Fatalf("line = %q, want %q", line, want)
	}
	if strings.Contains(line, "must-not-print") {
		t.Fatal("unlisted fields must not be printed")
	}
}

func TestLogFormatterWithoutFlow(t *testing.T) {
	entry := &log.Entry{Logger: log.New(), Time: time.Unix(0, 0).UTC(), Level: log.InfoLevel, Message: "ready"}
	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(string(out), "[--------] [info ] ready") {
		t.Fatalf("unexpected line %q", out)
	}
}

func TestResolveLogDirectory(t *testing.T) {
	dir := t.TempDir()
	if got := ResolveLogDirectory(&config.Config{LogDir: dir}); got != filepath.Clean(dir) {
		t.Fatalf("explicit log dir = %q, want %q", got, dir)
	}

	t.Setenv("WRITABLE_PATH", dir)
	if got := ResolveLogDirectory(&config.Config{}); got != filepath.Join(dir, "logs") {
		t.Fatalf("writable path log dir = %q", got)
	}
}

func TestConfigureLogOutputToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{LoggingToFile: true, LogDir: dir}
	if err := ConfigureLogOutput(cfg); err != nil {
		t.Fatalf("ConfigureLogOutput: %v", err)
	}
	t.Cleanup(func() { _ = ConfigureLogOutput(&config.Config{}) })

	log.Info("written to file")
	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("log file content = %q", data)
	}
}
