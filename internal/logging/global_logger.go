// Package logging configures the shared logrus logger: a compact line format
// that carries the login flow id, and an optional rotating log file.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/router-for-me/cxlogin/internal/config"
	"github.com/router-for-me/cxlogin/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileName       = "cxlogin.log"
	logMaxSizeMB      = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 14
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// LogFormatter renders entries as
// [2026-01-02 15:04:05] [flow-id ] [info ] [authenticator.go:140] message key=value
type LogFormatter struct{}

// logFieldOrder lists the fields printed after the message, in order.
var logFieldOrder = []string{"tenant", "port", "status", "error"}

// Format renders a single log entry.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	flowID := "--------"
	if id, ok := entry.Data["flow"].(string); ok && id != "" {
		flowID = shortFlowID(id)
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range logFieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		_, _ = fmt.Fprintf(buffer, "[%s] [%s] [%s] [%s:%d] %s%s\n", timestamp, flowID, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		_, _ = fmt.Fprintf(buffer, "[%s] [%s] [%s] %s%s\n", timestamp, flowID, levelStr, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

// shortFlowID keeps the first block of a UUID.
func shortFlowID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	return id
}

// SetupBaseLogger configures the shared logrus instance.
// It is safe to call multiple times; initialization happens only once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})
		log.RegisterExitHandler(closeLogOutputs)
	})
}

// ResolveLogDirectory determines the directory used for log files.
func ResolveLogDirectory(cfg *config.Config) string {
	if cfg != nil && strings.TrimSpace(cfg.LogDir) != "" {
		if dir, err := util.ResolvePath(strings.TrimSpace(cfg.LogDir)); err == nil {
			return dir
		}
	}
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cxlogin", "logs")
	}
	return "logs"
}

// ConfigureLogOutput applies the log level and switches the log destination
// between a rotating file and stdout.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()
	util.SetLogLevel(cfg)

	writerMu.Lock()
	defer writerMu.Unlock()

	if cfg == nil || !cfg.LoggingToFile {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		log.SetOutput(os.Stdout)
		return nil
	}

	logDir := ResolveLogDirectory(cfg)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	if logWriter != nil {
		_ = logWriter.Close()
	}

	maxBackups := cfg.LogMaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	maxAge := cfg.LogMaxAgeDays
	if maxAge <= 0 {
		maxAge = defaultMaxAgeDays
	}
	logWriter = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, logFileName),
		MaxSize:    logMaxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}
	log.SetOutput(logWriter)
	return nil
}

func closeLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}
