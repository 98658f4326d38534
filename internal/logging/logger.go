// Package logging wires the process-wide structured logger, the stdlib
// log bridge and the sqlite-backed activity trail.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bedrockmgr/bedrock-server-manager/internal/config"
)

// sink holds the rotated log file, when one is configured.
var sink io.Closer

// Init builds the root logger from the configuration, installs it as
// the slog default and reroutes the stdlib log package through it.
// Subsystems log via stdlib log with a bracketed component prefix; the
// bridge lifts that prefix into a structured attribute.
func Init(cfg config.LoggingConfig) (*slog.Logger, error) {
	out := io.Writer(os.Stdout)
	if file := strings.TrimSpace(cfg.File); file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, err
		}
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    orDefault(cfg.MaxSize, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAge, 30),
			Compress:   true,
		}
		sink = rotated
		out = io.MultiWriter(os.Stdout, rotated)
	}

	opts := &slog.HandlerOptions{Level: levelFor(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	root := slog.New(handler)
	slog.SetDefault(root)
	log.SetFlags(0)
	log.SetOutput(componentBridge{root: root})
	return root, nil
}

// Close flushes the rotated log file, if one is open.
func Close() error {
	if sink == nil {
		return nil
	}
	return sink.Close()
}

// componentBridge forwards stdlib log lines into slog. A leading
// "[Component]" prefix becomes a component attribute.
type componentBridge struct {
	root *slog.Logger
}

func (b componentBridge) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "] "); end > 1 {
			b.root.Info(strings.TrimSpace(msg[end+2:]), "component", msg[1:end])
			return len(p), nil
		}
	}

	b.root.Info(msg)
	return len(p), nil
}

func levelFor(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
