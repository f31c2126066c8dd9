// Package telemetry carries the ambient logging and metrics concerns of
// a complete repository in this lineage: structured logging via
// go.uber.org/zap (rotated with
// gopkg.in/natefinch/lumberjack.v2) and in-process metrics via
// github.com/prometheus/client_golang, both grounded on muqo16-vg-hitbot's
// telemetry stack. Neither holds a reference back into internal/core;
// core only publishes events on its EventBus, and this package
// subscribes — the same decoupling the cache uses.
package telemetry

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig sizes the rotated log file and picks the output sink.
type LoggerConfig struct {
	// Path is the rotated log file's location. Required when Stdio is
	// true; optional (falls back to stderr) when Stdio is false.
	Path string
	// Stdio must be true whenever the MCP server is running over the
	// stdio transport — stdout/stderr carry only protocol frames there,
	// so every log line must go to Path instead, never to the console.
	Stdio bool
	// Level is one of debug|info|warn|error (default info).
	Level string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

func (c LoggerConfig) level() zapcore.Level {
	switch c.Level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a zap.Logger per cfg. Over stdio it writes exclusively
// to the rotated file; the SSE transport may additionally log to stderr
// for operator visibility, matching the "redirect logging to file for
// stdio mode" behavior already used for bare log.Printf in
// cmd/server/main.go, generalised to structured zap fields.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core

	if cfg.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), cfg.level()))
	}

	if !cfg.Stdio {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), cfg.level()))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
