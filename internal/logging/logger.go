// Package logging builds the process logger: a console core with routine
// output on stdout and errors on stderr, plus an optional size-rotated
// JSON file core for long monitoring sessions.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/twinspect/twinspect/internal/config"
)

var ErrNoLogOutputs = errors.New("no logging outputs enabled")

// NewLogger constructs the logger from the log section of the
// configuration. An unknown level falls back to info with a warning on
// stderr rather than failing startup.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		fmt.Fprintf(os.Stderr, "WARN: unknown log level %q, using info\n", cfg.Level)
		level = zapcore.InfoLevel
	}

	console := strings.EqualFold(cfg.Format, "console")

	var cores []zapcore.Core
	if console {
		cores = append(cores, consoleCores(level)...)
	}
	if cfg.FileLoggingEnabled {
		core, err := fileCore(cfg, level)
		if err != nil {
			return nil, err
		}
		cores = append(cores, core)
	}
	if len(cores) == 0 {
		return nil, ErrNoLogOutputs
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if console || level == zapcore.DebugLevel {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

// consoleCores splits terminal output: the configured level up through
// warn goes to stdout, error and above to stderr. During an event the
// detector logs at info; keeping that off stderr leaves failures visible.
func consoleCores(level zapcore.Level) []zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	routine := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= level && l < zapcore.ErrorLevel
	})
	failures := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= level && l >= zapcore.ErrorLevel
	})

	return []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), routine),
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), failures),
	}
}

// fileCore writes JSON lines through lumberjack rotation so a session
// left running for weeks cannot fill the disk with logs.
func fileCore(cfg config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", cfg.Directory, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, cfg.Filename),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})

	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level), nil
}
