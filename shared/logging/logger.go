// Package logging builds the zap loggers used by every service.
package logging

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, encoding and an optional rotated log file.
type Config struct {
	ServiceName string
	Environment string
	Level       string
	// File, when set, receives a copy of every entry and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger returns a JSON logger in production and a console logger
// anywhere else. The returned close func flushes buffers and closes the
// log file.
func NewLogger(cfg Config) (*zap.Logger, func() error, error) {
	level, err := parseLevel(cfg.Level, isProd(cfg.Environment))
	if err != nil {
		return nil, nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "log",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var console zapcore.Encoder
	if isProd(cfg.Environment) {
		console = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		devConfig := encoderConfig
		devConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		console = zapcore.NewConsoleEncoder(devConfig)
	}

	cores := []zapcore.Core{zapcore.NewCore(console, zapcore.AddSync(os.Stdout), level)}

	var rotator *lumberjack.Logger
	if cfg.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.Fields(
			zap.String("service", cfg.ServiceName),
			zap.String("environment", cfg.Environment),
		),
	)

	closeFn := func() error {
		// Sync on stdout fails on some terminals; only the file matters.
		_ = logger.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

func isProd(env string) bool {
	switch strings.ToLower(env) {
	case "prod", "production":
		return true
	}
	return false
}

func parseLevel(level string, prod bool) (zap.AtomicLevel, error) {
	if level == "" {
		if prod {
			return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
		}
		return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
	}
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return zap.AtomicLevel{}, errors.Wrapf(err, "invalid log level %q", level)
	}
	return parsed, nil
}
