// Package logger builds the process-wide zap logger: a console core on stdout
// and a JSON core on a lumberjack-rotated file.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iliyamo/library-circulation/internal/config"
)

// New returns a logger configured by cfg.  The returned close func flushes
// the logger and closes the rotated file.
func New(cfg config.LogConfig) (*zap.Logger, func()) {
	if cfg.File == "" {
		l := newZap(ParseLevel(cfg.Level), nil)
		return l, func() { _ = l.Sync() }
	}
	rotationLog := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   cfg.Compress,
	}
	l := newZap(ParseLevel(cfg.Level), rotationLog)
	return l, func() {
		_ = l.Sync()
		_ = rotationLog.Close()
	}
}

// ParseLevel maps debug|info|warn|error to a zap level; anything else is info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
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

func newZap(level zapcore.Level, rotationLog *lumberjack.Logger) *zap.Logger {
	encodeConfig := zap.NewProductionEncoderConfig()
	encodeConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encodeConfig), zapcore.AddSync(os.Stdout), level),
	}
	if rotationLog != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encodeConfig), zapcore.AddSync(rotationLog), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}
