// Package logging provides the zap-backed implementation of agents.Logger.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
)

// Options configures New.
type Options struct {
	Level string // debug, info, warn, error
	File  string // rotated JSON log file; empty disables the file core
	JSON  bool   // JSON console output instead of the development encoder
}

// ZapLogger adapts a zap.SugaredLogger to agents.Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a logger writing to stderr and, optionally, a rotated file.
func New(opts Options) (*ZapLogger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	var consoleEncoder zapcore.Encoder
	if opts.JSON {
		consoleEncoder = jsonEncoder
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{sugar: l.Sugar()}, nil
}

// NewFromZap wraps an existing zap logger.
func NewFromZap(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *ZapLogger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *ZapLogger) Debug(msg string, fields ...any) { l.sugar.Debugw(msg, fields...) }
func (l *ZapLogger) Info(msg string, fields ...any)  { l.sugar.Infow(msg, fields...) }
func (l *ZapLogger) Warn(msg string, fields ...any)  { l.sugar.Warnw(msg, fields...) }
func (l *ZapLogger) Error(msg string, fields ...any) { l.sugar.Errorw(msg, fields...) }

// Bind returns a child logger carrying fields on every entry.
func (l *ZapLogger) Bind(fields ...any) agents.Logger {
	return &ZapLogger{sugar: l.sugar.With(fields...)}
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

var _ agents.Logger = (*ZapLogger)(nil)
