package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with a key/value calling convention:
//
//	log.Info("Channel connected", "channel", 1, "port", 5000)
type Logger struct {
	*zap.Logger
}

// LogConfig selects level, encoding and destination. Format is "json" or
// "text"; Output is "stdout" (default), "stderr" or a file path.
// Component, when set, names the root logger.
type LogConfig struct {
	Level     string
	Format    string
	Output    string
	Component string
}

// New builds a logger from cfg. An unknown level falls back to info.
func New(cfg LogConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "json"
	enc := zap.NewProductionEncoderConfig()
	if cfg.Format != "json" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.Encoding = "console"
		enc = zap.NewDevelopmentEncoderConfig()
	}
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.EncoderConfig = enc
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{outputPath(cfg.Output)}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	base, err := zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}
	if cfg.Component != "" {
		base = base.Named(cfg.Component)
	}
	return &Logger{base}, nil
}

func outputPath(output string) string {
	if output == "" {
		return "stdout"
	}
	return output
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// With returns a child logger carrying the given key/value pairs,
// e.g. With("channel", 1, "port", 5000).
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{l.Logger.With(fields(kv)...)}
}

// Named returns a child logger whose name is suffixed with name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.Logger.Debug(msg, fields(kv)...) }
func (l *Logger) Info(msg string, kv ...interface{}) { l.Logger.Info(msg, fields(kv)...) }
func (l *Logger) Warn(msg string, kv ...interface{}) { l.Logger.Warn(msg, fields(kv)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.Logger.Error(msg, fields(kv)...) }

// fields turns alternating key/value arguments into zap fields.
// Non-string keys and a trailing key without value are dropped. Errors
// are logged with zap.NamedError so they keep their message.
func fields(kv []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			out = append(out, zap.NamedError(key, v))
		default:
			out = append(out, zap.Any(key, v))
		}
	}
	return out
}

// NewNopLogger returns a logger that discards everything. Used in tests.
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}
