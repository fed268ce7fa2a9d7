// Package logging backs core.ILogger with zap, teed into the otelzap bridge,
// which forwards records to whatever OTel LoggerProvider is globally
// registered (telemetry.Setup registers none). It also provides the no-op
// logger tests and optional components use.
package logging

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pairgrid/internal/core"
)

// ZapLogger implements core.ILogger on top of zap.Logger.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger builds a console logger at the given level ("DEBUG", "INFO",
// "WARN", "ERROR", "FATAL"; unknown strings fall back to INFO), teed into
// the OTel log bridge.
func NewZapLogger(levelStr string) (*ZapLogger, error) {
	zapLevel, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapLevel,
	)
	otelCore := otelzap.NewCore("pairgrid", otelzap.WithLoggerProvider(global.GetLoggerProvider()))

	logger := zap.New(zapcore.NewTee(consoleCore, otelCore), zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{logger: logger}, nil
}

// convertToZapFields converts alternating key/value pairs to zap fields. A
// trailing key with no value is dropped; non-string keys are stringified.
func (l *ZapLogger) convertToZapFields(fields []interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = "field"
		}
		zapFields = append(zapFields, zap.Any(key, fields[i+1]))
	}
	return zapFields
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Error(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) Fatal(msg string, fields ...interface{}) {
	l.logger.Fatal(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) WithField(key string, value interface{}) core.ILogger {
	return &ZapLogger{logger: l.logger.With(zap.Any(key, value))}
}

func (l *ZapLogger) WithFields(fields map[string]interface{}) core.ILogger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &ZapLogger{logger: l.logger.With(zapFields...)}
}

// Sync flushes any buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// nopLogger discards everything. One shared implementation so every test
// and optional component doesn't grow its own seven-method stub.
type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{})               {}
func (nopLogger) Info(msg string, fields ...interface{})                {}
func (nopLogger) Warn(msg string, fields ...interface{})                {}
func (nopLogger) Error(msg string, fields ...interface{})               {}
func (nopLogger) Fatal(msg string, fields ...interface{})               {}
func (nopLogger) WithField(key string, value interface{}) core.ILogger  { return nopLogger{} }
func (nopLogger) WithFields(fields map[string]interface{}) core.ILogger { return nopLogger{} }

// Nop returns a logger that discards all output.
func Nop() core.ILogger {
	return nopLogger{}
}

var globalLogger core.ILogger = nopLogger{}

// SetGlobalLogger installs the process-wide logger. Call once at startup
// after config is loaded; before that, the global logger discards output.
func SetGlobalLogger(logger core.ILogger) {
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() core.ILogger {
	return globalLogger
}
