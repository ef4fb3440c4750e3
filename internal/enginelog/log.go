// Package enginelog provides the package-level structured logger shared by
// the aggregation engine's components.
package enginelog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the default logger used when a component is not given its own
// child logger. It is never a process-wide mutable singleton that engine
// state depends on — callers should prefer With() to obtain a scoped child.
var Logger *zap.Logger

func init() {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var err error
	Logger, err = config.Build(zap.AddCallerSkip(1))
	if err != nil {
		Logger = zap.NewNop()
	}
}

// With returns a child logger carrying the given fields.
func With(fields ...zap.Field) *zap.Logger {
	return Logger.With(fields...)
}

// SetLogger replaces the default logger, e.g. to install a development
// config or redirect to a test sink.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	Logger = l
}
