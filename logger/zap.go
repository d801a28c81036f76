package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapBridge struct {
	logger Logger
}

func (z *zapBridge) Enabled(level zapcore.Level) bool {
	return z.logger.IsLevelEnabled(fromZapLevel(level))
}

func (z *zapBridge) With(fields []zapcore.Field) zapcore.Core {
	return &zapBridge{logger: z.logger.With(fieldsToMap(fields))}
}

func (z *zapBridge) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if z.Enabled(entry.Level) {
		return ce.AddCore(entry, z)
	}
	return ce
}

func (z *zapBridge) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	l := z.logger
	if len(fields) > 0 {
		l = l.With(fieldsToMap(fields))
	}
	switch fromZapLevel(entry.Level) {
	case LevelDebug:
		l.Debug("%s", entry.Message)
	case LevelInfo:
		l.Info("%s", entry.Message)
	case LevelWarn:
		l.Warn("%s", entry.Message)
	case LevelError:
		l.Error("%s", entry.Message)
	default:
		l.Trace("%s", entry.Message)
	}
	return nil
}

func (z *zapBridge) Sync() error {
	return nil
}

func fromZapLevel(level zapcore.Level) LogLevel {
	switch level {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return LevelError
	default:
		return LevelTrace
	}
}

func fieldsToMap(fields []zapcore.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	return enc.Fields
}

// ToZap returns a zap.Logger instance that will output to the provided logger
func ToZap(logger Logger) *zap.Logger {
	return zap.New(&zapBridge{logger: logger})
}

type zapLogger struct {
	z *zap.SugaredLogger
}

var _ Logger = (*zapLogger)(nil)

// FromZap wraps a zap.Logger so it can be handed to components expecting a Logger.
func FromZap(z *zap.Logger) Logger {
	return &zapLogger{z: z.Sugar()}
}

func (l *zapLogger) With(metadata map[string]interface{}) Logger {
	kv := make([]interface{}, 0, len(metadata)*2)
	for k, v := range metadata {
		kv = append(kv, k, v)
	}
	return &zapLogger{z: l.z.With(kv...)}
}

func (l *zapLogger) WithPrefix(prefix string) Logger {
	return &zapLogger{z: l.z.Named(prefix)}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	return l
}

func (l *zapLogger) Trace(msg string, args ...interface{}) {
	l.z.Debugf(msg, args...)
}

func (l *zapLogger) Debug(msg string, args ...interface{}) {
	l.z.Debugf(msg, args...)
}

func (l *zapLogger) Info(msg string, args ...interface{}) {
	l.z.Infof(msg, args...)
}

func (l *zapLogger) Warn(msg string, args ...interface{}) {
	l.z.Warnf(msg, args...)
}

func (l *zapLogger) Error(msg string, args ...interface{}) {
	l.z.Errorf(msg, args...)
}

func (l *zapLogger) Fatal(msg string, args ...interface{}) {
	l.z.Fatalf(msg, args...)
}

func (l *zapLogger) Stack(next Logger) Logger {
	return &stackedLogger{Logger: l, next: next}
}

func (l *zapLogger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LevelTrace, LevelDebug:
		return l.z.Desugar().Core().Enabled(zapcore.DebugLevel)
	case LevelInfo:
		return l.z.Desugar().Core().Enabled(zapcore.InfoLevel)
	case LevelWarn:
		return l.z.Desugar().Core().Enabled(zapcore.WarnLevel)
	case LevelError:
		return l.z.Desugar().Core().Enabled(zapcore.ErrorLevel)
	}
	return false
}

// stackedLogger fans every entry out to a second logger.
type stackedLogger struct {
	Logger
	next Logger
}

func (s *stackedLogger) Info(msg string, args ...interface{}) {
	s.Logger.Info(msg, args...)
	s.next.Info(msg, args...)
}

func (s *stackedLogger) Warn(msg string, args ...interface{}) {
	s.Logger.Warn(msg, args...)
	s.next.Warn(msg, args...)
}

func (s *stackedLogger) Error(msg string, args ...interface{}) {
	s.Logger.Error(msg, args...)
	s.next.Error(msg, args...)
}

func (s *stackedLogger) Debug(msg string, args ...interface{}) {
	s.Logger.Debug(msg, args...)
	s.next.Debug(msg, args...)
}

func (s *stackedLogger) Trace(msg string, args ...interface{}) {
	s.Logger.Trace(msg, args...)
	s.next.Trace(msg, args...)
}
