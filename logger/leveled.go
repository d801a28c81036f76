package logger

import "context"

type leveledLogger struct {
	next  Logger
	level LogLevel
}

var _ Logger = (*leveledLogger)(nil)

// WithLevel returns a logger that drops messages of next below level.
// It can only raise the threshold of next, never lower it.
func WithLevel(next Logger, level LogLevel) Logger {
	if l, ok := next.(*leveledLogger); ok {
		next = l.next
	}
	return &leveledLogger{next: next, level: level}
}

func (l *leveledLogger) wrap(next Logger) Logger {
	return &leveledLogger{next: next, level: l.level}
}

func (l *leveledLogger) With(metadata map[string]interface{}) Logger {
	return l.wrap(l.next.With(metadata))
}

func (l *leveledLogger) WithPrefix(prefix string) Logger {
	return l.wrap(l.next.WithPrefix(prefix))
}

func (l *leveledLogger) WithContext(ctx context.Context) Logger {
	return l.wrap(l.next.WithContext(ctx))
}

func (l *leveledLogger) Stack(next Logger) Logger {
	return l.wrap(l.next.Stack(next))
}

func (l *leveledLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= l.level && l.next.IsLevelEnabled(level)
}

func (l *leveledLogger) Trace(msg string, args ...interface{}) {
	if l.level <= LevelTrace {
		l.next.Trace(msg, args...)
	}
}

func (l *leveledLogger) Debug(msg string, args ...interface{}) {
	if l.level <= LevelDebug {
		l.next.Debug(msg, args...)
	}
}

func (l *leveledLogger) Info(msg string, args ...interface{}) {
	if l.level <= LevelInfo {
		l.next.Info(msg, args...)
	}
}

func (l *leveledLogger) Warn(msg string, args ...interface{}) {
	if l.level <= LevelWarn {
		l.next.Warn(msg, args...)
	}
}

func (l *leveledLogger) Error(msg string, args ...interface{}) {
	if l.level <= LevelError {
		l.next.Error(msg, args...)
	}
}

func (l *leveledLogger) Fatal(msg string, args ...interface{}) {
	l.next.Fatal(msg, args...)
}
