package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// clone copies the logger so derived loggers never mutate their parent.
func (l *BaseLogger) clone() *BaseLogger {
	fields := make(Fields, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &BaseLogger{
		level:      l.level,
		fields:     fields,
		formatter:  l.formatter,
		outputs:    l.outputs,
		slogLogger: l.slogLogger,
	}
}

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	attrs := attrsFromFieldSlice(fields)
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrs...)
	if level == FatalLevel {
		os.Exit(1)
	}
}

// Debug logs at DebugLevel.
func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }

// Info logs at InfoLevel.
func (l *BaseLogger) Info(msg string, fields ...Field) { l.log(InfoLevel, msg, fields) }

// Warn logs at WarnLevel.
func (l *BaseLogger) Warn(msg string, fields ...Field) { l.log(WarnLevel, msg, fields) }

// Error logs at ErrorLevel.
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// Fatal logs at FatalLevel and exits the process.
func (l *BaseLogger) Fatal(msg string, fields ...Field) { l.log(FatalLevel, msg, fields) }

// Debugf logs a formatted message at DebugLevel.
func (l *BaseLogger) Debugf(msg string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(msg, args...), nil)
}

// Infof logs a formatted message at InfoLevel.
func (l *BaseLogger) Infof(msg string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(msg, args...), nil)
}

// Warnf logs a formatted message at WarnLevel.
func (l *BaseLogger) Warnf(msg string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(msg, args...), nil)
}

// Errorf logs a formatted message at ErrorLevel.
func (l *BaseLogger) Errorf(msg string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(msg, args...), nil)
}

// Fatalf logs a formatted message at FatalLevel and exits the process.
func (l *BaseLogger) Fatalf(msg string, args ...interface{}) {
	l.log(FatalLevel, fmt.Sprintf(msg, args...), nil)
}

// WithField returns a logger with one additional persistent field.
func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	nl := l.clone()
	nl.fields[key] = value
	nl.slogLogger = l.slogLogger.With(slog.Any(key, value))
	return nl
}

// WithFields returns a logger with additional persistent fields.
func (l *BaseLogger) WithFields(fields Fields) Logger {
	nl := l.clone()
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		nl.fields[k] = v
		attrs = append(attrs, slog.Any(k, v))
	}
	nl.slogLogger = l.slogLogger.With(attrsToAny(attrs)...)
	return nl
}

// WithError returns a logger carrying an "error" field.
func (l *BaseLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// With returns a logger with additional persistent Field attributes.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	nl := l.clone()
	for _, f := range fields {
		nl.fields[f.Key] = f.Value
	}
	nl.slogLogger = l.slogLogger.With(attrsToAny(attrsFromFieldSlice(fields))...)
	return nl
}

// WithContext returns a logger carrying any standard fields found in ctx.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	fields := ContextExtractor(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields)
}

// WithComponent tags the logger with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.WithField(ComponentKey, component)
}

// SetLevel sets the minimum log level.
func (l *BaseLogger) SetLevel(level Level) { l.level = level }

// GetLevel returns the current minimum log level.
func (l *BaseLogger) GetLevel() Level { return l.level }
