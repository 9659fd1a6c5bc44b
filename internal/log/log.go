// Package log provides the context-scoped logging facility used across
// the control point. It mirrors the call shape the rest of the package
// is written against: Debug/Info(ctx, msg, keyvals...) and
// Warn/Error(ctx, msg, err, keyvals...).
package log

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const fieldsKey ctxKey = 0

// NewContext returns a context carrying additional structured fields
// that will be attached to every log call made with it.
func NewContext(ctx context.Context, keyvals ...interface{}) context.Context {
	return context.WithValue(ctx, fieldsKey, mergeFields(fieldsFrom(ctx), keyvals))
}

func fieldsFrom(ctx context.Context) logrus.Fields {
	if ctx == nil {
		return logrus.Fields{}
	}
	if f, ok := ctx.Value(fieldsKey).(logrus.Fields); ok {
		return f
	}
	return logrus.Fields{}
}

func mergeFields(base logrus.Fields, keyvals []interface{}) logrus.Fields {
	out := logrus.Fields{}
	for k, v := range base {
		out[k] = v
	}
	addKeyvals(out, keyvals)
	return out
}

func addKeyvals(out logrus.Fields, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		out[key] = keyvals[i+1]
	}
}

func entry(ctx context.Context, keyvals ...interface{}) *logrus.Entry {
	fields := mergeFields(fieldsFrom(ctx), keyvals)
	return logrus.WithFields(fields)
}

// Debug logs a debug-level message, tracing passive discovery/event
// paths that should stay silent in normal operation.
func Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	entry(ctx, keyvals...).Debug(msg)
}

// Info logs a notable but non-error event (device discovered, device
// lost, subscription renewed).
func Info(ctx context.Context, msg string, keyvals ...interface{}) {
	entry(ctx, keyvals...).Info(msg)
}

// Warn logs a recoverable problem that was swallowed rather than
// returned to the caller.
func Warn(ctx context.Context, msg string, err error, keyvals ...interface{}) {
	e := entry(ctx, keyvals...)
	if err != nil {
		e = e.WithError(err)
	}
	e.Warn(msg)
}

// Error logs an error that either surfaced to a caller or represents a
// fault in passive machinery (malformed SSDP datagram, failed fetch).
func Error(ctx context.Context, msg string, err error, keyvals ...interface{}) {
	e := entry(ctx, keyvals...)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(msg)
}

// SetLevel configures the package-wide minimum log level, e.g. "debug".
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log: invalid level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	return nil
}
