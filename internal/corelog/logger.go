// Package corelog provides the structured logging contract shared by every
// orchestrator and auditor subsystem, split into a plain Logger interface
// and a component-scoped variant: callers depend on the Logger interface,
// never on a concrete backend.
package corelog

import "context"

// Logger is the minimal structured logging contract. Fields are arbitrary
// key/value pairs attached to the log line.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with a WithComponent constructor so
// every subsystem's logs carry a stable "component" field, e.g.
// "orchestrator/registry" or "auditor/core".
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used as the zero-value default so callers
// never need a nil check.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                               {}
func (NoOpLogger) Warn(string, map[string]interface{})                               {}
func (NoOpLogger) Error(string, map[string]interface{})                              {}
func (NoOpLogger) Debug(string, map[string]interface{})                              {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})   {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})   {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WithComponent(string) Logger                                       { return NoOpLogger{} }
