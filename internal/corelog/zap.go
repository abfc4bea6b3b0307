package corelog

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger backs Logger with go.uber.org/zap. In Kubernetes (detected via
// KUBERNETES_SERVICE_HOST) or with ORCHESTRATOR_LOG_FORMAT=json it emits
// JSON; otherwise a console encoder, so local runs stay readable while
// in-cluster logs stay machine-parseable.
type ZapLogger struct {
	base      *zap.SugaredLogger
	component string
}

// NewZapLogger builds a ComponentAwareLogger rooted at "component".
func NewZapLogger(component string) *ZapLogger {
	level := zapcore.InfoLevel
	if strings.EqualFold(os.Getenv("ORCHESTRATOR_LOG_LEVEL"), "debug") {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" || os.Getenv("ORCHESTRATOR_LOG_FORMAT") == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	logger := zap.New(core).Sugar().With("component", component)

	return &ZapLogger{base: logger, component: component}
}

func fieldsToArgs(fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{})  { l.base.Infow(msg, fieldsToArgs(fields)...) }
func (l *ZapLogger) Warn(msg string, fields map[string]interface{})  { l.base.Warnw(msg, fieldsToArgs(fields)...) }
func (l *ZapLogger) Error(msg string, fields map[string]interface{}) { l.base.Errorw(msg, fieldsToArgs(fields)...) }
func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) { l.base.Debugw(msg, fieldsToArgs(fields)...) }

// requestIDKey is the context key the HTTP layer stores a request ID under.
type requestIDKey struct{}

// WithRequestID attaches a request ID to ctx for correlated logging.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

func (l *ZapLogger) withContext(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	if id, ok := requestIDFrom(ctx); ok {
		merged := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			merged[k] = v
		}
		merged["request_id"] = id
		return merged
	}
	return fields
}

func (l *ZapLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, l.withContext(ctx, fields))
}
func (l *ZapLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, l.withContext(ctx, fields))
}
func (l *ZapLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, l.withContext(ctx, fields))
}
func (l *ZapLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, l.withContext(ctx, fields))
}

// WithComponent returns a logger sharing the same sink but tagged with a
// different component name.
func (l *ZapLogger) WithComponent(component string) Logger {
	return &ZapLogger{base: l.base.Desugar().Sugar().With("component", component), component: component}
}
