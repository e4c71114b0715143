package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/model"
)

const serviceName = "kwa-console"

// NewLogger builds the process logger: JSON on stdout, ISO8601 timestamps,
// millisecond durations, every entry tagged with the service name. An
// unparsable level falls back to info.
//
// Levels:
//   - error: 5xx from the backend, redis failures, panics
//   - warn:  forbidden or rejected calls, expired sessions, refresh failures
//   - info:  request lifecycle, logins, engine operations, definition loads
//   - debug: cache activity and redacted request payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Sampling = nil
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	zc.InitialFields = map[string]any{"service": serviceName}
	return zc.Build()
}

type loggerKey struct{}

// WithLogger stores a request-scoped logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger is LoggerFrom with the console session identity attached.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		return logger.With(identityFields(rctx)...)
	}
	return logger
}

func identityFields(rctx *model.RequestContext) []zap.Field {
	fields := []zap.Field{
		zap.String("session_id", rctx.SessionID),
		zap.String("subject_id", rctx.SubjectID),
	}
	for _, kv := range [][2]string{
		{"role", rctx.Role},
		{"correlation_id", rctx.CorrelationID},
		{"trace_id", rctx.TraceID},
	} {
		if kv[1] != "" {
			fields = append(fields, zap.String(kv[0], kv[1]))
		}
	}
	if rctx.Superuser {
		fields = append(fields, zap.Bool("superuser", true))
	}
	return fields
}

const redacted = "[REDACTED]"

// Credentials and citizen contact details never reach the logs.
var sensitiveKeys = []string{
	"password", "secret", "token", "access", "refresh",
	"access_token", "refresh_token", "authorization",
	"phone", "phone_number", "aadhaar",
}

// Redactor masks sensitive keys in payloads written to debug logs. Keys
// match case-insensitively.
type Redactor struct {
	keys map[string]struct{}
}

// NewRedactor masks the built-in sensitive keys plus extra.
func NewRedactor(extra ...string) *Redactor {
	r := &Redactor{keys: make(map[string]struct{}, len(sensitiveKeys)+len(extra))}
	for _, k := range sensitiveKeys {
		r.keys[k] = struct{}{}
	}
	for _, k := range extra {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	return r
}

func (r *Redactor) sensitive(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// Map returns a masked copy of m. Nested objects and lists of objects are
// masked too; m itself is left alone.
func (r *Redactor) Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.sensitive(k) {
			out[k] = redacted
			continue
		}
		out[k] = r.value(v)
	}
	return out
}

func (r *Redactor) value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return r.Map(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.value(e)
		}
		return out
	default:
		return v
	}
}

// Payload flattens an outgoing form body for logging. Files are reduced to
// their name and size.
func (r *Redactor) Payload(p model.Payload) map[string]any {
	out := make(map[string]any, len(p))
	for _, f := range p {
		switch {
		case r.sensitive(f.Key):
			out[f.Key] = redacted
		case isUpload(f.Value):
			up := f.Value.(*model.Upload)
			out[f.Key] = map[string]any{"filename": up.Filename, "size": up.Size}
		default:
			out[f.Key] = f.Value
		}
	}
	return out
}

func isUpload(v any) bool {
	up, ok := v.(*model.Upload)
	return ok && up != nil
}
