package transport

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/model"
)

// Context keys for middleware-injected values.
type correlationIDKey struct{}
type capabilitiesKey struct{}

// CorrelationIDFrom extracts the correlation ID from the request context.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// CapabilitiesFrom extracts the CapabilitySet from the context.
func CapabilitiesFrom(ctx context.Context) model.CapabilitySet {
	caps, _ := ctx.Value(capabilitiesKey{}).(model.CapabilitySet)
	return caps
}

// WithCapabilities stores caps in the context.
func WithCapabilities(ctx context.Context, caps model.CapabilitySet) context.Context {
	return context.WithValue(ctx, capabilitiesKey{}, caps)
}

// Recovery turns a panic in a handler into a logged INTERNAL_ERROR.
// http.ErrAbortHandler is re-raised so the server can drop the connection.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("correlation_id", CorrelationIDFrom(r.Context())),
					zap.Stack("stack"),
				)
				WriteRequestError(w, r, model.NewInternalError())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type corsPolicy struct {
	origins map[string]bool
	methods string
	headers string
	maxAge  string
}

func (p corsPolicy) allow(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Expose-Headers", "X-Correlation-Id")
	h.Add("Vary", "Origin")
}

// CORS lets the configured console origins call the API with credentials.
// Preflights from other origins are refused with 403.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	p := corsPolicy{
		origins: make(map[string]bool, len(cfg.AllowedOrigins)),
		methods: strings.Join(cfg.AllowedMethods, ", "),
		headers: strings.Join(cfg.AllowedHeaders, ", "),
		maxAge:  strconv.Itoa(cfg.MaxAge),
	}
	for _, o := range cfg.AllowedOrigins {
		p.origins[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && p.origins[origin]
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !preflight {
				if allowed {
					p.allow(w.Header(), origin)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			p.allow(w.Header(), origin)
			w.Header().Set("Access-Control-Allow-Methods", p.methods)
			w.Header().Set("Access-Control-Allow-Headers", p.headers)
			w.Header().Set("Access-Control-Max-Age", p.maxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

const maxCorrelationIDLen = 128

// validCorrelationID accepts short ids made of letters, digits and -_.:
// so a caller cannot smuggle arbitrary text into logs and headers.
func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}

// RequestID adopts the caller's X-Correlation-Id when it is well formed and
// mints a UUID otherwise. The id is echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if !validCorrelationID(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey{}, id)))
	})
}

var securityHeaders = [][2]string{
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Cache-Control", "no-store"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
}

// SecurityHeaders marks every response as uncacheable and not frameable.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, kv := range securityHeaders {
			w.Header().Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

// SessionID returns the console session id sent with r, from the session
// header or, failing that, the session cookie.
func SessionID(r *http.Request, cfg config.SessionConfig) string {
	if sid := r.Header.Get(cfg.HeaderName); sid != "" {
		return sid
	}
	if c, err := r.Cookie(cfg.CookieName); err == nil {
		return c.Value
	}
	return ""
}

// TokenReader looks up the tokens of a console session.
type TokenReader interface {
	Tokens(ctx context.Context, sid string) (session.Tokens, error)
}

// Authenticate returns middleware that resolves the console session and
// builds the model.RequestContext from its access token.
func Authenticate(cfg config.SessionConfig, superuserRoles []string, tokens TokenReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := SessionID(r, cfg)
			if sid == "" {
				WriteRequestError(w, r, model.NewUnauthorizedError("Missing console session"))
				return
			}

			t, err := tokens.Tokens(r.Context(), sid)
			if errors.Is(err, session.ErrNoSession) {
				WriteRequestError(w, r, model.NewSessionExpiredError())
				return
			}
			if err != nil {
				observability.LoggerFrom(r.Context(), zap.NewNop()).Error("session lookup failed", zap.Error(err))
				WriteRequestError(w, r, model.NewInternalError())
				return
			}

			traceID, spanID := observability.TraceContext(r.Context())
			rctx := &model.RequestContext{
				SessionID:     sid,
				SubjectID:     sid,
				Role:          t.Role,
				Superuser:     slices.Contains(superuserRoles, t.Role),
				Remember:      t.Remember,
				CorrelationID: CorrelationIDFrom(r.Context()),
				TraceID:       traceID,
				SpanID:        spanID,
			}
			if claims, err := session.ParseClaims(t.Access); err == nil && claims.UserID != "" {
				rctx.SubjectID = claims.UserID
			}

			ctx := model.WithRequestContext(r.Context(), rctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResolveCapabilities returns middleware that eagerly resolves capabilities
// for the current session and stores them in the context. Resolution
// failures leave an empty set, so every permission check fails closed; an
// expired session is reported to the client.
func ResolveCapabilities(resolver model.CapabilityResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caps := model.CapabilitySet{}
			if rctx := model.RequestContextFrom(r.Context()); resolver != nil && rctx != nil {
				resolved, err := resolver.Resolve(r.Context(), rctx)
				switch {
				case model.HasCode(err, model.ErrSessionExpired):
					WriteRequestError(w, r, err)
					return
				case err != nil:
					observability.RequestLogger(r.Context(), logger).Warn("capability resolution failed", zap.Error(err))
				default:
					caps = resolved
				}
			}
			next.ServeHTTP(w, r.WithContext(WithCapabilities(r.Context(), caps)))
		})
	}
}

// HandlerTimeout returns middleware that sets a context deadline on requests.
func HandlerTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogging puts a request-scoped logger in the context and logs one
// "request" entry per call, at error for 5xx and warn for 4xx.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := observability.RequestLogger(r.Context(), logger)
			if model.RequestContextFrom(r.Context()) == nil {
				reqLogger = reqLogger.With(zap.String("correlation_id", CorrelationIDFrom(r.Context())))
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(observability.WithLogger(r.Context(), reqLogger)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := zapcore.InfoLevel
			switch {
			case status >= 500:
				level = zapcore.ErrorLevel
			case status >= 400:
				level = zapcore.WarnLevel
			}
			reqLogger.Log(level, "request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
