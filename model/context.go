package model

import "context"

// RequestContext is the identity of an authenticated console request. The
// session middleware builds it once; it is read-only afterwards.
type RequestContext struct {
	// SessionID is the console session, not a backend token.
	SessionID string
	// SubjectID is the backend user id from the access token, or the
	// session id when the token carries none.
	SubjectID     string
	Role          string
	Superuser     bool
	Remember      bool
	CorrelationID string
	TraceID       string
	SpanID        string
}

type requestContextKey struct{}

// WithRequestContext returns ctx carrying rctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext is RequestContextFrom for handlers mounted behind the
// session middleware. It panics when the context carries none.
func MustRequestContext(ctx context.Context) *RequestContext {
	if rctx := RequestContextFrom(ctx); rctx != nil {
		return rctx
	}
	panic("model: request has no RequestContext")
}
