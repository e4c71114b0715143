// Package apiclient talks to the KWA REST backend on behalf of console
// sessions. Every call carries the session's bearer token; a 401 triggers a
// single token refresh followed by one retry of the original request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/model"
)

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 10 << 20

// expiryLeeway refreshes access tokens slightly before they expire.
const expiryLeeway = 10 * time.Second

// TokenSource provides and maintains the backend tokens of a session.
type TokenSource interface {
	Tokens(ctx context.Context, sid string) (session.Tokens, error)
	UpdateAccess(ctx context.Context, sid, access string) error
	Clear(ctx context.Context, sid string) error
}

// Recorder receives backend call measurements.
type Recorder interface {
	RecordBackendRequest(method, route string, status int, duration time.Duration)
	RecordTokenRefresh(outcome string)
}

// Client is the REST client shared by all sessions.
type Client struct {
	cfg      config.BackendConfig
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	refresh  singleflight.Group
	breaker  *breaker
	recorder Recorder
	logger   *zap.Logger
	redactor *observability.Redactor
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client for the configured backend.
func New(cfg config.BackendConfig, tokens TokenSource, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		tokens:   tokens,
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		redactor: observability.NewRedactor(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = newBreaker(cfg.Breaker, c.now)
	if c.breaker != nil {
		c.breaker.onChange = func(from, to BreakerState) {
			if to == BreakerOpen {
				c.logger.Warn("apiclient: backend circuit opened", zap.String("from", from.String()))
				return
			}
			c.logger.Info("apiclient: backend circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}
	return c
}

// BreakerState reports the state of the backend circuit breaker.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// ForSession returns a client bound to one console session.
func (c *Client) ForSession(sid string) *SessionClient {
	return &SessionClient{client: c, sid: sid}
}

// Logout invalidates the refresh token of session sid on the backend.
func (c *Client) Logout(ctx context.Context, sid string) error {
	return c.ForSession(sid).Logout(ctx)
}

// Login exchanges credentials for tokens. It does not need a session.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (model.LoginResult, error) {
	body, err := json.Marshal(map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	})
	if err != nil {
		return model.LoginResult{}, fmt.Errorf("apiclient: marshal login: %w", err)
	}

	req := request{
		method:      http.MethodPost,
		path:        c.cfg.LoginPath,
		route:       c.cfg.LoginPath,
		body:        body,
		contentType: "application/json",
	}
	resp, err := c.execute(ctx, req, "")
	if err != nil {
		return model.LoginResult{}, err
	}
	if resp.status == http.StatusBadRequest || resp.status == http.StatusUnauthorized {
		return model.LoginResult{}, model.NewUnauthorizedError(loginFailureMessage(resp.body))
	}

	var out model.LoginResult
	if err := c.decode(ctx, req, resp, &out); err != nil {
		return model.LoginResult{}, err
	}
	if out.Access == "" || out.Refresh == "" {
		return model.LoginResult{}, model.NewUnauthorizedError("Login response did not include tokens")
	}
	return out, nil
}

// HealthCheck reports whether the backend answers HTTP at all.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// request is a fully encoded backend call that can be sent more than once.
type request struct {
	method      string
	path        string
	route       string
	body        []byte
	contentType string
}

type response struct {
	status int
	body   []byte
}

// send performs an authenticated call for sid and decodes a 2xx body into
// out. A 401 is answered with one refresh and one retry.
func (c *Client) send(ctx context.Context, sid string, req request, out any) error {
	tokens, err := c.tokens.Tokens(ctx, sid)
	if errors.Is(err, session.ErrNoSession) {
		return model.NewSessionExpiredError()
	}
	if err != nil {
		return fmt.Errorf("apiclient: load session: %w", err)
	}

	access := tokens.Access
	refreshed := false
	if claims, err := session.ParseClaims(access); err == nil && claims.Expired(c.now(), expiryLeeway) {
		if access, err = c.refreshAccess(ctx, sid, tokens.Refresh); err != nil {
			return err
		}
		refreshed = true
	}

	resp, err := c.execute(ctx, req, access)
	if err != nil {
		return err
	}
	if resp.status == http.StatusUnauthorized && !refreshed {
		if access, err = c.refreshAccess(ctx, sid, tokens.Refresh); err != nil {
			return err
		}
		if resp, err = c.execute(ctx, req, access); err != nil {
			return err
		}
	}
	return c.decode(ctx, req, resp, out)
}

// refreshAccess obtains a new access token. Concurrent refreshes of the same
// refresh token share one backend call.
func (c *Client) refreshAccess(ctx context.Context, sid, refreshToken string) (string, error) {
	if refreshToken == "" {
		_ = c.tokens.Clear(ctx, sid)
		return "", model.NewSessionExpiredError()
	}

	v, err, shared := c.refresh.Do(refreshToken, func() (any, error) {
		rctx := context.WithoutCancel(ctx)
		access, err := c.exchangeRefresh(rctx, refreshToken)
		if err != nil {
			c.recorder.RecordTokenRefresh("failure")
			c.logger.Warn("apiclient: token refresh failed, clearing session",
				zap.String("session_id", sid),
				zap.Error(err),
			)
			if cerr := c.tokens.Clear(rctx, sid); cerr != nil {
				c.logger.Error("apiclient: clear session", zap.Error(cerr))
			}
			return "", model.NewSessionExpiredError()
		}
		if err := c.tokens.UpdateAccess(rctx, sid, access); err != nil {
			c.logger.Warn("apiclient: store refreshed token", zap.Error(err))
		}
		c.recorder.RecordTokenRefresh("success")
		return access, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("apiclient: joined in-flight token refresh", zap.String("session_id", sid))
	}
	return v.(string), nil
}

func (c *Client) exchangeRefresh(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return "", err
	}
	resp, err := c.execute(ctx, request{
		method:      http.MethodPost,
		path:        c.cfg.RefreshPath,
		route:       c.cfg.RefreshPath,
		body:        body,
		contentType: "application/json",
	}, "")
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK {
		return "", fmt.Errorf("refresh rejected with status %d", resp.status)
	}
	var out struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.Access == "" {
		return "", errors.New("refresh response has no access token")
	}
	return out.Access, nil
}

// execute sends req once. Transport failures become BACKEND_TIMEOUT or
// BACKEND_UNAVAILABLE; any HTTP status is returned to the caller.
func (c *Client) execute(ctx context.Context, req request, access string) (_ *response, err error) {
	ctx, span := observability.StartBackendSpan(ctx, req.method, req.route)
	defer func() { observability.EndSpan(span, err) }()

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	httpReq.Header = buildRequestHeaders(ctx, access, req.contentType)

	if err := c.breaker.allow(); err != nil {
		span.SetAttributes(observability.AttrCircuitOpen.Bool(true))
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.recorder.RecordBackendRequest(req.method, req.route, 0, time.Since(start))
		if !errors.Is(err, context.Canceled) {
			c.breaker.failure()
		}
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		c.breaker.failure()
	} else {
		c.breaker.success()
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.recorder.RecordBackendRequest(req.method, req.route, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if err != nil {
		return nil, fmt.Errorf("apiclient: read response: %w", err)
	}
	return &response{status: resp.StatusCode, body: respBody}, nil
}

// decode maps the status of resp to an error or unmarshals its body.
func (c *Client) decode(ctx context.Context, req request, resp *response, out any) error {
	logger := observability.RequestLogger(ctx, c.logger)
	switch {
	case resp.status >= 200 && resp.status < 300:
		if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(resp.body))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("apiclient: decode %s %s: %w", req.method, req.route, err)
		}
		return nil
	case resp.status == http.StatusBadRequest:
		return parseValidationErrors(resp.body)
	case resp.status == http.StatusUnauthorized:
		return model.NewUnauthorizedError("The backend rejected the session credentials")
	case resp.status == http.StatusForbidden:
		logger.Warn("apiclient: backend forbade request",
			zap.String("method", req.method),
			zap.String("route", req.route),
		)
		return model.NewForbiddenError(detailMessage(resp.body, "You do not have permission to perform this action"))
	case resp.status == http.StatusNotFound:
		return model.NewNotFoundError(detailMessage(resp.body, "The requested record does not exist"))
	case resp.status >= 500:
		logger.Error("apiclient: backend server error",
			zap.String("method", req.method),
			zap.String("route", req.route),
			zap.Int("status", resp.status),
		)
		return model.NewBackendUnavailableError()
	default:
		return model.NewBadRequestError(detailMessage(resp.body, http.StatusText(resp.status)))
	}
}

func buildRequestHeaders(ctx context.Context, access, contentType string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if access != "" {
		h.Set("Authorization", "Bearer "+sanitizeHeader(access))
	}

	correlationID := ""
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		correlationID = rctx.CorrelationID
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	h.Set("X-Correlation-Id", sanitizeHeader(correlationID))

	observability.InjectTraceHeaders(ctx, h)
	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return model.NewBackendTimeoutError()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewBackendTimeoutError()
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return model.NewBackendUnavailableError()
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendRequest(string, string, int, time.Duration) {}
func (nopRecorder) RecordTokenRefresh(string)                            {}
