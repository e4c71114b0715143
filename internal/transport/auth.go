package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/model"
)

// Authenticator performs the backend side of login and logout.
type Authenticator interface {
	Login(ctx context.Context, creds model.Credentials) (model.LoginResult, error)
	Logout(ctx context.Context, sid string) error
}

// Sessions opens and closes console sessions.
type Sessions interface {
	TokenReader
	Open(ctx context.Context, t session.Tokens) (string, error)
	Clear(ctx context.Context, sid string) error
}

// SessionCloser releases per-session state held elsewhere in the process.
type SessionCloser interface {
	CloseSession(sid string) int
}

// LoginRecorder counts login outcomes.
type LoginRecorder interface {
	RecordLogin(outcome string)
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	LoginPage string `json:"login_page"`
}

type authHandlers struct {
	cfg      config.SessionConfig
	backend  Authenticator
	sessions Sessions
	closers  []SessionCloser
	caps     model.CapabilityResolver
	recorder LoginRecorder
	logger   *zap.Logger
}

func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	creds.Email = strings.TrimSpace(creds.Email)

	var missing []model.FieldError
	if creds.Email == "" {
		missing = append(missing, model.FieldError{Field: "email", Code: "REQUIRED", Message: "Email is required"})
	}
	if creds.Password == "" {
		missing = append(missing, model.FieldError{Field: "password", Code: "REQUIRED", Message: "Password is required"})
	}
	if len(missing) > 0 {
		WriteRequestError(w, r, model.NewValidationError(missing))
		return
	}

	logger := observability.LoggerFrom(r.Context(), h.logger)

	result, err := h.backend.Login(r.Context(), creds)
	if err != nil {
		h.recordLogin("failure")
		logger.Warn("login failed", zap.Error(err))
		WriteRequestError(w, r, err)
		return
	}

	sid, err := h.sessions.Open(r.Context(), session.Tokens{
		Access:    result.Access,
		Refresh:   result.Refresh,
		Role:      result.Role,
		LoginPage: result.LoginPage,
		Remember:  creds.Remember,
	})
	if err != nil {
		h.recordLogin("error")
		logger.Error("opening session failed", zap.Error(err))
		WriteRequestError(w, r, model.NewInternalError())
		return
	}
	h.recordLogin("success")
	logger.Info("login", zap.String("session_id", sid), zap.String("role", result.Role), zap.Bool("remember", creds.Remember))

	cookie := &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	if creds.Remember {
		cookie.MaxAge = int(h.cfg.RememberTTL / time.Second)
	}
	http.SetCookie(w, cookie)

	WriteJSON(w, http.StatusOK, LoginResponse{
		SessionID: sid,
		Role:      result.Role,
		LoginPage: result.LoginPage,
	})
}

// logout revokes the refresh token and drops every trace of the session.
// A backend failure is logged; the local session is cleared regardless.
func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	logger := observability.RequestLogger(r.Context(), h.logger)

	if err := h.backend.Logout(r.Context(), rctx.SessionID); err != nil {
		logger.Warn("backend logout failed", zap.Error(err))
	}
	if err := h.sessions.Clear(r.Context(), rctx.SessionID); err != nil {
		logger.Error("clearing session failed", zap.Error(err))
	}
	for _, c := range h.closers {
		c.CloseSession(rctx.SessionID)
	}
	if h.caps != nil {
		h.caps.Invalidate(rctx.SessionID)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	logger.Info("logout")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *authHandlers) recordLogin(outcome string) {
	if h.recorder != nil {
		h.recorder.RecordLogin(outcome)
	}
}
