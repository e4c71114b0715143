package transport

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/model"
)

// Accounts performs the backend side of the profile and password flows.
type Accounts interface {
	Profile(ctx context.Context, sid string) (model.Profile, error)
	UpdateProfile(ctx context.Context, sid string, u model.ProfileUpdate) (model.Profile, error)
	ChangePassword(ctx context.Context, sid string, pc model.PasswordChange) (model.AccountMessage, error)
	ForgotPassword(ctx context.Context, email string) (model.AccountMessage, error)
	VerifyOTP(ctx context.Context, v model.OTPVerification) (model.AccountMessage, error)
	ResetPassword(ctx context.Context, r model.PasswordReset) (model.AccountMessage, error)
}

// AccountResponse is returned by the profile and password routes.
type AccountResponse struct {
	Message string         `json:"message,omitempty"`
	Profile *model.Profile `json:"profile,omitempty"`
}

type accountHandlers struct {
	accounts Accounts
	logger   *zap.Logger
}

func (h *accountHandlers) profile(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	p, err := h.accounts.Profile(r.Context(), rctx.SessionID)
	if err != nil {
		WriteRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, AccountResponse{Profile: &p})
}

func (h *accountHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var u model.ProfileUpdate
	if err := decodeJSON(r, &u); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	if u.Email != nil {
		*u.Email = strings.TrimSpace(*u.Email)
	}
	h.saveProfile(w, r, u)
}

func (h *accountHandlers) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(w, r)
	if err != nil {
		WriteRequestError(w, r, err)
		return
	}
	if !strings.HasPrefix(http.DetectContentType(up.Data), "image/") {
		WriteRequestError(w, r, model.NewValidationError([]model.FieldError{
			{Field: "avatar", Code: "INVALID", Message: "Avatar must be an image"},
		}))
		return
	}
	h.saveProfile(w, r, model.ProfileUpdate{Avatar: up})
}

func (h *accountHandlers) saveProfile(w http.ResponseWriter, r *http.Request, u model.ProfileUpdate) {
	if err := u.Validate(); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	rctx := model.MustRequestContext(r.Context())
	p, err := h.accounts.UpdateProfile(r.Context(), rctx.SessionID, u)
	if err != nil {
		WriteRequestError(w, r, err)
		return
	}
	observability.RequestLogger(r.Context(), h.logger).Info("profile updated")
	WriteJSON(w, http.StatusOK, AccountResponse{Message: "Profile updated successfully", Profile: &p})
}

func (h *accountHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var pc model.PasswordChange
	if err := decodeJSON(r, &pc); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	if err := pc.Validate(); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	rctx := model.MustRequestContext(r.Context())
	msg, err := h.accounts.ChangePassword(r.Context(), rctx.SessionID, pc)
	if err != nil {
		WriteRequestError(w, r, err)
		return
	}
	observability.RequestLogger(r.Context(), h.logger).Info("password changed")
	writeMessage(w, msg, "Password changed successfully")
}

func (h *accountHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" {
		WriteRequestError(w, r, model.NewValidationError([]model.FieldError{
			{Field: "email", Code: "REQUIRED", Message: "Email is required"},
		}))
		return
	}
	msg, err := h.accounts.ForgotPassword(r.Context(), body.Email)
	if err != nil {
		observability.LoggerFrom(r.Context(), h.logger).Warn("password reset request failed", zap.Error(err))
		WriteRequestError(w, r, err)
		return
	}
	writeMessage(w, msg, "OTP sent to your email")
}

func (h *accountHandlers) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var v model.OTPVerification
	if err := decodeJSON(r, &v); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	v.Email, v.OTP = strings.TrimSpace(v.Email), strings.TrimSpace(v.OTP)
	if err := v.Validate(); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	msg, err := h.accounts.VerifyOTP(r.Context(), v)
	if err != nil {
		WriteRequestError(w, r, err)
		return
	}
	writeMessage(w, msg, "OTP verified successfully")
}

func (h *accountHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var rp model.PasswordReset
	if err := decodeJSON(r, &rp); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	rp.Email = strings.TrimSpace(rp.Email)
	if err := rp.Validate(); err != nil {
		WriteRequestError(w, r, err)
		return
	}
	msg, err := h.accounts.ResetPassword(r.Context(), rp)
	if err != nil {
		WriteRequestError(w, r, err)
		return
	}
	observability.LoggerFrom(r.Context(), h.logger).Info("password reset")
	writeMessage(w, msg, "Password reset successfully")
}

func writeMessage(w http.ResponseWriter, msg model.AccountMessage, fallback string) {
	if msg.Message == "" {
		msg.Message = fallback
	}
	WriteJSON(w, http.StatusOK, AccountResponse{Message: msg.Message})
}
