package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/marketbytes-devops/kwa-console/model"
)

// Profile returns the user logged in to session sid.
func (c *Client) Profile(ctx context.Context, sid string) (model.Profile, error) {
	return c.ForSession(sid).Profile(ctx)
}

// UpdateProfile changes the profile of session sid's user. The backend
// reads profile updates as form data only.
func (c *Client) UpdateProfile(ctx context.Context, sid string, u model.ProfileUpdate) (model.Profile, error) {
	body, contentType, err := encodeMultipart(u.Payload())
	if err != nil {
		return model.Profile{}, fmt.Errorf("apiclient: encode profile: %w", err)
	}
	var out struct {
		Message string        `json:"message"`
		Data    model.Profile `json:"data"`
	}
	err = c.send(ctx, sid, request{
		method:      http.MethodPut,
		path:        c.cfg.ProfilePath,
		route:       c.cfg.ProfilePath,
		body:        body,
		contentType: contentType,
	}, &out)
	return out.Data, err
}

// ChangePassword replaces the password of session sid's user.
func (c *Client) ChangePassword(ctx context.Context, sid string, pc model.PasswordChange) (model.AccountMessage, error) {
	req, err := jsonRequest(c.cfg.ChangePasswordPath, pc)
	if err != nil {
		return model.AccountMessage{}, err
	}
	var out model.AccountMessage
	err = c.send(ctx, sid, req, &out)
	return out, err
}

// ForgotPassword asks the backend to mail a one-time code to email.
func (c *Client) ForgotPassword(ctx context.Context, email string) (model.AccountMessage, error) {
	return c.anonymous(ctx, c.cfg.ForgotPasswordPath, map[string]string{"email": email})
}

// VerifyOTP checks the mailed code. A verified code allows one reset.
func (c *Client) VerifyOTP(ctx context.Context, v model.OTPVerification) (model.AccountMessage, error) {
	return c.anonymous(ctx, c.cfg.VerifyOTPPath, v)
}

// ResetPassword sets a new password after VerifyOTP succeeded.
func (c *Client) ResetPassword(ctx context.Context, r model.PasswordReset) (model.AccountMessage, error) {
	return c.anonymous(ctx, c.cfg.ResetPasswordPath, r)
}

// anonymous posts v as JSON without a bearer token.
func (c *Client) anonymous(ctx context.Context, path string, v any) (model.AccountMessage, error) {
	req, err := jsonRequest(path, v)
	if err != nil {
		return model.AccountMessage{}, err
	}
	resp, err := c.execute(ctx, req, "")
	if err != nil {
		return model.AccountMessage{}, err
	}
	var out model.AccountMessage
	if err := c.decode(ctx, req, resp, &out); err != nil {
		return model.AccountMessage{}, err
	}
	return out, nil
}

func jsonRequest(path string, v any) (request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return request{}, fmt.Errorf("apiclient: marshal %s: %w", path, err)
	}
	return request{
		method:      http.MethodPost,
		path:        path,
		route:       path,
		body:        body,
		contentType: "application/json",
	}, nil
}
