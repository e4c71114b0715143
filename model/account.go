package model

import (
	"encoding/json"
	"strings"
)

// Credentials are the login form values.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// LoginResult is the backend's answer to a successful login.
type LoginResult struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	Role      string `json:"role"`
	LoginPage string `json:"login_page"`
}

// RoleRef identifies a role on a profile.
type RoleRef struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// Profile is the authenticated user as reported by the backend.
type Profile struct {
	ID          json.Number `json:"id"`
	Email       string      `json:"email"`
	Username    string      `json:"username"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	Avatar      string      `json:"avatar,omitempty"`
	IsSuperuser bool        `json:"is_superuser"`
	Role        *RoleRef    `json:"role"`
}

// ProfileUpdate holds the profile fields a user changes. Nil fields are
// left as they are.
type ProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Username  *string `json:"username,omitempty"`
	Avatar    *Upload `json:"-"`
}

// Payload returns the form fields to send, in a fixed order.
func (u ProfileUpdate) Payload() Payload {
	var p Payload
	for _, f := range []struct {
		key string
		v   *string
	}{
		{"first_name", u.FirstName},
		{"last_name", u.LastName},
		{"email", u.Email},
		{"username", u.Username},
	} {
		if f.v != nil {
			p = append(p, PayloadField{Key: f.key, Value: *f.v})
		}
	}
	if u.Avatar != nil {
		p = append(p, PayloadField{Key: "avatar", Value: u.Avatar})
	}
	return p
}

// Validate rejects an update that changes nothing or blanks the login
// identity.
func (u ProfileUpdate) Validate() error {
	var errs []FieldError
	if u.Email != nil && strings.TrimSpace(*u.Email) == "" {
		errs = append(errs, FieldError{Field: "email", Code: "REQUIRED", Message: "Email is required"})
	}
	if u.Username != nil && strings.TrimSpace(*u.Username) == "" {
		errs = append(errs, FieldError{Field: "username", Code: "REQUIRED", Message: "Username is required"})
	}
	if len(errs) > 0 {
		return NewValidationError(errs)
	}
	if len(u.Payload()) == 0 {
		return NewBadRequestError("Nothing to update")
	}
	return nil
}

// PasswordChange is the change-password form of a logged-in user.
type PasswordChange struct {
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

// Validate checks that every field is filled and the new passwords agree.
func (c PasswordChange) Validate() error {
	errs := requirePresent(
		"current_password", c.CurrentPassword, "Current password is required",
		"new_password", c.NewPassword, "New password is required",
		"confirm_new_password", c.ConfirmNewPassword, "Confirm your new password",
	)
	return passwordErrors(errs, c.NewPassword, c.ConfirmNewPassword)
}

// OTPVerification is the one-time code mailed by a forgot-password request.
type OTPVerification struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// Validate checks that the email is present and the code has six digits.
func (v OTPVerification) Validate() error {
	errs := requirePresent("email", v.Email, "Email is required")
	if len(v.OTP) != 6 || strings.Trim(v.OTP, "0123456789") != "" {
		errs = append(errs, FieldError{Field: "otp", Code: "INVALID", Message: "Enter the 6-digit code from the email"})
	}
	if len(errs) > 0 {
		return NewValidationError(errs)
	}
	return nil
}

// PasswordReset sets a new password once the emailed code was verified.
type PasswordReset struct {
	Email              string `json:"email"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

// Validate checks that every field is filled and the new passwords agree.
func (r PasswordReset) Validate() error {
	errs := requirePresent(
		"email", r.Email, "Email is required",
		"new_password", r.NewPassword, "New password is required",
		"confirm_new_password", r.ConfirmNewPassword, "Confirm your new password",
	)
	return passwordErrors(errs, r.NewPassword, r.ConfirmNewPassword)
}

// AccountMessage is the backend's confirmation of an account action.
type AccountMessage struct {
	Message string `json:"message"`
}

// requirePresent takes (field, value, message) triples and reports the
// blank ones.
func requirePresent(triples ...string) []FieldError {
	var errs []FieldError
	for i := 0; i+2 < len(triples); i += 3 {
		if strings.TrimSpace(triples[i+1]) == "" {
			errs = append(errs, FieldError{Field: triples[i], Code: "REQUIRED", Message: triples[i+2]})
		}
	}
	return errs
}

func passwordErrors(errs []FieldError, password, confirm string) error {
	if password != "" && confirm != "" && password != confirm {
		errs = append(errs, FieldError{Field: "confirm_new_password", Code: "MISMATCH", Message: "Passwords do not match"})
	}
	if len(errs) > 0 {
		return NewValidationError(errs)
	}
	return nil
}

// PagePermission is one row of a role's permission matrix.
type PagePermission struct {
	Page        string `json:"page"`
	CanView     bool   `json:"can_view"`
	CanAdd      bool   `json:"can_add"`
	CanEdit     bool   `json:"can_edit"`
	CanDelete   bool   `json:"can_delete"`
	IsLoginPage bool   `json:"is_login_page"`
}

// Role is a backend role with its permissions.
type Role struct {
	ID          json.Number      `json:"id"`
	Name        string           `json:"name"`
	Permissions []PagePermission `json:"permissions"`
}
