package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marketbytes-devops/kwa-console/internal/field"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_statuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad request", model.NewBadRequestError("x"), http.StatusBadRequest, model.ErrBadRequest},
		{"forbidden", model.NewForbiddenError("x"), http.StatusForbidden, model.ErrForbidden},
		{"not found", model.NewNotFoundError("x"), http.StatusNotFound, model.ErrNotFound},
		{"validation", model.NewValidationError(nil), http.StatusUnprocessableEntity, model.ErrValidationError},
		{"backend down", model.NewBackendUnavailableError(), http.StatusBadGateway, model.ErrBackendUnavailable},
		{"timeout", model.NewBackendTimeoutError(), http.StatusGatewayTimeout, model.ErrBackendTimeout},
		{"session expired", model.NewSessionExpiredError(), http.StatusUnauthorized, model.ErrSessionExpired},
		{"wrapped envelope", fmt.Errorf("ctx: %w", model.NewNotFoundError("x")), http.StatusNotFound, model.ErrNotFound},
		{"upload too large", fmt.Errorf("image: %w", field.ErrUploadTooLarge), http.StatusRequestEntityTooLarge, model.ErrUploadTooLarge},
		{"invalid value", fmt.Errorf("name: %w", field.ErrInvalidFieldValue), http.StatusBadRequest, model.ErrBadRequest},
		{"unknown field", field.ErrUnknownField, http.StatusNotFound, model.ErrNotFound},
		{"unsupported type", field.ErrUnsupportedFieldType, http.StatusUnprocessableEntity, model.ErrUnsupportedFieldType},
		{"no session", session.ErrNoSession, http.StatusUnauthorized, model.ErrSessionExpired},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, model.ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var body struct {
				Error model.ErrorEnvelope `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Error.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.code)
			}
		})
	}
}

func TestWriteError_plain_error_hides_message(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("dial tcp 10.0.0.3:5432: connection refused"))
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Error.Message != "An unexpected error occurred" {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestWriteError_validation_details(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewValidationError([]model.FieldError{
		{Field: "name", Code: "INVALID", Message: "This field may not be blank."},
	}))
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Error.Details) != 1 || body.Error.Details[0].Field != "name" {
		t.Errorf("details = %+v", body.Error.Details)
	}
}
