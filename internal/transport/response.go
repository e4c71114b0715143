// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the console API.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marketbytes-devops/kwa-console/internal/field"
	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/internal/session"
	"github.com/marketbytes-devops/kwa-console/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:           http.StatusBadRequest,
	model.ErrUnauthorized:         http.StatusUnauthorized,
	model.ErrForbidden:            http.StatusForbidden,
	model.ErrNotFound:             http.StatusNotFound,
	model.ErrValidationError:      http.StatusUnprocessableEntity,
	model.ErrInternalError:        http.StatusInternalServerError,
	model.ErrBackendUnavailable:   http.StatusBadGateway,
	model.ErrBackendTimeout:       http.StatusGatewayTimeout,
	model.ErrSessionExpired:       http.StatusUnauthorized,
	model.ErrUploadTooLarge:       http.StatusRequestEntityTooLarge,
	model.ErrUnsupportedFieldType: http.StatusUnprocessableEntity,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Errors that carry no envelope become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	writeError(context.Background(), w, err)
}

// WriteRequestError is WriteError with the request's trace id attached.
func WriteRequestError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(r.Context(), w, err)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	ee := toEnvelope(err)
	if ee.TraceID == "" {
		if traceID, _ := observability.TraceContext(ctx); traceID != "" {
			copied := *ee
			copied.TraceID = traceID
			ee = &copied
		}
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// toEnvelope converts err into the envelope the client sees.
func toEnvelope(err error) *model.ErrorEnvelope {
	if ee, ok := model.AsEnvelope(err); ok {
		return ee
	}
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, field.ErrUploadTooLarge), errors.As(err, &maxBytes):
		return model.NewUploadTooLargeError()
	case errors.Is(err, field.ErrInvalidFieldValue):
		return model.NewBadRequestError(err.Error())
	case errors.Is(err, field.ErrUnknownField):
		return model.NewNotFoundError(err.Error())
	case errors.Is(err, field.ErrUnsupportedFieldType):
		return &model.ErrorEnvelope{Code: model.ErrUnsupportedFieldType, Message: err.Error()}
	case errors.Is(err, session.ErrNoSession):
		return model.NewSessionExpiredError()
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewBackendTimeoutError()
	}
	return model.NewInternalError()
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// decodeJSON reads a JSON request body into v, keeping numbers as
// json.Number.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return model.NewBadRequestError("Invalid JSON body")
	}
	return nil
}

const maxJSONBody = 1 << 20
