package apiclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/marketbytes-devops/kwa-console/model"
)

// nonFieldKey is where the backend reports errors not tied to one field.
const nonFieldKey = "non_field_errors"

// parseValidationErrors turns a 400 body of the form {"field": ["msg"]}
// into a VALIDATION_ERROR envelope.
func parseValidationErrors(body []byte) *model.ErrorEnvelope {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		return model.NewValidationError(nil)
	}
	if len(raw) == 1 {
		for _, key := range []string{"detail", "error"} {
			if msg, ok := raw[key].(string); ok {
				env := model.NewValidationError(nil)
				env.Message = msg
				return env
			}
		}
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	details := make([]model.FieldError, 0, len(keys))
	for _, k := range keys {
		field := k
		if k == nonFieldKey {
			field = ""
		}
		details = append(details, model.FieldError{
			Field:   field,
			Code:    "INVALID",
			Message: joinMessages(raw[k]),
		})
	}
	return model.NewValidationError(details)
}

// loginFailureMessage extracts the message shown when a login is rejected.
func loginFailureMessage(body []byte) string {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		if msgs, ok := raw[nonFieldKey]; ok {
			if msg := joinMessages(msgs); msg != "" {
				return msg
			}
		}
		if detail, ok := raw["detail"].(string); ok && detail != "" {
			return detail
		}
	}
	return "Invalid email or password"
}

// detailMessage returns the "detail" or "error" string of an error body,
// or fallback.
func detailMessage(body []byte, fallback string) string {
	var raw struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		if raw.Detail != "" {
			return raw.Detail
		}
		if raw.Error != "" {
			return raw.Error
		}
	}
	return fallback
}

func joinMessages(v any) string {
	switch msgs := v.(type) {
	case string:
		return msgs
	case []any:
		parts := make([]string, 0, len(msgs))
		for _, m := range msgs {
			parts = append(parts, joinMessages(m))
		}
		return strings.Join(parts, " ")
	case nil:
		return ""
	default:
		return fmt.Sprint(msgs)
	}
}
