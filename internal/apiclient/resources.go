package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/model"
)

// SessionClient is a Client bound to one console session. It implements the
// collection operations the form engine needs.
type SessionClient struct {
	client *Client
	sid    string
}

// SessionID returns the bound session id.
func (s *SessionClient) SessionID() string { return s.sid }

// List fetches every entity of a collection. Both bare arrays and paginated
// {"results": [...]} bodies are accepted.
func (s *SessionClient) List(ctx context.Context, endpoint string) ([]model.Entity, error) {
	var raw json.RawMessage
	if err := s.Get(ctx, endpoint, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		var page struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("apiclient: decode %s: %w", endpoint, err)
		}
		raw = page.Results
	}

	var items []model.Entity
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("apiclient: decode %s: %w", endpoint, err)
	}
	return items, nil
}

// Create posts a new entity as multipart form data.
func (s *SessionClient) Create(ctx context.Context, endpoint string, payload model.Payload) (model.Entity, error) {
	return s.sendForm(ctx, http.MethodPost, endpoint, endpoint, payload)
}

// Replace updates every field of an entity.
func (s *SessionClient) Replace(ctx context.Context, endpoint, id string, payload model.Payload) (model.Entity, error) {
	return s.sendForm(ctx, http.MethodPut, itemPath(endpoint, id), endpoint+"{id}/", payload)
}

// Patch updates some fields of an entity.
func (s *SessionClient) Patch(ctx context.Context, endpoint, id string, payload model.Payload) (model.Entity, error) {
	return s.sendForm(ctx, http.MethodPatch, itemPath(endpoint, id), endpoint+"{id}/", payload)
}

// Delete removes an entity.
func (s *SessionClient) Delete(ctx context.Context, endpoint, id string) error {
	return s.client.send(ctx, s.sid, request{
		method: http.MethodDelete,
		path:   itemPath(endpoint, id),
		route:  endpoint + "{id}/",
	}, nil)
}

// Reorder persists a new display order for a collection.
func (s *SessionClient) Reorder(ctx context.Context, endpoint string, order []model.OrderItem) error {
	body, err := json.Marshal(map[string]any{"order": order})
	if err != nil {
		return fmt.Errorf("apiclient: marshal reorder: %w", err)
	}
	return s.client.send(ctx, s.sid, request{
		method:      http.MethodPost,
		path:        endpoint + "reorder/",
		route:       endpoint + "reorder/",
		body:        body,
		contentType: "application/json",
	}, nil)
}

// Get performs an authenticated GET and decodes the body into out.
func (s *SessionClient) Get(ctx context.Context, path string, out any) error {
	route, _, _ := strings.Cut(path, "?")
	return s.client.send(ctx, s.sid, request{
		method: http.MethodGet,
		path:   path,
		route:  route,
	}, out)
}

// Profile returns the logged-in user.
func (s *SessionClient) Profile(ctx context.Context) (model.Profile, error) {
	var p model.Profile
	err := s.Get(ctx, s.client.cfg.ProfilePath, &p)
	return p, err
}

// Role returns a role and its page permissions.
func (s *SessionClient) Role(ctx context.Context, roleID string) (model.Role, error) {
	var r model.Role
	err := s.client.send(ctx, s.sid, request{
		method: http.MethodGet,
		path:   s.client.cfg.RolesPath + url.PathEscape(roleID) + "/",
		route:  s.client.cfg.RolesPath + "{id}/",
	}, &r)
	return r, err
}

// Logout invalidates the session's refresh token on the backend.
func (s *SessionClient) Logout(ctx context.Context) error {
	tokens, err := s.client.tokens.Tokens(ctx, s.sid)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"refresh": tokens.Refresh})
	if err != nil {
		return err
	}
	return s.client.send(ctx, s.sid, request{
		method:      http.MethodPost,
		path:        s.client.cfg.LogoutPath,
		route:       s.client.cfg.LogoutPath,
		body:        body,
		contentType: "application/json",
	}, nil)
}

func (s *SessionClient) sendForm(ctx context.Context, method, path, route string, payload model.Payload) (model.Entity, error) {
	body, contentType, err := encodeMultipart(payload)
	if err != nil {
		return nil, fmt.Errorf("apiclient: encode form: %w", err)
	}
	logger := observability.RequestLogger(ctx, s.client.logger)
	if ce := logger.Check(zap.DebugLevel, "apiclient: sending form"); ce != nil {
		ce.Write(
			zap.String("method", method),
			zap.String("route", route),
			zap.Any("payload", s.client.redactor.Payload(payload)),
		)
	}
	var out model.Entity
	err = s.client.send(ctx, s.sid, request{
		method:      method,
		path:        path,
		route:       route,
		body:        body,
		contentType: contentType,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func itemPath(endpoint, id string) string {
	return endpoint + url.PathEscape(id) + "/"
}
