package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Manager combines a persistent and an ephemeral Store. Lookups consult the
// persistent tier first; writes go to the tier the session lives in.
type Manager struct {
	persistent  Store
	ephemeral   Store
	ttl         time.Duration
	rememberTTL time.Duration
	newID       func() string
}

// NewManager creates a Manager. ttl applies to ephemeral sessions and
// rememberTTL to persistent ones.
func NewManager(persistent, ephemeral Store, ttl, rememberTTL time.Duration) *Manager {
	return &Manager{
		persistent:  persistent,
		ephemeral:   ephemeral,
		ttl:         ttl,
		rememberTTL: rememberTTL,
		newID:       func() string { return uuid.NewString() },
	}
}

// Open stores freshly issued tokens under a new session id.
func (m *Manager) Open(ctx context.Context, t Tokens) (string, error) {
	sid := m.newID()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	store, ttl := m.ephemeral, m.ttl
	if t.Remember {
		store, ttl = m.persistent, m.rememberTTL
	}
	if err := store.Put(ctx, sid, t, ttl); err != nil {
		return "", fmt.Errorf("session: open: %w", err)
	}
	return sid, nil
}

// Tokens returns the tokens of sid or ErrNoSession.
func (m *Manager) Tokens(ctx context.Context, sid string) (Tokens, error) {
	_, t, err := m.lookup(ctx, sid)
	return t, err
}

// UpdateAccess stores a refreshed access token in the tier sid came from.
func (m *Manager) UpdateAccess(ctx context.Context, sid, access string) error {
	store, _, err := m.lookup(ctx, sid)
	if err != nil {
		return err
	}
	return store.UpdateAccess(ctx, sid, access)
}

// Clear removes sid from both tiers.
func (m *Manager) Clear(ctx context.Context, sid string) error {
	return errors.Join(
		m.persistent.Delete(ctx, sid),
		m.ephemeral.Delete(ctx, sid),
	)
}

// HealthCheck checks the persistent tier when it supports health checks.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if hc, ok := m.persistent.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (m *Manager) lookup(ctx context.Context, sid string) (Store, Tokens, error) {
	if sid == "" {
		return nil, Tokens{}, ErrNoSession
	}
	for _, store := range []Store{m.persistent, m.ephemeral} {
		t, ok, err := store.Get(ctx, sid)
		if err != nil {
			return nil, Tokens{}, fmt.Errorf("session: lookup: %w", err)
		}
		if ok {
			return store, t, nil
		}
	}
	return nil, Tokens{}, ErrNoSession
}
