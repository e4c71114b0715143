package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/marketbytes-devops/kwa-console/model"
)

// Claims are the access-token claims the console reads. Signatures are
// verified by the backend, never here.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// ParseClaims reads user_id and exp from a backend access token.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("session: parse access token: %w", err)
	}

	var c Claims
	if uid, ok := mc["user_id"]; ok {
		c.UserID = model.Stringify(uid)
	} else if sub, err := mc.GetSubject(); err == nil {
		c.UserID = sub
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// Expired reports whether the token is past its exp, allowing leeway. A
// token without exp never expires here.
func (c Claims) Expired(now time.Time, leeway time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(c.ExpiresAt)
}
