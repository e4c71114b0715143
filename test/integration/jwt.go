package integration

import (
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer signs the access and refresh tokens handed out by the mock
// backend. Access tokens carry a generation claim; bumping the generation
// invalidates every access token issued before it.
type tokenIssuer struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	generation atomic.Int64
	serial     atomic.Int64
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	return &tokenIssuer{
		key:        key,
		accessTTL:  time.Hour,
		refreshTTL: 24 * time.Hour,
	}
}

// Access issues an access token for userID.
func (ti *tokenIssuer) Access(userID int) string {
	return ti.sign(jwt.MapClaims{
		"token_type": "access",
		"user_id":    userID,
		"gen":        ti.generation.Load(),
		"jti":        ti.nextJTI(),
		"exp":        jwt.NewNumericDate(time.Now().Add(ti.accessTTL)),
	})
}

// ExpiredAccess issues an access token for userID whose exp is in the past.
func (ti *tokenIssuer) ExpiredAccess(userID int) string {
	return ti.sign(jwt.MapClaims{
		"token_type": "access",
		"user_id":    userID,
		"gen":        ti.generation.Load(),
		"jti":        ti.nextJTI(),
		"exp":        jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
}

// Refresh issues a refresh token for userID.
func (ti *tokenIssuer) Refresh(userID int) string {
	return ti.sign(jwt.MapClaims{
		"token_type": "refresh",
		"user_id":    userID,
		"jti":        ti.nextJTI(),
		"exp":        jwt.NewNumericDate(time.Now().Add(ti.refreshTTL)),
	})
}

// RotateAccess makes every access token issued so far invalid.
func (ti *tokenIssuer) RotateAccess() {
	ti.generation.Add(1)
}

// Verify checks the signature, expiry and token type of raw and returns the
// user id it was issued for. Stale access tokens are rejected.
func (ti *tokenIssuer) Verify(raw, tokenType string) (int, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return ti.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, err
	}
	if claims["token_type"] != tokenType {
		return 0, fmt.Errorf("token type %v, want %s", claims["token_type"], tokenType)
	}
	if tokenType == "access" {
		gen, _ := claims["gen"].(float64)
		if int64(gen) != ti.generation.Load() {
			return 0, fmt.Errorf("access token from generation %d has been rotated", int64(gen))
		}
	}
	uid, ok := claims["user_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("token has no user_id")
	}
	return int(uid), nil
}

func (ti *tokenIssuer) sign(claims jwt.MapClaims) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

func (ti *tokenIssuer) nextJTI() string {
	return fmt.Sprintf("jti-%d", ti.serial.Add(1))
}
