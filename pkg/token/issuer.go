// Package token issues and verifies the signed access and refresh tokens
// handed to clients, and derives the keyed fingerprints stored in place of them.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// ErrInvalidToken is the single outcome for every verification failure.
var ErrInvalidToken = errors.New("invalid token")

const jtiBytes = 32

// Claims carried by every issued token.
type Claims struct {
	Kind      Kind   `json:"typ"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs tokens with HS256 and fingerprints them with a second key.
type Issuer struct {
	signingKey     []byte
	fingerprintKey []byte
	issuer         string
	now            func() time.Time
}

// NewIssuer builds an issuer. The fingerprint key falls back to the signing key when empty.
func NewIssuer(signingKey, fingerprintKey, issuer string) *Issuer {
	if fingerprintKey == "" {
		fingerprintKey = signingKey
	}
	return &Issuer{
		signingKey:     []byte(signingKey),
		fingerprintKey: []byte(fingerprintKey),
		issuer:         issuer,
		now:            time.Now,
	}
}

// WithClock overrides the time source; used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

// Issue mints a token of the given kind for subject bound to sessionID.
func (i *Issuer) Issue(kind Kind, subject, sessionID string, ttl time.Duration) (string, time.Time, error) {
	if kind != KindAccess && kind != KindRefresh {
		return "", time.Time{}, fmt.Errorf("unknown token kind %q", kind)
	}
	if subject == "" {
		return "", time.Time{}, errors.New("token subject required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token ttl must be positive")
	}
	if len(i.signingKey) == 0 {
		return "", time.Time{}, errors.New("signing key missing")
	}

	jti, err := randomID()
	if err != nil {
		return "", time.Time{}, err
	}

	now := i.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Kind:      kind,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{string(kind)},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry, issuer and kind. Any failure yields ErrInvalidToken.
func (i *Issuer) Verify(kind Kind, raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(kind)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return i.signingKey, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Fingerprint returns the hex HMAC-SHA256 digest persisted instead of the token.
func (i *Issuer) Fingerprint(raw string) string {
	mac := hmac.New(sha256.New, i.fingerprintKey)
	_, _ = mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal reports whether raw fingerprints to stored, in constant time.
func (i *Issuer) Equal(raw, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(i.Fingerprint(raw)), []byte(stored)) == 1
}

func randomID() (string, error) {
	buf := make([]byte, jtiBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
