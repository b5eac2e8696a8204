package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/models"
)

// Token material names on the wire.
const (
	AccessCookieName   = "access_token"
	RefreshCookieName  = "refresh_token"
	AccessTokenHeader  = "X-Access-Token"
	RefreshTokenHeader = "X-Refresh-Token"
)

// CookieOptions controls how token cookies are scoped.
type CookieOptions struct {
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

// ParseSameSite maps a config string onto http.SameSite, defaulting to Lax.
func ParseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// TokenTransport hands token pairs back to the client as HttpOnly cookies and
// response headers.
type TokenTransport struct {
	c    *gin.Context
	opts CookieOptions
	now  func() time.Time
}

// NewTokenTransport binds a transport to the current request.
func NewTokenTransport(c *gin.Context, opts CookieOptions) *TokenTransport {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteLaxMode
	}
	return &TokenTransport{c: c, opts: opts, now: time.Now}
}

// WriteTokens sets both cookies and headers for pair.
func (t *TokenTransport) WriteTokens(pair models.TokenPair) {
	now := t.now()
	t.setCookie(AccessCookieName, pair.AccessToken, maxAge(pair.AccessTokenExpiresAt, now))
	t.setCookie(RefreshCookieName, pair.RefreshToken, maxAge(pair.RefreshTokenExpiresAt, now))
	t.c.Header(AccessTokenHeader, pair.AccessToken)
	t.c.Header(RefreshTokenHeader, pair.RefreshToken)
}

// Clear expires both token cookies.
func (t *TokenTransport) Clear() {
	t.setCookie(AccessCookieName, "", -1)
	t.setCookie(RefreshCookieName, "", -1)
}

func (t *TokenTransport) setCookie(name, value string, age int) {
	t.c.SetSameSite(t.opts.SameSite)
	t.c.SetCookie(name, value, age, t.opts.Path, t.opts.Domain, t.opts.Secure, true)
}

func maxAge(expiresAt, now time.Time) int {
	age := int(expiresAt.Sub(now).Seconds())
	if age < 1 {
		return -1
	}
	return age
}

// AccessToken reads the access token from the Authorization header or cookie.
func AccessToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := c.Cookie(AccessCookieName); err == nil {
		return cookie
	}
	return ""
}

// RefreshToken reads the refresh token from its cookie or header.
func RefreshToken(c *gin.Context) string {
	if cookie, err := c.Cookie(RefreshCookieName); err == nil && cookie != "" {
		return cookie
	}
	return strings.TrimSpace(c.GetHeader(RefreshTokenHeader))
}
