package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestParseSameSite(t *testing.T) {
	assert.Equal(t, http.SameSiteStrictMode, ParseSameSite("Strict"))
	assert.Equal(t, http.SameSiteNoneMode, ParseSameSite(" none "))
	assert.Equal(t, http.SameSiteLaxMode, ParseSameSite(""))
	assert.Equal(t, http.SameSiteLaxMode, ParseSameSite("bogus"))
}

func TestTokenReadPrecedence(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	req.Header.Set(RefreshTokenHeader, "refresh-header")
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "from-cookie"})
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "refresh-cookie"})
	c.Request = req

	assert.Equal(t, "from-header", AccessToken(c))
	assert.Equal(t, "refresh-cookie", RefreshToken(c))
}

func TestTokenReadFallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	req.Header.Set(RefreshTokenHeader, "refresh-header")
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "from-cookie"})
	c.Request = req

	assert.Equal(t, "from-cookie", AccessToken(c))
	assert.Equal(t, "refresh-header", RefreshToken(c))
}
