package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/service"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

// ContextUserKey is the gin context key storing the resolved identity.
const ContextUserKey = "currentIdentity"

type sessionResolver interface {
	ValidateAccessToken(ctx context.Context, token string) (*models.Identity, error)
	RefreshSession(ctx context.Context, token string, writer service.TokenWriter, meta models.ClientMeta) (*models.Identity, error)
}

// Gate resolves the caller's identity from token material. A valid access
// token wins; otherwise a refresh token is rotated transparently.
type Gate struct {
	sessions sessionResolver
	cookies  CookieOptions
	logger   *zap.Logger
}

// NewGate creates an authentication gate.
func NewGate(sessions sessionResolver, cookies CookieOptions, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{sessions: sessions, cookies: cookies, logger: logger}
}

// Required rejects requests without a valid session.
func (g *Gate) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := g.resolve(c)
		if err != nil {
			g.logger.Error("session lookup failed", zap.String("path", c.FullPath()), zap.Error(err))
			response.Error(c, err)
			c.Abort()
			return
		}
		if identity == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Set(ContextUserKey, identity)
		c.Next()
	}
}

// Optional attaches the identity when present but never blocks.
func (g *Gate) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := g.resolve(c)
		if err != nil {
			g.logger.Warn("optional session lookup failed", zap.Error(err))
		} else if identity != nil {
			c.Set(ContextUserKey, identity)
		}
		c.Next()
	}
}

func (g *Gate) resolve(c *gin.Context) (*models.Identity, error) {
	ctx := c.Request.Context()
	if raw := AccessToken(c); raw != "" {
		identity, err := g.sessions.ValidateAccessToken(ctx, raw)
		if err != nil || identity != nil {
			return identity, err
		}
	}

	raw := RefreshToken(c)
	if raw == "" {
		return nil, nil
	}
	transport := NewTokenTransport(c, g.cookies)
	identity, err := g.sessions.RefreshSession(ctx, raw, transport, ClientMeta(c))
	if err != nil {
		return nil, err
	}
	if identity == nil {
		transport.Clear()
	}
	return identity, nil
}

// IdentityFromContext returns the identity set by the gate, if any.
func IdentityFromContext(c *gin.Context) *models.Identity {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	identity, _ := value.(*models.Identity)
	return identity
}

// ClientMeta captures request metadata recorded on sessions and audit rows.
func ClientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}
