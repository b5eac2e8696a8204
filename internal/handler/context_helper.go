package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/middleware"
	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

// requireIdentity returns the gate's identity or writes a 401 and returns nil.
func requireIdentity(c *gin.Context) *models.Identity {
	identity := middleware.IdentityFromContext(c)
	if identity == nil || identity.User == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil
	}
	return identity
}
