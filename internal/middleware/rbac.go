package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

// SelfAccess lets a caller through when the :id route param is their own id.
const SelfAccess = "SELF"

// RBAC enforces role-based access control for routes. Callers holding any of
// the allowed roles pass.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	roles := make([]models.UserRole, 0, len(allowed))
	for _, a := range allowed {
		if a == SelfAccess {
			allowSelf = true
			continue
		}
		roles = append(roles, models.UserRole(a))
	}
	required := models.NewRoleSet(roles...)

	return func(c *gin.Context) {
		identity := IdentityFromContext(c)
		if identity == nil || identity.User == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if identity.User.Roles.HasAny(required...) {
			c.Next()
			return
		}

		if allowSelf {
			if targetID := c.Param("id"); targetID != "" && targetID == identity.UserID() {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}
