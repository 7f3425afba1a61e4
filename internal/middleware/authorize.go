package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dankerchat/backend/internal/models"
)

type PermissionLookup interface {
	PermissionsFor(ctx context.Context, userID string) (models.Permissions, error)
}

// RequirePermission lets the request through only when the current user's
// directory role grants every named permission. Must run after Auth.
func RequirePermission(perms PermissionLookup, names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		granted, err := perms.PermissionsFor(c.Request.Context(), user.ID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
			return
		}
		for _, name := range names {
			if !granted.Has(name) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}

		c.Next()
	}
}
