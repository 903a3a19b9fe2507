package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"

	"shop-service/apperrors"
	"shop-service/models"
	"shop-service/utils"
)

const identityKey = "identity"

// AuthMiddleware validates the bearer token and stores the caller identity
// on the context. Failures flow into the error pipeline, never written here.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			_ = c.Error(apperrors.NewUnauthorized("Authorization header required"))
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			_ = c.Error(apperrors.NewUnauthorized("Authorization header must be a Bearer token"))
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1], jwtSecret)
		if err != nil {
			_ = c.Error(apperrors.NewUnauthorized("Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(identityKey, models.Identity{UserID: claims.UserID, Role: claims.Role})
		c.Next()
	}
}

// RequirePrivileged gates admin-only routes. resource names what is being
// protected, for the Forbidden detail and log fields.
func RequirePrivileged(resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			_ = c.Error(apperrors.NewUnauthorized("User not authenticated"))
			c.Abort()
			return
		}
		if !identity.Privileged() {
			_ = c.Error(apperrors.NewForbidden(resource, "access"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentIdentity returns the authenticated caller set by AuthMiddleware.
func CurrentIdentity(c *gin.Context) (models.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return models.Identity{}, false
	}
	identity, ok := v.(models.Identity)
	return identity, ok
}
