// Package gin provides Gin middleware for role-gated routes
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// RoleIDKey is the Gin context key RequireRole stores the resolved role id under
const RoleIDKey = "gorole.roleID"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Manager is the role manager instance
	Manager *gorole.Manager

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// Roles lists the role ids allowed through (required)
	Roles []int

	// OnForbidden is called when the user holds none of Roles
	// If nil, returns 403 JSON
	OnForbidden func(c *gongin.Context, roleID int)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// RequireRole creates a Gin middleware that only lets users holding one of
// cfg.Roles through. Custom handlers are followed by c.Abort().
func RequireRole(cfg Config) gongin.HandlerFunc {
	if cfg.Manager == nil {
		panic("gorole/gin: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("gorole/gin: Config.GetUserID is required")
	}
	allowed := make(map[int]struct{}, len(cfg.Roles))
	for _, id := range cfg.Roles {
		allowed[id] = struct{}{}
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		roleID, err := cfg.Manager.GetRole(c.Request.Context(), userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		if _, ok := allowed[roleID]; !ok {
			if cfg.OnForbidden != nil {
				cfg.OnForbidden(c, roleID)
			} else {
				c.JSON(http.StatusForbidden, gongin.H{"error": "Forbidden", "role_id": roleID})
			}
			c.Abort()
			return
		}

		c.Set(RoleIDKey, roleID)
		c.Next()
	}
}

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetString(key)
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
