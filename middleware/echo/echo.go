// Package echo provides Echo middleware for role-gated routes
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// RoleIDKey is the Echo context key RequireRole stores the resolved role id under
const RoleIDKey = "gorole.roleID"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

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
	OnForbidden func(c echo.Context, roleID int) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// RequireRole creates an Echo middleware that only lets users holding one of
// cfg.Roles through.
func RequireRole(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("gorole/echo: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("gorole/echo: Config.GetUserID is required")
	}
	allowed := make(map[int]struct{}, len(cfg.Roles))
	for _, id := range cfg.Roles {
		allowed[id] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			roleID, err := cfg.Manager.GetRole(c.Request().Context(), userID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			if _, ok := allowed[roleID]; !ok {
				if cfg.OnForbidden != nil {
					return cfg.OnForbidden(c, roleID)
				}
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"error":   "Forbidden",
					"role_id": roleID,
				})
			}

			c.Set(RoleIDKey, roleID)
			return next(c)
		}
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
// set by an auth middleware, e.g. c.Set("UserID", userID).
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}
