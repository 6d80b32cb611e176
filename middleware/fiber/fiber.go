// Package fiber provides Fiber middleware for role-gated routes
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// RoleIDKey is the Locals key RequireRole stores the resolved role id under
const RoleIDKey = "gorole.roleID"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnForbidden func(c *fiber.Ctx, roleID int) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// RequireRole creates a Fiber middleware that only lets users holding one of
// cfg.Roles through.
func RequireRole(cfg Config) fiber.Handler {
	if cfg.Manager == nil {
		panic("gorole/fiber: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("gorole/fiber: Config.GetUserID is required")
	}
	allowed := make(map[int]struct{}, len(cfg.Roles))
	for _, id := range cfg.Roles {
		allowed[id] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		// Fiber uses fasthttp, so the request context comes from UserContext.
		roleID, err := cfg.Manager.GetRole(c.UserContext(), userID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		if _, ok := allowed[roleID]; !ok {
			if cfg.OnForbidden != nil {
				return cfg.OnForbidden(c, roleID)
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden", "role_id": roleID})
		}

		c.Locals(RoleIDKey, roleID)
		return c.Next()
	}
}

// FromLocals returns a UserIDExtractor that gets user ID from c.Locals
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
