// Package http provides HTTP middleware for role-gated routes
package http

import (
	"context"
	"net/http"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Manager is the role manager instance
	Manager *gorole.Manager

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// Roles lists the role ids allowed through (required)
	Roles []int

	// OnForbidden is called when the user holds none of Roles
	// If nil, returns 403 Forbidden
	OnForbidden func(w http.ResponseWriter, r *http.Request, roleID int)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireRole creates an HTTP middleware that only lets users holding one of
// config.Roles through. The resolved role id is stored in the request context.
func RequireRole(config Config) func(http.Handler) http.Handler {
	if config.Manager == nil {
		panic("gorole/http: Config.Manager is required")
	}
	if config.GetUserID == nil {
		panic("gorole/http: Config.GetUserID is required")
	}
	allowed := make(map[int]struct{}, len(config.Roles))
	for _, id := range config.Roles {
		allowed[id] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			roleID, err := config.Manager.GetRole(r.Context(), userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if _, ok := allowed[roleID]; !ok {
				if config.OnForbidden != nil {
					config.OnForbidden(w, r, roleID)
				} else {
					http.Error(w, "Forbidden", http.StatusForbidden)
				}
				return
			}

			ctx := context.WithValue(r.Context(), RoleIDKey, roleID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates on roles (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := RequireRole(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "gorole:userID"

	// RoleIDKey is the context key RequireRole stores the resolved role id under
	RoleIDKey ContextKey = "gorole:roleID"
)

// RoleFromContext returns the role id stored by RequireRole.
func RoleFromContext(ctx context.Context) (int, bool) {
	roleID, ok := ctx.Value(RoleIDKey).(int)
	return roleID, ok
}

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
