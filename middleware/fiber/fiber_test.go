package fiber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gorole/pkg/gorole"
	"github.com/mihaimyh/gorole/storage/memory"
)

const (
	roleFree = 1
	rolePro  = 3
)

func setupTestManager(t *testing.T) *gorole.Manager {
	t.Helper()
	manager, err := gorole.NewManager(memory.New(), gorole.Config{DefaultRoleID: roleFree})
	require.NoError(t, err)
	_, err = manager.AssignRole(context.Background(), &gorole.UpsertRequest{UserID: "pro-user", RoleID: rolePro})
	require.NoError(t, err)
	return manager
}

func newApp(handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/premium", handler, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"role": c.Locals(RoleIDKey)})
	})
	return app
}

func do(t *testing.T, app *fiber.App, userID string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/premium", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRequireRole(t *testing.T) {
	app := newApp(RequireRole(Config{
		Manager:   setupTestManager(t),
		GetUserID: FromHeader("X-User-ID"),
		Roles:     []int{rolePro},
	}))

	code, body := do(t, app, "pro-user")
	assert.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"role":3}`, body)

	code, body = do(t, app, "free-user")
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.Contains(t, body, `"role_id":1`)

	code, _ = do(t, app, "")
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

type errorStorage struct{}

func (errorStorage) GetRole(context.Context, string) (*gorole.RoleAssignment, error) {
	return nil, errors.New("connection refused")
}

func (errorStorage) UpsertRole(context.Context, *gorole.UpsertRequest) (*gorole.UpsertResult, error) {
	return nil, errors.New("connection refused")
}

func TestRequireRole_StorageError(t *testing.T) {
	manager, err := gorole.NewManager(errorStorage{}, gorole.Config{DefaultRoleID: roleFree})
	require.NoError(t, err)

	app := newApp(RequireRole(Config{Manager: manager, GetUserID: FromHeader("X-User-ID"), Roles: []int{roleFree}}))
	code, _ := do(t, app, "user1")
	assert.Equal(t, fiber.StatusInternalServerError, code)
}

func TestFromLocals(t *testing.T) {
	manager := setupTestManager(t)
	app := fiber.New()
	app.Get("/premium", func(c *fiber.Ctx) error {
		c.Locals("userID", "pro-user")
		return c.Next()
	}, RequireRole(Config{Manager: manager, GetUserID: FromLocals("userID"), Roles: []int{rolePro}}),
		func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	code, _ := do(t, app, "")
	assert.Equal(t, fiber.StatusNoContent, code)
}
