package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(expected string) *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware(expected))
	app.Use(UserContextMiddleware())
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user": c.Locals("user_id"), "roles": c.Locals("user_roles")})
	})
	app.Get("/ops", RequireRole("admin"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	return app
}

func status(t *testing.T, app *fiber.App, path string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := newApp("s3cret")
	assert.Equal(t, http.StatusUnauthorized, status(t, app, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, status(t, app, "/me", map[string]string{"Authorization": "Bearer nope"}))
	assert.Equal(t, http.StatusOK, status(t, app, "/me", map[string]string{"Authorization": "Bearer s3cret"}))
	assert.Equal(t, http.StatusOK, status(t, app, "/me", map[string]string{"Authorization": "s3cret"}))
}

func TestGatewayAuthMiddlewareWithoutTokenRejectsAll(t *testing.T) {
	app := newApp("")
	assert.Equal(t, http.StatusUnauthorized, status(t, app, "/me", map[string]string{"Authorization": "Bearer "}))
	assert.Equal(t, http.StatusUnauthorized, status(t, app, "/me", map[string]string{"Authorization": "anything"}))
}

func TestRequireRole(t *testing.T) {
	app := newApp("s3cret")
	auth := "Bearer s3cret"
	assert.Equal(t, http.StatusForbidden, status(t, app, "/ops", map[string]string{"Authorization": auth}))
	assert.Equal(t, http.StatusForbidden, status(t, app, "/ops", map[string]string{"Authorization": auth, "X-User-Roles": "player"}))
	assert.Equal(t, http.StatusNoContent, status(t, app, "/ops", map[string]string{"Authorization": auth, "X-User-Roles": "player, admin"}))
}

func TestGatewayToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer s3cret", "s3cret"},
		{"bearer s3cret", "s3cret"},
		{"  Bearer   s3cret ", "s3cret"},
		{"s3cret", "s3cret"},
		{"Basic s3cret", "Basic s3cret"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, gatewayToken(tt.header), tt.header)
	}
	assert.Equal(t, http.StatusOK, status(t, newApp("s3cret"), "/me", map[string]string{"Authorization": "bearer s3cret"}))
}
