package http_test

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpiface "github.com/jhoicas/dte-engine/internal/interfaces/http"
	"github.com/jhoicas/dte-engine/pkg/jwt"
)

const testSecret = "secreto-de-prueba"

func newAuthApp() *fiber.App {
	app := fiber.New()
	app.Get("/protegido", httpiface.AuthMiddleware(testSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id":    httpiface.GetUserID(c),
			"company_id": httpiface.GetCompanyID(c),
			"role":       httpiface.GetRole(c),
		})
	})
	return app
}

func TestAuthMiddleware_TokenValidoExtraeClaims(t *testing.T) {
	app := newAuthApp()
	token, err := jwt.Generate(testSecret, "user-1", "company-1", "emisor", "dte-engine", 15)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/protegido", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthMiddleware_SinHeader(t *testing.T) {
	app := newAuthApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/protegido", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAuthMiddleware_FormatoIncorrecto(t *testing.T) {
	app := newAuthApp()

	casos := []string{
		"token-sin-esquema",
		"Basic dXNlcjpwd2Q=",
		"Bearer ",
	}
	for _, header := range casos {
		req := httptest.NewRequest("GET", "/protegido", nil)
		req.Header.Set("Authorization", header)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, "header %q debe rechazarse", header)
	}
}

func TestAuthMiddleware_FirmaDeOtroSecreto(t *testing.T) {
	app := newAuthApp()
	token, err := jwt.Generate("otro-secreto", "user-1", "company-1", "emisor", "dte-engine", 15)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/protegido", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAuthMiddleware_TokenExpirado(t *testing.T) {
	app := newAuthApp()
	token, err := jwt.Generate(testSecret, "user-1", "company-1", "operador", "dte-engine", -5)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/protegido", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// RequireRole
// ──────────────────────────────────────────────────────────────────────────────

func newRoleApp(roles ...string) *fiber.App {
	app := fiber.New()
	app.Post("/operacion", httpiface.AuthMiddleware(testSecret), httpiface.RequireRole(roles...), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func doWithRole(t *testing.T, app *fiber.App, role string) int {
	t.Helper()
	token, err := jwt.Generate(testSecret, "user-1", "company-1", role, "dte-engine", 15)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/operacion", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestRequireRole_OperadorAccedeRutaDeOperador(t *testing.T) {
	app := newRoleApp(httpiface.RoleOperador)
	assert.Equal(t, fiber.StatusOK, doWithRole(t, app, "operador"))
}

func TestRequireRole_EmisorBloqueadoEnRutaDeOperador(t *testing.T) {
	app := newRoleApp(httpiface.RoleOperador)
	assert.Equal(t, fiber.StatusForbidden, doWithRole(t, app, "emisor"))
}

func TestRequireRole_VariosRolesPermitidos(t *testing.T) {
	app := newRoleApp(httpiface.RoleOperador, httpiface.RoleEmisor)
	assert.Equal(t, fiber.StatusOK, doWithRole(t, app, "emisor"))
}

func TestRequireRole_TokenSinRol_Retorna401(t *testing.T) {
	app := newRoleApp(httpiface.RoleOperador)
	assert.Equal(t, fiber.StatusUnauthorized, doWithRole(t, app, ""))
}

func TestRequireRole_SinAuthHeader_Retorna401(t *testing.T) {
	app := newRoleApp(httpiface.RoleOperador)

	resp, err := app.Test(httptest.NewRequest("POST", "/operacion", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
