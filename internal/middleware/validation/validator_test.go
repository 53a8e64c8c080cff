package validation

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidatedApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Post("/ingest", Middleware(cfg), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/ingest", Middleware(cfg), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func post(t *testing.T, app *fiber.App, contentType, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader([]byte(body)))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestValidJSONPasses(t *testing.T) {
	app := newValidatedApp(Config{})

	resp := post(t, app, "application/json", `{"message":"boom","source":"api"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRejectsWrongContentType(t *testing.T) {
	app := newValidatedApp(Config{})

	resp := post(t, app, "text/plain", "boom")
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestRejectsInvalidJSON(t *testing.T) {
	app := newValidatedApp(Config{})

	resp := post(t, app, "application/json", `{"message": `)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRejectsOversizedBody(t *testing.T) {
	app := newValidatedApp(Config{MaxBodySize: 64})

	large := `{"message":"` + strings.Repeat("x", 200) + `"}`
	resp := post(t, app, "application/json", large)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestRejectsOversizedBatch(t *testing.T) {
	app := newValidatedApp(Config{MaxBatchSize: 2})

	body := `{"errors":[{"message":"a"},{"message":"b"},{"message":"c"}]}`
	resp := post(t, app, "application/json", body)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestBatchAtLimitPasses(t *testing.T) {
	app := newValidatedApp(Config{MaxBatchSize: 2})

	body := `{"errors":[{"message":"a"},{"message":"b"}]}`
	resp := post(t, app, "application/json", body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestNonPostRequestsBypass(t *testing.T) {
	app := newValidatedApp(Config{})

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
