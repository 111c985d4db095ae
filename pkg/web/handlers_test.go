package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/pkg/executor"
	"github.com/castellan/castellan/pkg/models"
	"github.com/castellan/castellan/pkg/template"
	"github.com/castellan/castellan/pkg/testutil"
)

func newTestApp(t *testing.T) (*fiber.App, *testutil.FakeGateway) {
	t.Helper()

	gw := testutil.NewFakeGateway()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	exec := executor.New(gw, template.NewRenderer(), executor.WithLogger(logger))
	require.NoError(t, exec.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = exec.Shutdown(ctx)
	})

	handlers := NewAPIHandlers(exec, validator.New(validator.WithRequiredStructEnabled()), logger)

	app := fiber.New()
	app.Post("/runs", handlers.ExecuteRun)
	app.Post("/runs/validate", handlers.ValidateDefinition)
	app.Get("/health", handlers.HealthCheck)

	return app, gw
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func TestExecuteRun_ReturnsSummary(t *testing.T) {
	app, gw := newTestApp(t)

	resp := postJSON(t, app, "/runs", `{
		"definition": {
			"actions": [
				{"action": "light.turn_on", "entity_id": "light.office", "data": {"brightness_pct": 100}},
				{"action": "light.turn_off", "entity_id": "light.office"}
			]
		}
	}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary models.ExecutionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))

	assert.True(t, summary.OverallSuccess)
	assert.Len(t, summary.Results, 2)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, gw.CallCount())
}

func TestExecuteRun_ActionFailureStaysHTTP200(t *testing.T) {
	app, gw := newTestApp(t)
	gw.FailWith(testutil.RejectionError("unknown service"))

	resp := postJSON(t, app, "/runs", `{
		"definition": {
			"actions": [{"action": "light.turn_on", "entity_id": "light.office"}]
		}
	}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode, "action failures belong in the summary")

	var summary models.ExecutionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.False(t, summary.OverallSuccess)
}

func TestExecuteRun_PassesContextAndOptions(t *testing.T) {
	app, gw := newTestApp(t)

	resp := postJSON(t, app, "/runs", `{
		"definition": {
			"actions": [{"action": "light.turn_on", "entity_id": "light.{{ .context.room }}"}]
		},
		"context": {"room": "office"},
		"options": {"correlation_id": "corr-42"}
	}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary models.ExecutionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, "corr-42", summary.CorrelationID)

	calls := gw.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"light.office"}, calls[0].Target)
}

func TestExecuteRun_MalformedBodyIsBadRequest(t *testing.T) {
	app, _ := newTestApp(t)

	resp := postJSON(t, app, "/runs", `{not json`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteRun_MissingDefinitionIsBadRequest(t *testing.T) {
	app, _ := newTestApp(t)

	resp := postJSON(t, app, "/runs", `{"context": {"room": "office"}}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteRun_UnparsableDefinitionIsBadRequest(t *testing.T) {
	app, gw := newTestApp(t)

	resp := postJSON(t, app, "/runs", `{
		"definition": {"triggers": [{"platform": "state"}]}
	}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, gw.CallCount())

	var problem map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "invalid_definition", problem["type"])
}

func TestValidateDefinition(t *testing.T) {
	app, gw := newTestApp(t)

	resp := postJSON(t, app, "/runs/validate", `{
		"definition": {
			"actions": [
				{"action": "light.turn_on"},
				{"delay": {"seconds": 2}}
			]
		}
	}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(2), body["top_level_actions"])
	assert.Zero(t, gw.CallCount(), "validation never executes")
}

func TestHealthCheck(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
