package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_PlainStringPassesThrough(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("light.office", nil)
	require.NoError(t, err)
	assert.Equal(t, "light.office", out)
}

func TestRender_ResolvesContextValues(t *testing.T) {
	r := NewRenderer()
	data := BuildData("run-1", "corr-1", map[string]any{"room": "office"})

	out, err := r.Render("light.{{ .context.room }}", data)
	require.NoError(t, err)
	assert.Equal(t, "light.office", out)
}

func TestRender_CoercesNumbersAndBooleans(t *testing.T) {
	r := NewRenderer()
	data := BuildData("run-1", "corr-1", map[string]any{
		"brightness": 80,
		"enabled":    true,
	})

	out, err := r.Render("{{ .context.brightness }}", data)
	require.NoError(t, err)
	assert.Equal(t, float64(80), out)

	out, err = r.Render("{{ .context.enabled }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestRender_RecursesIntoMapsAndSlices(t *testing.T) {
	r := NewRenderer()
	data := BuildData("run-1", "corr-1", map[string]any{"pct": 55})

	raw := map[string]any{
		"brightness_pct": "{{ .context.pct }}",
		"transition":     2,
		"profiles":       []any{"{{ .context.pct }}", "relax"},
	}

	out, err := r.Render(raw, data)
	require.NoError(t, err)

	rendered, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(55), rendered["brightness_pct"])
	assert.Equal(t, 2, rendered["transition"])
	assert.Equal(t, []any{float64(55), "relax"}, rendered["profiles"])
}

func TestRender_InvalidTemplateFails(t *testing.T) {
	r := NewRenderer()

	_, err := r.Render("{{ .context.room", nil)
	require.Error(t, err)
}

func TestRenderBool_Truthiness(t *testing.T) {
	r := NewRenderer()

	cases := []struct {
		expr string
		data map[string]any
		want bool
	}{
		{"true", nil, true},
		{"off", nil, false},
		{"{{ .context.home }}", BuildData("r", "c", map[string]any{"home": true}), true},
		{"{{ .context.count }}", BuildData("r", "c", map[string]any{"count": 0}), false},
		{"{{ .context.count }}", BuildData("r", "c", map[string]any{"count": 3}), true},
	}

	for _, tc := range cases {
		got, err := r.RenderBool(tc.expr, tc.data)
		require.NoError(t, err, "expr %q", tc.expr)
		assert.Equal(t, tc.want, got, "expr %q", tc.expr)
	}
}

func TestRenderBool_NonBooleanValueFails(t *testing.T) {
	r := NewRenderer()

	_, err := r.RenderBool("lukewarm", nil)
	require.Error(t, err)
}

func TestBuildData_ExposesRunIdentity(t *testing.T) {
	data := BuildData("run-abc", "corr-xyz", map[string]any{"k": "v"})

	run, ok := data["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-abc", run["id"])
	assert.Equal(t, "corr-xyz", run["correlation_id"])
	assert.Equal(t, "v", data["context"].(map[string]any)["k"])
}
