// Package template provides templating functionality for dynamic action
// configuration.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Renderer resolves text/template expressions embedded in action data. It is
// stateless and safe for concurrent use.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render walks raw and resolves every templated string against data. Maps
// and slices are rendered recursively; values without template markers pass
// through unchanged.
func (r *Renderer) Render(raw any, data map[string]any) (any, error) {
	switch value := raw.(type) {
	case string:
		if !strings.Contains(value, "{{") {
			return value, nil
		}

		return Render(value, data)
	case map[string]any:
		rendered := make(map[string]any, len(value))

		for k, v := range value {
			resolved, err := r.Render(v, data)
			if err != nil {
				return nil, fmt.Errorf("failed to render key %q: %w", k, err)
			}

			rendered[k] = resolved
		}

		return rendered, nil
	case []any:
		rendered := make([]any, len(value))

		for i, v := range value {
			resolved, err := r.Render(v, data)
			if err != nil {
				return nil, err
			}

			rendered[i] = resolved
		}

		return rendered, nil
	default:
		return raw, nil
	}
}

// RenderBool resolves expr and coerces the outcome to a boolean. It backs
// choose branch selection and repeat-while conditions.
func (r *Renderer) RenderBool(expr string, data map[string]any) (bool, error) {
	resolved, err := r.Render(expr, data)
	if err != nil {
		return false, err
	}

	return truthy(resolved)
}

func truthy(v any) (bool, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case float64:
		return value != 0, nil
	case int:
		return value != 0, nil
	case nil:
		return false, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "on", "yes", "1":
			return true, nil
		case "false", "off", "no", "0", "":
			return false, nil
		}

		return false, fmt.Errorf("condition %q is not boolean-valued", value)
	default:
		return false, fmt.Errorf("condition resolved to non-boolean %T", v)
	}
}

// Render executes templateStr against data, then coerces the textual output
// back into JSON, number or boolean values where it parses as one.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("action").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)
				if _, err := rand.Read(num); err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// BuildData assembles the template data exposed to every expression in one
// run: the caller-supplied context, run identity, and process environment.
func BuildData(runID, correlationID string, userCtx map[string]any) map[string]any {
	return map[string]any{
		"context":   userCtx,
		"variables": userCtx,
		"env":       getEnvVars(),
		"run": map[string]any{
			"id":             runID,
			"correlation_id": correlationID,
		},
	}
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
