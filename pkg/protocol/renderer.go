package protocol

// Renderer resolves dynamic template expressions against a run context.
// Render must be idempotent and side-effect free; a failure propagates as an
// invalid_action error on the node being rendered. Implementations must be
// safe for concurrent use by multiple workers.
type Renderer interface {
	// Render resolves templates inside raw, recursing into maps and
	// slices. Non-template values pass through unchanged.
	Render(raw any, data map[string]any) (any, error)

	// RenderBool resolves expr and coerces the result to a boolean,
	// used for choose branch and repeat-while conditions.
	RenderBool(expr string, data map[string]any) (bool, error)
}
