package web

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/castellan/castellan/pkg/executor"
	"github.com/castellan/castellan/pkg/parser"
)

type APIHandlers struct {
	executor  *executor.Executor
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(exec *executor.Executor, validate *validator.Validate, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		executor:  exec,
		validator: validate,
		logger:    logger,
	}
}

// ExecuteRun parses the submitted definition and drives it to completion,
// returning the execution summary synchronously. Action failures live in
// the summary, not in the HTTP status.
func (h *APIHandlers) ExecuteRun(c fiber.Ctx) error {
	var req ExecuteRunRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Invalid request: "+err.Error())
	}

	nodes, err := parser.ParseDefinition(req.Definition)
	if err != nil {
		return handleExecutionError(c, err)
	}

	summary, err := h.executor.Execute(c.Context(), nodes, req.Context, req.Options.ToRunOptions())
	if err != nil {
		h.logger.Error("Run aborted", "error", err)

		return handleExecutionError(c, err)
	}

	return c.JSON(summary)
}

// ValidateDefinition parses without executing.
func (h *APIHandlers) ValidateDefinition(c fiber.Ctx) error {
	var req ExecuteRunRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	nodes, err := parser.ParseDefinition(req.Definition)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(fiber.Map{
		"valid":             true,
		"top_level_actions": len(nodes),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
