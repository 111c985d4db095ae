// Package main provides the Castellan API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/castellan/castellan/pkg/executor"
	"github.com/castellan/castellan/pkg/web"
)

type API struct {
	logger   *slog.Logger
	executor *executor.Executor
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, exec *executor.Executor) *API {
	return &API{
		logger:   logger,
		executor: exec,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.executor, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Castellan API")
	})

	r := app.Group("/runs")
	r.Post("/", handlers.ExecuteRun)
	r.Post("/validate", handlers.ValidateDefinition)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			a.logger.Error("Failed to shut down HTTP server", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
