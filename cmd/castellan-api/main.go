package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/castellan/castellan/pkg/eventbus"
	"github.com/castellan/castellan/pkg/executor"
	"github.com/castellan/castellan/pkg/gateway"
	"github.com/castellan/castellan/pkg/log"
	"github.com/castellan/castellan/pkg/otelhelper"
	"github.com/castellan/castellan/pkg/template"
)

const defaultPort = 9190

const shutdownTimeout = 10 * time.Second

func main() {
	logger := log.WithModule("api")

	cmd := &cli.Command{
		Name:                  "castellan-api",
		Usage:                 "Execute automation definitions over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "gateway-url",
				Usage:    "Base URL of the smart-home platform API",
				Required: true,
				Sources:  cli.EnvVars("GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway-token",
				Usage:   "Bearer token for the platform API",
				Sources: cli.EnvVars("GATEWAY_TOKEN"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Size of the execution worker pool",
				Value:   executor.DefaultNumWorkers,
				Sources: cli.EnvVars("NUM_WORKERS"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Castellan API")

			opts := []executor.Option{
				executor.WithConfig(executor.Config{
					NumWorkers: int(command.Int("workers")),
					QueueSize:  executor.DefaultQueueSize,
				}),
				executor.WithLogger(logger),
				executor.WithEventBus(eventbus.NewGoChannelBus(logger)),
			}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "castellan-api")
				if err != nil {
					return err
				}

				opts = append(opts, executor.WithTracer(tracer))
			}

			gw := gateway.NewHTTPGateway(
				command.String("gateway-url"),
				command.String("gateway-token"),
				gateway.WithLogger(logger),
			)

			exec := executor.New(gw, template.NewRenderer(), opts...)
			if err := exec.Start(); err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := exec.Shutdown(shutdownCtx); err != nil {
					logger.Error("Failed to shut down executor", "error", err)
				}
			}()

			api := NewAPI(logger, exec)

			return api.Start(ctx, int(command.Int("port")))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("API server exited", "error", err)
		os.Exit(1)
	}
}
