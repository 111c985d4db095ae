package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/castellan/castellan/pkg/executor"
	"github.com/castellan/castellan/pkg/gateway"
	"github.com/castellan/castellan/pkg/log"
	"github.com/castellan/castellan/pkg/models"
	"github.com/castellan/castellan/pkg/parser"
	"github.com/castellan/castellan/pkg/template"
)

const shutdownTimeout = 5 * time.Second

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute an automation definition file",
		ArgsUsage: "<definition.yaml>",
		Flags: []cli.Flag{
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
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Retries per service call after the first attempt",
				Value: models.DefaultMaxRetries,
			},
			&cli.DurationFlag{
				Name:  "run-deadline",
				Usage: "Hard deadline for the whole run (0 disables)",
			},
			&cli.StringSliceFlag{
				Name:    "var",
				Aliases: []string{"v"},
				Usage:   "Template context entries as key=value (repeatable)",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			if command.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one definition file, got %d", command.Args().Len())
			}

			definition, err := os.ReadFile(command.Args().First())
			if err != nil {
				return fmt.Errorf("failed to read definition: %w", err)
			}

			nodes, err := parser.Parse(definition)
			if err != nil {
				return err
			}

			tmplCtx, err := parseVars(command.StringSlice("var"))
			if err != nil {
				return err
			}

			gw := gateway.NewHTTPGateway(
				command.String("gateway-url"),
				command.String("gateway-token"),
			)

			exec := executor.New(gw, template.NewRenderer(),
				executor.WithConfig(executor.Config{
					NumWorkers: int(command.Int("workers")),
					QueueSize:  executor.DefaultQueueSize,
				}),
				executor.WithLogger(log.WithModule("executor")),
			)

			if err := exec.Start(); err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				_ = exec.Shutdown(shutdownCtx)
			}()

			retries := int(command.Int("max-retries"))
			summary, err := exec.Execute(ctx, nodes, tmplCtx, models.RunOptions{
				MaxRetries:  &retries,
				RunDeadline: command.Duration("run-deadline"),
			})
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(encoded))

			if !summary.OverallSuccess {
				return fmt.Errorf("run %s finished with failures", summary.RunID)
			}

			return nil
		},
	}
}

func parseVars(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	vars := make(map[string]any, len(entries))

	for _, entry := range entries {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid context entry %q, expected key=value", entry)
		}

		vars[parts[0]] = parts[1]
	}

	return vars, nil
}
