// Package main provides the Castellan command line interface.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/castellan/castellan/pkg/log"
)

func main() {
	logger := log.WithModule("cli")

	cmd := &cli.Command{
		Name:                  "castellan",
		Usage:                 "Run declarative automations against a smart-home platform",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
