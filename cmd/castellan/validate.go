package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/castellan/castellan/pkg/log"
	"github.com/castellan/castellan/pkg/parser"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Parse an automation definition without executing it",
		ArgsUsage: "<definition.yaml>",
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

			fmt.Printf("definition is valid: %d top-level action(s)\n", len(nodes))

			return nil
		},
	}
}
