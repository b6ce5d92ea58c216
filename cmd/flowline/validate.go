package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowline/pkg/dsl"
	"github.com/dukex/flowline/pkg/log"
	cli "github.com/urfave/cli/v3"
)

var errInvalidFiles = errors.New("invalid definition files")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check definition files without applying them",
		Flags: []cli.Flag{definitionFlag(true)},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("validate")

			failed := 0

			for _, path := range command.StringSlice("file") {
				err := validateFile(path)
				if err != nil {
					logger.ErrorContext(ctx, "Invalid definition", "file", path, "error", err)

					failed++

					continue
				}

				logger.InfoContext(ctx, "Definition is valid", "file", path)
			}

			if failed > 0 {
				return fmt.Errorf("%w: %d", errInvalidFiles, failed)
			}

			return nil
		},
	}
}

func validateFile(path string) error {
	definition, err := dsl.ParseFile(path)
	if err != nil {
		return err
	}

	return definition.Validate()
}
