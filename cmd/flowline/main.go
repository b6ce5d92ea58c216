package main

import (
	"context"
	"os"

	"github.com/dukex/flowline/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "flowline",
		Usage:                 "Run and manage CI workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewApplyCommand(),
			NewValidateCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("flowline").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func databaseFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "database-url",
		Usage:   "Persistence URL (postgres://, sqlite://, memory://)",
		Value:   "memory://",
		Sources: cli.EnvVars("DATABASE_URL"),
	}
}

func definitionFlag(required bool) *cli.StringSliceFlag {
	return &cli.StringSliceFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "Definition file, may be repeated",
		Required: required,
	}
}
