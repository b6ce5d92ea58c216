package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/cmd"
	"github.com/dukex/flowline/pkg/dsl"
	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/log"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/dukex/flowline/pkg/trigger"
	"github.com/dukex/flowline/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func NewApplyCommand() *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "Publish workflows and save projects and triggers",
		Flags: []cli.Flag{
			databaseFlag(),
			definitionFlag(true),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("apply")

			p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := p.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			// schedules are registered by serve; this scheduler is never started
			triggers := trigger.NewService(logger, p, scheduler.NewCronScheduler(logger, time.UTC), eventbus.Discard)

			return applyFiles(ctx, logger, p, triggers, command.StringSlice("file"))
		},
	}
}

func applyFiles(ctx context.Context, logger *slog.Logger, p persistence.Persistence, triggers *trigger.Service, paths []string) error {
	applier := dsl.NewApplier(logger, workflow.NewPublishingService(logger, p), triggers)

	for _, path := range paths {
		definition, err := dsl.ParseFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		result, err := applier.Apply(ctx, definition)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		logger.InfoContext(ctx, "Applied definition",
			"file", path,
			"workflow_ref", result.Workflow.Ref,
			"workflow_version", result.Workflow.Version,
		)
	}

	return nil
}
