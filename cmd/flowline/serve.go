package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/flowline/pkg/auth"
	"github.com/dukex/flowline/pkg/cmd"
	"github.com/dukex/flowline/pkg/eventbus"
	"github.com/dukex/flowline/pkg/executor"
	"github.com/dukex/flowline/pkg/expression"
	"github.com/dukex/flowline/pkg/log"
	"github.com/dukex/flowline/pkg/metrics"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/dukex/flowline/pkg/trigger"
	"github.com/dukex/flowline/pkg/web"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Receive webhooks, fire schedules and run workflow instances",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			databaseFlag(),
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "secret-store-url",
				Usage:   "Secret store URL (redis://, memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("SECRET_STORE_URL"),
			},
			&cli.StringSliceFlag{
				Name:  "secret",
				Usage: "Seed a secret as namespace.key=value, may be repeated",
			},
			&cli.StringFlag{
				Name:    "timezone",
				Usage:   "Time zone cron schedules are evaluated in",
				Value:   "UTC",
				Sources: cli.EnvVars("CRON_TIMEZONE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export spans over OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			definitionFlag(false),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, log.WithModule("serve"), command)
		},
	}
}

func serve(ctx context.Context, logger *slog.Logger, command *cli.Command) error {
	logger.InfoContext(ctx, "Initializing flowline")

	location, err := time.LoadLocation(command.String("timezone"))
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	tracer := cmd.NewTracer(ctx, logger, command.Bool("tracing"))
	m := metrics.New()

	p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := p.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	secretStore, err := cmd.NewSecretStore(ctx, command.String("secret-store-url"), command.StringSlice("secret"))
	if err != nil {
		return err
	}

	defer func() {
		err := secretStore.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close secret store", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger, eventbus.WithTracer(tracer))
	if err != nil {
		return err
	}

	defer func() {
		err := bus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	expressions := expression.NewEngine(secretStore)
	cron := scheduler.NewCronScheduler(logger, location)

	triggers := trigger.NewService(logger, p, cron, bus,
		trigger.WithServiceTracer(tracer),
		trigger.WithServiceMetrics(m),
	)
	evaluator := trigger.NewEvaluator(logger, p, expressions, bus,
		trigger.WithEvaluatorTracer(tracer),
		trigger.WithEvaluatorMetrics(m),
	)
	engine := workflow.NewEngine(logger, p, expressions, executor.NewBusDispatcher(logger, bus), bus,
		workflow.WithTracer(tracer),
		workflow.WithMetrics(m),
		workflow.WithOwnershipChecker(auth.NewProjectOwnership(p)),
	)

	err = applyFiles(ctx, logger, p, triggers, command.StringSlice("file"))
	if err != nil {
		return err
	}

	err = engine.Register(bus)
	if err != nil {
		return fmt.Errorf("failed to register workflow handlers: %w", err)
	}

	err = bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	err = triggers.StartAll(ctx)
	if err != nil {
		return err
	}

	defer func() {
		err := cron.Stop(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
		}
	}()

	app := web.NewApp(web.NewHandlers(logger, p, evaluator, engine), m)

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", command.Int("port")), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	logger.InfoContext(ctx, "Flowline started", "port", command.Int("port"))

	select {
	case err = <-listenErr:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err = app.ShutdownWithContext(shutdownCtx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	return nil
}
