package web

import (
	"github.com/dukex/flowline/pkg/metrics"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp registers every route on a fresh fiber app.
func NewApp(handlers *Handlers, m *metrics.Metrics) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", handlers.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	app.Post("/webhook/:projectName", handlers.ReceiveWebhook)

	app.Get("/workflow_instances", handlers.ListInstances)

	instances := app.Group("/workflow_instances")
	instances.Get("/:instanceId", handlers.GetInstance)
	instances.Put("/stop/:instanceId", handlers.TerminateInstance)
	instances.Put("/suspend/:instanceId", handlers.SuspendInstance)
	instances.Put("/resume/:instanceId", handlers.ResumeInstance)
	instances.Put("/retry/:instanceId/:taskRef", handlers.RetryTask)
	instances.Put("/ignore/:instanceId/:taskRef", handlers.IgnoreTask)

	app.Post("/tasks/:taskId/:status", handlers.ReportTask)

	app.Get("/web_requests", handlers.ListWebRequests)
	app.Get("/trigger_events/:id", handlers.GetTriggerEvent)
	app.Get("/trigger_events/:id/parameters", handlers.GetTriggerEventParameters)

	return app
}
