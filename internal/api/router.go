// Package api wires the HTTP routes of the ingestion service.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/dvloznov/invoice-ingest/internal/api/handlers"
	"github.com/dvloznov/invoice-ingest/internal/api/middleware"
	"github.com/dvloznov/invoice-ingest/internal/jobs"
	"github.com/dvloznov/invoice-ingest/internal/pipeline"
)

// Deps are the services behind the routes. Publisher and JobStore may be nil
// when asynchronous ingestion is disabled.
type Deps struct {
	Manager     *pipeline.Manager
	Publisher   jobs.Publisher
	JobStore    jobs.JobStore
	Log         zerolog.Logger
	BodyLimitMB int
}

// NewRouter builds the fiber app with middleware and routes.
func NewRouter(deps Deps) *fiber.App {
	bodyLimit := deps.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 32
	}

	app := fiber.New(fiber.Config{
		AppName:               "invoice-ingest",
		ErrorHandler:          handlers.ErrorHandler,
		BodyLimit:             bodyLimit * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(middleware.Recovery(deps.Log))
	app.Use(middleware.RequestID(deps.Log))
	app.Use(middleware.Logger(deps.Log))
	app.Use(middleware.CORS())

	app.Get("/health", handlers.Health)

	group := app.Group("/api", middleware.Auth())

	uploads := handlers.NewUploadsHandler(deps.Manager, deps.Publisher)
	group.Post("/uploads", uploads.Ingest)
	group.Post("/uploads/review", uploads.Review)
	group.Post("/uploads/undo", uploads.Undo)
	group.Get("/uploads", uploads.ListUploads)
	group.Get("/uploads/:id", uploads.GetUpload)

	if deps.JobStore != nil {
		jobsHandler := handlers.NewJobsHandler(deps.JobStore, deps.Manager)
		group.Get("/jobs", jobsHandler.ListJobs)
		group.Get("/jobs/:id", jobsHandler.GetJob)
	}

	return app
}
