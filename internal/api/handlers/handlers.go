// Package handlers exposes the ingestion pipeline over HTTP.
package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/dvloznov/invoice-ingest/internal/api/middleware"
	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/jobs"
	"github.com/dvloznov/invoice-ingest/internal/logger"
	"github.com/dvloznov/invoice-ingest/internal/pipeline"
)

// UploadsHandler handles upload endpoints.
type UploadsHandler struct {
	manager   *pipeline.Manager
	publisher jobs.Publisher
}

// NewUploadsHandler creates an uploads handler. A nil publisher disables
// asynchronous ingestion.
func NewUploadsHandler(manager *pipeline.Manager, publisher jobs.Publisher) *UploadsHandler {
	return &UploadsHandler{manager: manager, publisher: publisher}
}

// Ingest handles POST /api/uploads. With ?async=true the upload is queued
// and 202 is returned with the job and upload ids.
func (h *UploadsHandler) Ingest(c *fiber.Ctx) error {
	var req pipeline.IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	req.UserID = middleware.UserID(c)
	ctx := c.UserContext()

	if c.QueryBool("async") && h.publisher != nil {
		run, err := h.manager.Prepare(ctx, req)
		if err != nil {
			return err
		}

		jobID := uuid.New().String()
		job := &jobs.IngestJob{
			JobID:     jobID,
			UploadID:  run.Upload.ID,
			HouseID:   run.Upload.HouseID,
			CreatedAt: time.Now().UTC(),
			Run:       run,
		}
		if err := h.publisher.PublishIngest(ctx, job); err != nil {
			h.manager.Fail(ctx, run, err)
			return &domain.PersistenceError{Op: "enqueue upload", Err: err}
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"jobId":    jobID,
			"uploadId": run.Upload.ID,
			"status":   domain.StatusProcessing,
		})
	}

	resp, err := h.manager.Ingest(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// Review handles POST /api/uploads/review.
func (h *UploadsHandler) Review(c *fiber.Ctx) error {
	var req pipeline.ReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	req.UserID = middleware.UserID(c)

	resp, err := h.manager.Review(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// Undo handles POST /api/uploads/undo.
func (h *UploadsHandler) Undo(c *fiber.Ctx) error {
	var req pipeline.UndoRequest
	if err := c.BodyParser(&req); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	req.UserID = middleware.UserID(c)

	ok, err := h.manager.Undo(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": ok})
}

// ListUploads handles GET /api/uploads?houseId=.
func (h *UploadsHandler) ListUploads(c *fiber.Ctx) error {
	houseID := strings.TrimSpace(c.Query("houseId"))
	if houseID == "" {
		return &domain.ValidationError{Field: "houseId", Reason: "is required"}
	}

	uploads, err := h.manager.Uploads(c.UserContext(), houseID, middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"uploads": uploads,
		"count":   len(uploads),
	})
}

// GetUpload handles GET /api/uploads/:id.
func (h *UploadsHandler) GetUpload(c *fiber.Ctx) error {
	upload, err := h.manager.Upload(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(upload)
}

// JobsHandler handles job-related endpoints. Jobs are visible only to the
// owner of their house.
type JobsHandler struct {
	store   jobs.JobStore
	manager *pipeline.Manager
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, manager *pipeline.Manager) *JobsHandler {
	return &JobsHandler{store: store, manager: manager}
}

// GetJob handles GET /api/jobs/:id.
func (h *JobsHandler) GetJob(c *fiber.Ctx) error {
	ctx := c.UserContext()
	job, err := h.store.GetJob(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.manager.AuthorizeHouse(ctx, job.HouseID, middleware.UserID(c)); err != nil {
		return err
	}
	return c.JSON(job)
}

// ListJobs handles GET /api/jobs?houseId=.
func (h *JobsHandler) ListJobs(c *fiber.Ctx) error {
	houseID := strings.TrimSpace(c.Query("houseId"))
	if houseID == "" {
		return &domain.ValidationError{Field: "houseId", Reason: "is required"}
	}
	ctx := c.UserContext()
	if err := h.manager.AuthorizeHouse(ctx, houseID, middleware.UserID(c)); err != nil {
		return err
	}

	filter := jobs.JobFilter{
		UploadID: c.Query("uploadId"),
		HouseID:  houseID,
		Status:   jobs.JobStatus(c.Query("status")),
		Limit:    c.QueryInt("limit"),
		Offset:   c.QueryInt("offset"),
	}

	list, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"jobs":  list,
		"count": len(list),
	})
}

// Health handles GET /health.
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// ErrorHandler renders every error as {"error": message} with the status
// from StatusFor. Server-side failures are logged and their details hidden.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	message := err.Error()

	var fe *fiber.Error
	if errors.As(err, &fe) {
		message = fe.Message
	}

	if status >= fiber.StatusInternalServerError {
		log := logger.FromContext(c.UserContext())
		log.Error().
			Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Msg("Request failed")
		if status == fiber.StatusInternalServerError {
			message = "internal server error"
		}
	}

	return c.Status(status).JSON(fiber.Map{"error": message})
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var (
		validation *domain.ValidationError
		authz      *domain.AuthorizationError
		notFound   *domain.NotFoundError
		state      *domain.StateError
		extraction *domain.ExtractionError
		parse      *domain.ParseError
		fe         *fiber.Error
	)

	switch {
	case errors.As(err, &validation):
		return fiber.StatusBadRequest
	case errors.As(err, &authz):
		return fiber.StatusForbidden
	case errors.As(err, &notFound), errors.Is(err, jobs.ErrJobNotFound):
		return fiber.StatusNotFound
	case errors.As(err, &state):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, domain.ErrQuotaExceeded):
		return fiber.StatusPaymentRequired
	case errors.As(err, &extraction), errors.As(err, &parse):
		return fiber.StatusBadGateway
	case errors.As(err, &fe):
		return fe.Code
	default:
		return fiber.StatusInternalServerError
	}
}
