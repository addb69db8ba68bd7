package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/invoice-ingest/internal/logger"
)

// HeaderUserID carries the authenticated caller's id, set by the gateway in
// front of the service.
const HeaderUserID = "X-User-ID"

const (
	headerRequestID = "X-Request-ID"
	localsUserID    = "user_id"
)

// Logger adds structured logging to HTTP requests. Errors returned by later
// handlers are rendered first so the logged status is the one sent.
func Logger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("duration", time.Since(start)).
			Str("remote_addr", c.IP()).
			Str("request_id", c.GetRespHeader(headerRequestID)).
			Msg("HTTP request")
		return nil
	}
}

// CORS adds Cross-Origin Resource Sharing headers.
func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type, Authorization, " + HeaderUserID + ", " + headerRequestID,
		MaxAge:       3600,
	})
}

// Recovery recovers from panics and returns a 500 error.
func Recovery(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("error", r).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Panic recovered")

				err = fiber.ErrInternalServerError
			}
		}()

		return c.Next()
	}
}

// RequestID tags the request with an id and puts a request-scoped logger in
// the user context.
func RequestID(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(headerRequestID, requestID)

		reqLog := log.With().Str("request_id", requestID).Logger()
		c.SetUserContext(logger.WithContext(c.UserContext(), reqLog))
		return c.Next()
	}
}

// Auth requires a caller identity on every request it guards. Ownership of
// houses is checked later by the pipeline.
func Auth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing "+HeaderUserID+" header")
		}
		c.Locals(localsUserID, userID)
		return c.Next()
	}
}

// UserID returns the caller identity stored by Auth.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localsUserID).(string)
	return id
}
