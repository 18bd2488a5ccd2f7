package server

import (
	"errors"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"github.com/gofiber/fiber/v2"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func success(message string, data any) Response {
	return Response{Success: true, Message: message, Data: data}
}

// statusOf maps the engine error taxonomy to HTTP status codes.
func statusOf(err error) int {
	var (
		fe  *fiber.Error
		pse *types.PipelineStateError
	)
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &pse):
		return fiber.StatusConflict
	case errors.Is(err, types.ErrSessionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, types.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, types.ErrFeatureDisabled):
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	if code >= fiber.StatusInternalServerError {
		logging.ServerError("%s %s: %v", c.Method(), c.Path(), err)
	} else {
		logging.ServerDebug("%s %s: %d %v", c.Method(), c.Path(), code, err)
	}
	return c.Status(code).JSON(Response{Success: false, Message: err.Error()})
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}
