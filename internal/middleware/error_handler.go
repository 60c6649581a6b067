package middleware

import (
	"errors"

	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.SchemaError:            fiber.StatusBadRequest,
	domain.GeometryError:          fiber.StatusBadRequest,
	domain.MethodologyError:       fiber.StatusUnprocessableEntity,
	domain.OverlapError:           fiber.StatusConflict,
	domain.ConflictError:          fiber.StatusConflict,
	domain.InvalidTransitionError: fiber.StatusConflict,
	domain.ParentStateError:       fiber.StatusUnprocessableEntity,
	domain.OwnershipError:         fiber.StatusForbidden,
	domain.RetiredTokenError:      fiber.StatusConflict,
	domain.AnchoringTimeoutError:  fiber.StatusServiceUnavailable,
	domain.SerializationError:     fiber.StatusInternalServerError,
	domain.IdempotencyError:       fiber.StatusConflict,
	domain.NotFoundError:          fiber.StatusNotFound,
	domain.ForbiddenError:         fiber.StatusForbidden,
}

// StatusFor returns the HTTP status of a registry error kind.
func StatusFor(kind domain.ErrorKind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return fiber.StatusInternalServerError
}

// errorStatus is the status ErrorHandler will write for err.
func errorStatus(err error) int {
	var de *domain.Error
	if errors.As(err, &de) {
		return StatusFor(de.Kind)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler is the global error handler. Registry errors keep their kind and
// details; anything else is a 500 with the standard error format.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		code := StatusFor(de.Kind)
		if code >= fiber.StatusInternalServerError {
			log.Error().Err(err).Str("trace_id", GetTraceID(c)).Str("kind", string(de.Kind)).Msg("request failed")
		}
		return response.KindError(c, string(de.Kind), de.Message, code, de.Details)
	}

	code := fiber.StatusInternalServerError
	message := "Internal Server Error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		log.Error().Err(err).Str("trace_id", GetTraceID(c)).Str("path", c.Path()).Msg("unhandled error")
	}
	return response.Error(c, message, code, nil)
}
