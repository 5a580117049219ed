package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: Timeout also matches TransmissionFailure.
var errorMappings = []errorMapping{
	{target: domain.ErrValidation, status: fiber.StatusBadRequest, code: "ValidationError"},
	{target: domain.ErrMalformedCallback, status: fiber.StatusBadRequest, code: "MalformedCallback"},
	{target: domain.ErrNotFound, status: fiber.StatusNotFound, code: "NotFound"},
	{target: domain.ErrConflict, status: fiber.StatusConflict, code: "Conflict"},
	{target: domain.ErrCredentialsMissing, status: fiber.StatusPreconditionFailed, code: "CredentialsMissing"},
	{target: domain.ErrDecryptionFailure, status: fiber.StatusInternalServerError, code: "DecryptionFailure"},
	{target: domain.ErrTimeout, status: fiber.StatusGatewayTimeout, code: "Timeout"},
	{target: domain.ErrTransmissionFailure, status: fiber.StatusBadGateway, code: "TransmissionFailure"},
}

// Classify maps an error onto its HTTP status and stable error code.
func Classify(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, ""
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return fiber.StatusInternalServerError, "InternalError"
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status, code := Classify(err)

		message := err.Error()
		switch {
		case errors.Is(err, domain.ErrDecryptionFailure):
			// Details stay in the logs.
			message = "stored credential could not be decrypted"
		case status == fiber.StatusInternalServerError && code == "InternalError":
			message = "internal server error"
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Warn("request error", fields...)
		}

		body := fiber.Map{"error": message}
		if code != "" {
			body["code"] = code
		}
		return c.Status(status).JSON(body)
	}
}
