package engine

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"permission-explorer/internal/metadata"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(kind, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s %s not found", kind, id),
	}
}

func UnknownTableError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_TABLE",
		Status:  404,
		Message: fmt.Sprintf("Unknown table: %s", name),
	}
}

func InvalidParamError(param, msg string) *AppError {
	return &AppError{
		Code:    "INVALID_PARAM",
		Status:  400,
		Message: fmt.Sprintf("Invalid %s", param),
		Details: []ErrorDetail{{Field: param, Message: msg}},
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

// MetadataError reports a document that could not be indexed.
func MetadataError(err error) *AppError {
	appErr := &AppError{
		Code:    "INVALID_METADATA",
		Status:  422,
		Message: err.Error(),
	}
	var perr *metadata.ParseError
	if errors.As(err, &perr) {
		appErr.Details = []ErrorDetail{{Rule: ruleName(perr.Kind), Message: perr.Detail()}}
	}
	return appErr
}

func ruleName(kind metadata.ParseErrorKind) string {
	switch kind {
	case metadata.DocumentShape:
		return "document_shape"
	case metadata.ParseFailure:
		return "parse_failure"
	default:
		return ""
	}
}

func NoDocumentError() *AppError {
	return &AppError{
		Code:    "NO_DOCUMENT",
		Status:  404,
		Message: "No metadata document loaded",
	}
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}

// ErrorHandler renders AppErrors as-is and everything else as a logged 500,
// keeping fiber's own status codes.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return respondError(c, appErr)
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return respondError(c, &AppError{
				Code:    "HTTP_ERROR",
				Status:  fiberErr.Code,
				Message: fiberErr.Message,
			})
		}

		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return respondError(c, &AppError{
			Code:    "INTERNAL_ERROR",
			Status:  fiber.StatusInternalServerError,
			Message: "Internal server error",
		})
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}
