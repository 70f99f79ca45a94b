package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/pipeline"
	"github.com/John-Robertt/mihomocli/internal/store"
)

// APIError is used by the HTTP layer for request validation and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func requestError(code, message, hint string) error {
	return &APIError{
		Status: http.StatusBadRequest,
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "validate_request",
			Hint:    hint,
		},
	}
}

// statusOf maps an error to its HTTP status and structured payload. The
// template, base config and stores live on the server, so failures there
// are server errors rather than client errors.
func statusOf(err error) (int, model.AppError) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status, ae.AppError
	}

	var pe *pipeline.Error
	if errors.As(err, &pe) {
		if pe.AppError.Code == "CANCELLED" && errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, pe.AppError
		}
		if pe.AppError.Code == "CANCELLED" {
			return http.StatusServiceUnavailable, pe.AppError
		}
		return http.StatusInternalServerError, pe.AppError
	}

	var de *model.DocumentError
	if errors.As(err, &de) {
		return http.StatusInternalServerError, de.AppError
	}

	var se *store.StoreError
	if errors.As(err, &se) {
		return http.StatusInternalServerError, se.AppError
	}

	// Fallback: internal bug.
	return http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: "服务端内部错误",
		Stage:   "internal",
		Hint:    err.Error(),
	}
}

func (s *server) writeErrorFromErr(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status, app := statusOf(err)
	s.metrics.appErrors.WithLabelValues(labelOrUnknown(app.Stage), labelOrUnknown(app.Code)).Inc()
	WriteError(w, status, app)
}
