package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/elira-progress/internal/infrastructure/logging"
	"github.com/pot-code/elira-progress/internal/infrastructure/validate"
	"github.com/pot-code/elira-progress/internal/remotesync"
)

// RESTStandardError response error
type RESTStandardError struct {
	Type    string `json:"type,omitempty"`
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewRESTStandardError .
func NewRESTStandardError(code int, detail string) *RESTStandardError {
	return &RESTStandardError{
		Code:   code,
		Title:  http.StatusText(code),
		Detail: detail,
	}
}

func (re RESTStandardError) Error() string {
	return re.Detail
}

// SetTraceID .
func (re RESTStandardError) SetTraceID(traceID string) RESTStandardError {
	re.TraceID = traceID
	return re
}

// RESTValidationError standard validation error
type RESTValidationError struct {
	RESTStandardError
	InvalidParams []*validate.FieldError `json:"invalid_params"`
}

// NewRESTValidationError .
func NewRESTValidationError(code int, detail string, internal []*validate.FieldError) *RESTValidationError {
	return &RESTValidationError{
		RESTStandardError: RESTStandardError{
			Code:   code,
			Title:  http.StatusText(code),
			Detail: detail,
		},
		InvalidParams: internal,
	}
}

func (rve RESTValidationError) Error() string {
	return rve.Detail
}

// SetTraceID .
func (rve RESTValidationError) SetTraceID(traceID string) RESTValidationError {
	rve.RESTStandardError.TraceID = traceID
	return rve
}

func traceID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func validationFailed(c echo.Context, errs []*validate.FieldError) error {
	return c.JSON(http.StatusBadRequest,
		NewRESTValidationError(http.StatusBadRequest, "Failed to validate params", errs).SetTraceID(traceID(c)))
}

// serviceErrorStatus HTTP status of a progress service error
func serviceErrorStatus(err error) int {
	var ve *remotesync.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, remotesync.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, remotesync.ErrAccessDenied):
		return http.StatusForbidden
	case remotesync.IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// renderServiceError map a progress service error onto its HTTP status
func renderServiceError(c echo.Context, err error) error {
	var ve *remotesync.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusUnprocessableEntity,
			NewRESTValidationError(http.StatusUnprocessableEntity, "Rejected progress payload", ve.Fields).SetTraceID(traceID(c)))
	case errors.Is(err, remotesync.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewRESTStandardError(http.StatusNotFound, err.Error()).SetTraceID(traceID(c)))
	case errors.Is(err, remotesync.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, NewRESTStandardError(http.StatusForbidden, err.Error()).SetTraceID(traceID(c)))
	case remotesync.IsRetryable(err):
		logging.ExtractLoggerFromContext(c.Request().Context()).Warn(err.Error())
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable,
			NewRESTStandardError(http.StatusServiceUnavailable, "Progress backend temporarily unavailable").SetTraceID(traceID(c)))
	}
	return err
}
