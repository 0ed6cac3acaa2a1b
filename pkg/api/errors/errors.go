package errors

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"

	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/models"
	"github.com/jordanlanch/commissionengine/pkg/program"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

type holder struct{ l logger.Logger }

var current atomic.Pointer[holder]

func init() {
	SetLogger(logger.Default())
}

// SetLogger replaces the logger used to record internal error details
func SetLogger(l logger.Logger) {
	current.Store(&holder{l: l})
}

func log() logger.Logger {
	return current.Load().l
}

// ValidationError returns a 400 without exposing internal details
func ValidationError(c echo.Context, err error) error {
	log().Warn("validation error", "path", c.Request().URL.Path, "error", err)

	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: "Invalid request data. Please check your input and try again.",
	})
}

// InternalError returns a generic 500 and reports err to Sentry when the
// request carries a hub
func InternalError(c echo.Context, err error) error {
	log().Error("internal error", "path", c.Request().URL.Path, "error", err)
	if hub := sentryecho.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// NotFoundError returns a generic not found error
func NotFoundError(c echo.Context, resource string) error {
	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: "The requested " + resource + " was not found.",
	})
}

// ConflictError returns a conflict error. message is shown to the client.
func ConflictError(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, models.ErrorResponse{
		Error:   "conflict",
		Message: message,
	})
}

// InvalidConfigurationError returns a 422 for rule configurations that can
// never be evaluated. message is shown to the client.
func InvalidConfigurationError(c echo.Context, message string) error {
	return c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
		Error:   "invalid_rule_configuration",
		Message: message,
	})
}

// UnavailableError returns a 503 for failures the client may retry
func UnavailableError(c echo.Context, err error) error {
	log().Warn("retryable failure", "path", c.Request().URL.Path, "error", err)
	c.Response().Header().Set("Retry-After", "1")

	return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
		Error:   "temporarily_unavailable",
		Message: "The request could not be completed. Please retry.",
	})
}

// Respond maps a domain error onto the matching HTTP response
func Respond(c echo.Context, err error) error {
	var (
		target    *rules.InvalidTargetCircleError
		condition *rules.InvalidConditionError
	)
	switch {
	case stderrors.Is(err, rules.ErrInvalidEvent), stderrors.Is(err, program.ErrInvalidInput):
		return ValidationError(c, err)
	case stderrors.Is(err, rules.ErrCircleNotFound):
		return NotFoundError(c, "circle")
	case stderrors.Is(err, rules.ErrFunctionNotFound):
		return NotFoundError(c, "function")
	case stderrors.Is(err, rules.ErrCircleInUse), stderrors.Is(err, rules.ErrAlreadyExists):
		return ConflictError(c, err.Error())
	case stderrors.As(err, &target):
		return InvalidConfigurationError(c, target.Error())
	case stderrors.As(err, &condition):
		return InvalidConfigurationError(c, condition.Error())
	case stderrors.Is(err, rules.ErrInvalidFunction), stderrors.Is(err, rules.ErrNoDefaultCircle):
		return InvalidConfigurationError(c, err.Error())
	case rules.IsTransient(err),
		stderrors.Is(err, context.DeadlineExceeded),
		stderrors.Is(err, context.Canceled):
		return UnavailableError(c, err)
	default:
		return InternalError(c, err)
	}
}

// CaptureMessage reports a non-error condition to Sentry when configured
func CaptureMessage(c echo.Context, msg string) {
	if hub := sentryecho.GetHubFromContext(c); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelWarning)
			hub.CaptureMessage(msg)
		})
	}
}
