package middlewares

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shop-service/apperrors"
	"shop-service/config"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "errors").Logger()

const traceIDKey = "traceID"

// genericDetail is what clients see for any unclassified failure. The real
// cause stays in the server log, correlated by trace id.
const genericDetail = "An unexpected error occurred. Please try again later."

// Problem is the wire shape of every error response.
type Problem struct {
	Type      string              `json:"type"`
	Title     string              `json:"title"`
	Status    int                 `json:"status"`
	Detail    string              `json:"detail"`
	Instance  string              `json:"instance"`
	Errors    map[string][]string `json:"errors,omitempty"`
	TraceID   string              `json:"traceId"`
	Timestamp string              `json:"timestamp"`

	// Development mode only.
	StackTrace     string `json:"stackTrace,omitempty"`
	Source         string `json:"source,omitempty"`
	InnerException string `json:"innerException,omitempty"`
}

// TraceID assigns every request a correlation id, honouring an inbound
// X-Request-ID so upstream proxies can keep their own correlation.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Request-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDKey, traceID)
		c.Writer.Header().Set("X-Request-ID", traceID)
		c.Next()
	}
}

// RequestTraceID returns the correlation id set by TraceID.
func RequestTraceID(c *gin.Context) string {
	return c.GetString(traceIDKey)
}

// ErrorHandler is the single chokepoint for every failure that escapes a
// handler: it recovers panics, classifies the first attached error, logs it
// exactly once and writes the structured response. Handlers attach errors
// with c.Error and never write error bodies themselves.
func ErrorHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				writeProblem(c, cfg, fmt.Errorf("panic: %v", r), debug.Stack())
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			writeProblem(c, cfg, c.Errors[0].Err, nil)
		}
	}
}

func writeProblem(c *gin.Context, cfg *config.Config, err error, stack []byte) {
	appErr := classify(err)
	status := appErr.Kind.Status()
	traceID := RequestTraceID(c)

	logProblem(c, appErr, err, traceID)

	detail := appErr.Message
	if appErr.Kind == apperrors.KindInternal {
		detail = genericDetail
	}

	problem := Problem{
		Type:      fmt.Sprintf("https://httpstatuses.io/%d", status),
		Title:     appErr.Kind.Title(),
		Status:    status,
		Detail:    detail,
		Instance:  c.Request.URL.Path,
		Errors:    appErr.Fields,
		TraceID:   traceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if !cfg.IsProduction() && status >= http.StatusInternalServerError {
		if stack == nil {
			stack = debug.Stack()
		}
		problem.StackTrace = string(stack)
		problem.Source = c.HandlerName()
		if inner := errors.Unwrap(err); inner != nil {
			problem.InnerException = inner.Error()
		} else {
			problem.InnerException = err.Error()
		}
	}

	c.AbortWithStatusJSON(status, problem)
}

// classify folds any error into the closed taxonomy. Deadline errors become
// timeouts; everything unrecognised is an internal error.
func classify(err error) *apperrors.Error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeout("The request timed out")
	}
	return apperrors.NewInternal("unclassified failure", err)
}

func logProblem(c *gin.Context, appErr *apperrors.Error, raw error, traceID string) {
	var evt *zerolog.Event
	switch appErr.Kind {
	case apperrors.KindTimeout, apperrors.KindInternal:
		evt = logger.Error()
	default:
		evt = logger.Warn()
	}

	evt = evt.
		Str("kind", appErr.Kind.String()).
		Str("trace_id", traceID).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path)

	switch appErr.Kind {
	case apperrors.KindValidation:
		evt = evt.Interface("fields", appErr.Fields)
	case apperrors.KindNotFound:
		evt = evt.Str("resource", appErr.Resource).Str("resource_id", appErr.ResourceID)
	case apperrors.KindForbidden:
		evt = evt.Str("action", appErr.Action).Str("resource", appErr.Resource)
	case apperrors.KindConflict:
		evt = evt.Str("resource", appErr.Resource).Str("reason", appErr.Reason)
	case apperrors.KindBadRequest:
		if appErr.Field != "" {
			evt = evt.Str("field", appErr.Field).Str("expected", appErr.Expected)
		}
	}
	evt.Msg(appErr.Message)

	// Failures outside the declared taxonomy get a second, louder line: they
	// indicate a defect, not a client mistake. The gate is the classified
	// kind, so a raw deadline error that classifies as a timeout stays quiet.
	if appErr.Kind == apperrors.KindInternal {
		logger.WithLevel(zerolog.FatalLevel).
			Str("trace_id", traceID).
			Err(raw).
			Msg("system-level exception escaped handler")
	}
}
