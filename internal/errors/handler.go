package errors

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/wire"
)

// ErrorResponse is the admin API error body.
type ErrorResponse struct {
	Error   ErrorDetails `json:"error"`
	TraceID string       `json:"trace_id,omitempty"`
}

// ErrorDetails contains the error details.
type ErrorDetails struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    uint32                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler turns errors into VNSI return codes or admin HTTP responses,
// logging each at the severity of its type.
type ErrorHandler struct {
	logger logger.Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(l logger.Logger) *ErrorHandler {
	return &ErrorHandler{logger: l}
}

func levelFor(t ErrorType) logrus.Level {
	switch t {
	case ErrorTypeInternal, ErrorTypeFatalIO:
		return logrus.ErrorLevel
	case ErrorTypeProtocol, ErrorTypeCorruption, ErrorTypeStarvation,
		ErrorTypeResourceExhausted, ErrorTypeTransientIO:
		return logrus.WarnLevel
	default:
		// client-visible outcomes such as unknown ids are routine
		return logrus.DebugLevel
	}
}

// Resolve logs err and returns the return code to send and whether the
// connection must close. A nil error resolves to RetOK.
func (h *ErrorHandler) Resolve(err error, fields logger.Fields) (uint32, bool) {
	if err == nil {
		return wire.RetOK, false
	}

	appErr, ok := GetAppError(err)
	if !ok {
		appErr = WrapInternalError(err, "unexpected error")
	}

	l := h.logger.WithFields(fields).WithFields(logger.Fields{
		"error_type": appErr.Type,
		"ret_code":   appErr.Code,
	})
	l.Log(levelFor(appErr.Type), err.Error())

	return appErr.Code, appErr.Fatal()
}

// HandleError writes err as a JSON admin API response.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := r.Header.Get("X-Request-ID")

	appErr, ok := GetAppError(err)
	if !ok {
		appErr = WrapInternalError(err, "An unexpected error occurred")
	}

	h.logger.WithFields(logger.Fields{
		"error_type": appErr.Type,
		"trace_id":   traceID,
		"method":     r.Method,
		"path":       r.URL.Path,
	}).Log(levelFor(appErr.Type), appErr.Error())

	h.writeJSON(w, appErr.HTTPStatus, ErrorResponse{
		Error: ErrorDetails{
			Type:    appErr.Type,
			Message: appErr.Message,
			Code:    appErr.Code,
			Details: appErr.Details,
		},
		TraceID: traceID,
	})
}

// HandleNotFound handles 404 errors.
func (h *ErrorHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, NewNotFoundError("endpoint"))
}

func (h *ErrorHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode error response")
	}
}

// Middleware recovers panics in admin handlers.
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				h.logger.WithFields(logger.Fields{
					"panic":  recovered,
					"method": r.Method,
					"path":   r.URL.Path,
				}).Error("Panic recovered in HTTP handler")
				h.HandleError(w, r, NewInternalError("An unexpected error occurred"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
