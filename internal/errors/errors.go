package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatlens/chatlens/internal/metrics"
	"github.com/chatlens/chatlens/internal/observability"
	"github.com/chatlens/chatlens/internal/server/middleware"
)

// Error codes understood by HTTPStatusFromCode.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeConflict         = "CONFLICT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
	CodeDatabase         = "DATABASE_ERROR"
	CodeExternalService  = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
)

// User errors (400-level)

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewUnauthorizedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeUnauthorized, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

// NewValidationError returns a VALIDATION_FAILED envelope. Field-level problems
// are exposed to callers through details.
func NewValidationError(message string, fields map[string]string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeValidationFailed, message)
	if len(fields) == 0 {
		return envelope
	}
	details := make(map[string]interface{}, len(fields))
	for field, problem := range fields {
		details[field] = problem
	}
	return envelope.WithDetails(details)
}

// Server errors (500-level)

func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInternal, message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

func NewUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeUnavailable, message)
}

// Wrap helpers attach correlation and trace IDs from the request context and
// record the underlying error in the envelope context (logged, never returned
// verbatim in the details of 5xx responses).

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInvalidInput, err, message)
}

func WrapNotFound(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeNotFound, err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInternal, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeDatabase, err, message)
}

func WrapExternalService(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeExternalService, err, message)
}

func WrapTimeout(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeTimeout, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeConfigInvalid, err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	correlationID := extractCorrelationID(ctx)
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(correlationID)
	// No tracing backend yet; the correlation ID doubles as trace ID.
	envelope = envelope.WithTraceID(correlationID)
	return withWrappedError(envelope, err)
}

// extractCorrelationID gets the request ID from context, generating one when absent.
func extractCorrelationID(ctx context.Context) string {
	if id := requestID(ctx); id != "" {
		return id
	}
	return uuid.New().String()
}

func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	return middleware.GetRequestID(ctx)
}

// EnsureEnvelope returns the envelope in err's chain, or an INTERNAL_ERROR
// envelope recording err in its context.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	message, severity := "unexpected error", errors.SeverityHigh
	if err == nil {
		message, severity = "unexpected nil error", errors.SeverityCritical
	}
	envelope = withWrappedError(errors.NewErrorEnvelope(CodeInternal, message), err)
	if withSeverity, sevErr := envelope.WithSeverity(severity); sevErr == nil {
		envelope = withSeverity
	}
	return envelope
}

// EnsureCorrelationID fills in a missing correlation ID from the request
// context, or a generated fallback.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}
	id := requestID(ctx)
	if id == "" {
		id = "fallback-" + errors.GenerateCorrelationID()
	}
	return envelope.WithCorrelationID(id)
}

var statusByCode = map[string]int{
	CodeInvalidInput:     http.StatusBadRequest,
	CodeValidationFailed: http.StatusBadRequest,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeForbidden:        http.StatusForbidden,
	CodeNotFound:         http.StatusNotFound,
	CodeMethodNotAllowed: http.StatusMethodNotAllowed,
	CodeConflict:         http.StatusConflict,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeExternalService:  http.StatusBadGateway,
	CodeUnavailable:      http.StatusServiceUnavailable,
	CodeTimeout:          http.StatusGatewayTimeout,
}

// HTTPStatusFromCode maps an error code to its HTTP status. Unknown codes are 500.
func HTTPStatusFromCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HTTPStatusFromEnvelope maps an envelope to its HTTP status.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}
	if updated, ctxErr := envelope.WithContext(map[string]interface{}{"wrapped_error": err.Error()}); ctxErr == nil {
		return updated
	}
	return envelope
}

// ResponseDetails builds the API-safe details map. Context entries (wrapped
// errors, stack traces) only reach the caller for 4xx responses.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}
	details := make(map[string]interface{}, len(envelope.Details))
	if HTTPStatusFromEnvelope(envelope) < http.StatusInternalServerError {
		for key, value := range envelope.Context {
			details[key] = value
		}
	}
	// Explicit details win over context entries of the same name.
	for key, value := range envelope.Details {
		details[key] = value
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// HTTPErrorDetail is the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON error envelope: {"error": {...}}.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError writes err as a JSON error response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope logs the envelope, records error metrics and writes it.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}
	var ctx context.Context
	if r != nil {
		ctx = r.Context()
	}
	envelope = EnsureCorrelationID(EnsureEnvelope(envelopeOrNil(envelope)), ctx)
	status := HTTPStatusFromEnvelope(envelope)

	logHTTPError(envelope, status)
	metrics.RecordError(envelope.Code, status)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: HTTPErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   ResponseDetails(envelope),
		RequestID: envelope.CorrelationID,
	}})
}

// envelopeOrNil keeps a nil *ErrorEnvelope from becoming a non-nil error.
func envelopeOrNil(envelope *errors.ErrorEnvelope) error {
	if envelope == nil {
		return nil
	}
	return envelope
}

// logHTTPError logs at the envelope's severity, or by status class when unset.
func logHTTPError(envelope *errors.ErrorEnvelope, status int) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", status),
		zap.String("request_id", envelope.CorrelationID),
	}
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	switch {
	case envelope.Severity == errors.SeverityCritical, envelope.Severity == errors.SeverityHigh,
		envelope.Severity == "" && status >= http.StatusInternalServerError:
		logger.Error(envelope.Message, fields...)
	case envelope.Severity == errors.SeverityMedium:
		logger.Warn(envelope.Message, fields...)
	default:
		logger.Info(envelope.Message, fields...)
	}
}
