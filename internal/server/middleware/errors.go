package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/chatlens/chatlens/internal/metrics"
)

// ErrorResponder renders an error for a request. The server package installs
// the centralized responder; the default writes the bare envelope.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var errorResponder ErrorResponder = defaultErrorResponder

// SetErrorResponder installs the responder used by auth, rate limiting and recovery.
func SetErrorResponder(responder ErrorResponder) {
	if responder == nil {
		errorResponder = defaultErrorResponder
		return
	}
	errorResponder = responder
}

// Recovery recovers from panics and answers with a critical INTERNAL_ERROR envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			panicErr := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec)).
				WithCorrelationID(GetRequestID(r.Context()))
			panicErr, _ = panicErr.WithContext(map[string]interface{}{
				"stack_trace": string(debug.Stack()),
			})
			panicErr, _ = panicErr.WithSeverity(errors.SeverityCritical)

			metrics.RecordPanic()
			errorResponder(w, r, panicErr)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse mirrors the public error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	envelope, ok := err.(*errors.ErrorEnvelope)
	if !ok || envelope == nil {
		envelope = errors.NewErrorEnvelope("INTERNAL_ERROR", "unexpected error")
	}

	status := http.StatusInternalServerError
	switch envelope.Code {
	case "UNAUTHORIZED":
		status = http.StatusUnauthorized
	case "RATE_LIMITED":
		status = http.StatusTooManyRequests
	}

	requestID := envelope.CorrelationID
	if requestID == "" {
		requestID = GetRequestID(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   envelope.Details,
			RequestID: requestID,
		},
	})
}
