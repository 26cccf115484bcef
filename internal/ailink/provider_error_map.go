package ailink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chatlens/chatlens/internal/ailink/driver"
)

// InvokeError classifies a failed stage call. Details may carry provider text
// and must stay in operator logs.
type InvokeError struct {
	Stage   Stage
	Code    string
	Message string
	Details string
	Err     error
}

func (e *InvokeError) Error() string {
	if e == nil {
		return "stage invocation failed"
	}
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *InvokeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func mapProviderError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var already *InvokeError
	if errors.As(err, &already) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &InvokeError{Stage: stage, Code: "AILINK_CANCELLED", Message: "request cancelled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &InvokeError{Stage: stage, Code: "AILINK_PROVIDER_TIMEOUT", Message: "provider request timed out", Err: err}
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		details := strings.TrimSpace(perr.Message)
		ie := &InvokeError{Stage: stage, Details: details, Err: err}
		switch {
		case status == 401 || status == 403:
			ie.Code, ie.Message = "AILINK_PROVIDER_AUTH", "provider authentication failed"
		case status == 429:
			ie.Code, ie.Message = "AILINK_PROVIDER_RATE_LIMIT", "provider rate limited"
		case status >= 500 && status <= 599:
			ie.Code, ie.Message = "AILINK_PROVIDER_UNAVAILABLE", "provider unavailable"
		case status >= 400 && status <= 499:
			ie.Code, ie.Message = "AILINK_PROVIDER_BAD_REQUEST", "provider rejected request"
		default:
			ie.Code, ie.Message = "AILINK_PROVIDER_ERROR", "provider request failed"
		}
		return ie
	}

	return &InvokeError{Stage: stage, Code: "AILINK_PROVIDER_ERROR", Message: "provider request failed", Details: err.Error(), Err: err}
}
