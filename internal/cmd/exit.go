package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	apperrors "github.com/chatlens/chatlens/internal/errors"
)

// ExitCodeFor maps a command error to a semantic foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	var envelope *errors.ErrorEnvelope
	if !stderrors.As(err, &envelope) {
		return foundry.ExitFailure
	}
	switch envelope.Code {
	case apperrors.CodeConfigInvalid, apperrors.CodeInvalidInput, apperrors.CodeValidationFailed:
		return foundry.ExitConfigInvalid
	case apperrors.CodeNotFound:
		return foundry.ExitFileNotFound
	case apperrors.CodeExternalService, apperrors.CodeUnavailable, apperrors.CodeTimeout:
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

// ExitWithCode logs err with the exit code's catalog metadata and exits.
// A nil logger falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok || logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if cause, ok := envelope.Original.(error); ok {
			err = cause
		}
	}
	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)

	os.Exit(info.Code)
}

// ExitWithCodeStderr exits without a logger, for failures before logging is up.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	fmt.Fprintln(os.Stderr, fatalLine(msg, err))

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		os.Exit(int(exitCode))
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}

func fatalLine(msg string, err error) string {
	if err == nil {
		return "FATAL: " + msg
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		line := fmt.Sprintf("FATAL: %s [%s]: %s", msg, envelope.Code, envelope.Message)
		if cause, ok := envelope.Original.(error); ok {
			line += "\n  caused by: " + cause.Error()
		}
		return line
	}
	return fmt.Sprintf("FATAL: %s: %v", msg, err)
}
