package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks failures worth retrying: network errors, rate
	// limits, upstream timeouts.
	ErrTransient = errors.New("transient failure")
	// ErrExternalService marks upstream API failures; retried like transient.
	ErrExternalService = errors.New("external service error")
	// ErrValidation marks bad input; never retried.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks operator mistakes; never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing required data; never retried.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks an exceeded deadline; retried.
	ErrTimeout = errors.New("timeout")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsPermanent reports whether an error should fail the job immediately
// without consuming its retry budget.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrNotFound)
}

// Message extracts a human-readable failure message suitable for the job's
// error field.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
