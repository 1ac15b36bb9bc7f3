package anonymize

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input: empty text, out-of-range or
// overlapping spans, an unknown strategy name.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DetectorError reports that detection could not complete, so nothing was
// anonymized.
type DetectorError struct {
	Detector string
	Err      error
}

func (e *DetectorError) Error() string {
	if e.Detector == "" {
		return fmt.Sprintf("detector failure: %v", e.Err)
	}
	return fmt.Sprintf("detector failure: %s: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// IsDetectorFailure reports whether err is (or wraps) a *DetectorError.
func IsDetectorFailure(err error) bool {
	var de *DetectorError
	return errors.As(err, &de)
}
