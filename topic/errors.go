package topic

import "errors"

var (
	// ErrPatternTooLong is returned when a SUBSCRIBE pattern exceeds
	// MaxPatternLength, per spec.md §9's open question on regex hazard:
	// the standard library's regexp has no compile-time or execution
	// timeout, so the mitigation is a length cap applied before compiling.
	ErrPatternTooLong = errors.New("topic: pattern exceeds maximum length")

	// ErrInvalidPattern is returned when regexp.Compile rejects the pattern.
	ErrInvalidPattern = errors.New("topic: invalid pattern")
)
