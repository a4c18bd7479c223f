package calibration

import (
	"errors"
	"strings"
)

// Sentinel errors for common conditions.
var (
	// ErrUnknownPreset is returned when a preset name is not registered.
	ErrUnknownPreset = errors.New("calibration: unknown preset")

	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("calibration: invalid config")
)

// ValidationError lists every problem found in a rejected configuration.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return ErrInvalidConfig.Error() + ": " + strings.Join(e.Problems, "; ")
}

// Unwrap returns ErrInvalidConfig.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}
