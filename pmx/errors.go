package pmx

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFile        = errors.New("pmx: invalid file")
	ErrUnsupportedVersion = errors.New("pmx: unsupported version")
	ErrCorruptedData      = errors.New("pmx: corrupted data")
	ErrUnsupportedFeature = errors.New("pmx: unsupported feature")
	ErrValidation         = errors.New("pmx: validation failed")
)

// ValidationError describes an unnamed or duplicated element of a collection.
type ValidationError struct {
	Kind   string
	Index  int
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %s (index: %d)", e.Kind, e.Reason, e.Index)
	}
	return fmt.Sprintf("%s: %s %q (index: %d)", e.Kind, e.Reason, e.Name, e.Index)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func corrupted(section string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCorruptedData, section, err)
}
