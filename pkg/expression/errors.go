package expression

import (
	"errors"
	"fmt"
)

var (
	// ErrDataNotFound indicates a secret reference could not be resolved.
	ErrDataNotFound = errors.New("data not found")

	// ErrEvaluation indicates an expression failed to compile or run.
	ErrEvaluation = errors.New("expression evaluation failed")

	// ErrInvalidPath indicates an extraction path outside the supported JSON path subset.
	ErrInvalidPath = errors.New("invalid extraction path")
)

// EvaluationError carries the offending expression text.
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("expression %q: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsDataNotFound checks if an error indicates an unresolvable reference.
func IsDataNotFound(err error) bool {
	return errors.Is(err, ErrDataNotFound)
}
