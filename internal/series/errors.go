package series

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("series not found")
	// ErrCursorRegression means a run computed a cursor behind the current one
	// without wrapping. It is never retried.
	ErrCursorRegression = errors.New("cursor would move backwards")
)

type CursorRegressionError struct {
	From int
	To   int
}

func (e *CursorRegressionError) Error() string {
	return fmt.Sprintf("cursor would move backwards from %d to %d", e.From, e.To)
}

func (e *CursorRegressionError) Unwrap() error {
	return ErrCursorRegression
}
