package dictionary

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound is returned when the dictionary file does not exist.
	ErrSourceNotFound = errors.New("dictionary file not found")
	// ErrMalformedJSON is returned when the dictionary file is not valid JSON.
	ErrMalformedJSON = errors.New("malformed dictionary JSON")
	// ErrInvalidSchema is returned when the document lacks the entries array or has the wrong shape.
	ErrInvalidSchema = errors.New("invalid dictionary format")
)

// LoadError describes a failed dictionary load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load dictionary %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
