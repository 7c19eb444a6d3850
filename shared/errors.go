package shared

import (
	"fmt"
)

// TransportError represents a failure to obtain a page of klines from the
// remote source.
type TransportError struct {
	// Op describes the attempted operation.
	Op string
	// Status is the http status code returned, zero if no response was received.
	Status int
	// Err is the underlying failure.
	Err error
}

// Error returns the error string.
func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying failure.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// FormatError represents watermark text matching neither supported encoding.
type FormatError struct {
	// Value is the offending text.
	Value string
}

// Error returns the error string.
func (e *FormatError) Error() string {
	return fmt.Sprintf("watermark %q is neither a millisecond timestamp nor a %q date time",
		e.Value, DateLayout)
}

// MissingFileError represents a required file that does not exist.
type MissingFileError struct {
	// Path is the missing file path.
	Path string
}

// Error returns the error string.
func (e *MissingFileError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}
