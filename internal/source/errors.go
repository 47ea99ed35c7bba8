package source

import "fmt"

// ParseError reports that a source's payload could not be converted
// into races. It marks the source FAILED for the cycle without
// implicating the transport layer.
type ParseError struct {
	Source string
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("source %s: parse: %v", e.Source, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }
