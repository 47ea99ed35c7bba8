package engine

import (
	"fmt"
	"sort"
	"strings"
)

// TransportError is a single engine attempt failure. It is retried
// inside the fetch engine up to the configured bound.
type TransportError struct {
	Engine     string
	URL        string
	StatusCode int // 0 on network-level errors
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("engine %s: %s: http %d", e.Engine, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("engine %s: %s: %v", e.Engine, e.URL, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// AllEnginesFailed is returned when every engine and attempt is
// exhausted for one fetch. It carries the last error per engine so the
// caller can classify the failure (a 404 from every engine means the
// URL is broken, not the transports).
type AllEnginesFailed struct {
	URL    string
	Errors map[string]error // engine name → last error
}

func (e *AllEnginesFailed) Error() string {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	fmt.Fprintf(&b, "engine: all engines failed for %s:", e.URL)
	for _, name := range names {
		fmt.Fprintf(&b, " [%s: %v]", name, e.Errors[name])
	}
	return b.String()
}
