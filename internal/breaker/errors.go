package breaker

import (
	"fmt"
	"time"
)

// ErrCircuitOpen is returned when the breaker for a source is open,
// rejecting the call without attempting a fetch.
type ErrCircuitOpen struct {
	Source string
	Until  time.Time // when the breaker will next allow a probe
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("breaker: circuit open for source %s", e.Source)
}
