package heal

import "fmt"

// ErrUnhealable is returned when every strategy has been exhausted
// without producing a verified substitute URL.
type ErrUnhealable struct {
	Source string
	URL    string
}

func (e *ErrUnhealable) Error() string {
	return fmt.Sprintf("heal: %s: no working substitute for %s", e.Source, e.URL)
}
