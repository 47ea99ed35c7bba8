package aggregate

import "fmt"

// AggregationTimeout reports that the cycle deadline expired before
// every source finished. The partial result is still returned
// alongside it.
type AggregationTimeout struct {
	Date      string
	Completed int
	Total     int
}

func (e *AggregationTimeout) Error() string {
	return fmt.Sprintf("aggregation for %s timed out: %d/%d sources completed", e.Date, e.Completed, e.Total)
}
