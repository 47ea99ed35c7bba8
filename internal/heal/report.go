package heal

import (
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Attempt is one recorded healing attempt.
type Attempt struct {
	Strategy  string        `json:"strategy"`
	Candidate string        `json:"candidate,omitempty"`
	Success   bool          `json:"success"`
	Elapsed   time.Duration `json:"elapsed"`
	At        time.Time     `json:"at"`
}

// SourceReport accumulates healing outcomes for one source.
type SourceReport struct {
	Attempts            int            `json:"attempts"`
	SuccessesByStrategy map[string]int `json:"successes_by_strategy"`
	Failures            int            `json:"failures"`
	Unhealable          int            `json:"unhealable"`
	Recent              []Attempt      `json:"recent,omitempty"`
}

const recentCap = 50

// Report is the process-wide cumulative healing ledger, keyed by
// source. Concurrent healer invocations from different sources
// serialize their appends through the mutex.
type Report struct {
	mu       sync.Mutex
	bySource map[string]*SourceReport
}

// NewReport creates an empty Report.
func NewReport() *Report {
	return &Report{bySource: make(map[string]*SourceReport)}
}

// Record appends one attempt outcome.
func (r *Report) Record(source, strategy, candidate string, success bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sr := r.get(source)
	sr.Attempts++
	if success {
		sr.SuccessesByStrategy[strategy]++
	} else {
		sr.Failures++
	}
	sr.Recent = append(sr.Recent, Attempt{
		Strategy:  strategy,
		Candidate: candidate,
		Success:   success,
		Elapsed:   elapsed,
		At:        time.Now(),
	})
	if len(sr.Recent) > recentCap {
		sr.Recent = sr.Recent[len(sr.Recent)-recentCap:]
	}
}

// RecordUnhealable marks one fully exhausted healing request.
func (r *Report) RecordUnhealable(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(source).Unhealable++
}

// Snapshot returns a copy of the ledger for serialization.
func (r *Report) Snapshot() map[string]SourceReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]SourceReport, len(r.bySource))
	for name, sr := range r.bySource {
		copied := *sr
		copied.SuccessesByStrategy = make(map[string]int, len(sr.SuccessesByStrategy))
		for k, v := range sr.SuccessesByStrategy {
			copied.SuccessesByStrategy[k] = v
		}
		copied.Recent = append([]Attempt(nil), sr.Recent...)
		out[name] = copied
	}
	return out
}

// WriteFile writes the report artifact as JSON.
func (r *Report) WriteFile(path string) error {
	data, err := sonic.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// get must be called with mu held.
func (r *Report) get(source string) *SourceReport {
	sr, ok := r.bySource[source]
	if !ok {
		sr = &SourceReport{SuccessesByStrategy: make(map[string]int)}
		r.bySource[source] = sr
	}
	return sr
}
