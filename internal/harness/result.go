package harness

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is the outcome of one scenario.
type Result struct {
	Name      string         `json:"name"`
	Succeeded bool           `json:"succeeded"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"-"`
}

// MarshalJSON encodes Duration as durationMs.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"durationMs"`
	}{plain(r), r.Duration.Milliseconds()})
}

// Report is the outcome of a harness run.
type Report struct {
	RunID     string   `json:"runId"`
	Succeeded bool     `json:"succeeded"`
	Results   []Result `json:"results"`
}

// Failed returns the names of failed scenarios.
func (r Report) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if !res.Succeeded {
			out = append(out, res.Name)
		}
	}
	return out
}

// recorder builds a Result.
type recorder struct {
	res   Result
	start time.Time
}

func begin(name string) *recorder {
	return &recorder{
		res:   Result{Name: name, Details: make(map[string]any)},
		start: time.Now(),
	}
}

func (r *recorder) detail(key string, v any) { r.res.Details[key] = v }

func (r *recorder) pass(format string, args ...any) Result {
	r.res.Succeeded = true
	return r.finish(format, args...)
}

func (r *recorder) fail(format string, args ...any) Result {
	r.res.Succeeded = false
	return r.finish(format, args...)
}

func (r *recorder) finish(format string, args ...any) Result {
	r.res.Message = fmt.Sprintf(format, args...)
	r.res.Duration = time.Since(r.start)
	return r.res
}
