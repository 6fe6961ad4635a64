package model

import "time"

// GenerationResult is the outcome of generating a single template.
// Paths are relative to the output root.
type GenerationResult struct {
	Template  string        `json:"template"`
	Written   []string      `json:"written,omitempty"`
	Unchanged []string      `json:"unchanged,omitempty"`
	Removed   []string      `json:"removed,omitempty"`
	Errors    []error       `json:"-"`
	Elapsed   time.Duration `json:"elapsed"`
}

// OK reports whether the template generated without errors.
func (r *GenerationResult) OK() bool {
	return len(r.Errors) == 0
}

// Fail records err against the result.
func (r *GenerationResult) Fail(err error) {
	r.Errors = append(r.Errors, err)
}

// ErrorStrings returns the messages of all recorded errors.
func (r *GenerationResult) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// RunSummary aggregates the results of one generation request.
type RunSummary struct {
	RequestID  uint64             `json:"request_id"`
	Templates  int                `json:"templates"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Written    int                `json:"written"`
	Removed    int                `json:"removed"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Results    []GenerationResult `json:"results"`
}

// Summarize folds results into a RunSummary.
func Summarize(requestID uint64, started time.Time, results []GenerationResult) RunSummary {
	s := RunSummary{
		RequestID:  requestID,
		Templates:  len(results),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Results:    results,
	}
	for i := range results {
		if results[i].OK() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.Written += len(results[i].Written)
		s.Removed += len(results[i].Removed)
	}
	return s
}
