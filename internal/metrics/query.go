package metrics

import "time"

// Filter selects metrics. Zero fields match everything.
type Filter struct {
	JobID    string
	BookID   string
	Stage    string
	Provider string
	Model    string
	After    time.Time
	Before   time.Time
	Success  *bool // nil = any, true = successes only, false = errors only
}

func (f Filter) matches(m *Metric) bool {
	if f.JobID != "" && m.JobID != f.JobID {
		return false
	}
	if f.BookID != "" && m.BookID != f.BookID {
		return false
	}
	if f.Stage != "" && m.Stage != f.Stage {
		return false
	}
	if f.Provider != "" && m.Provider != f.Provider {
		return false
	}
	if f.Model != "" && m.Model != f.Model {
		return false
	}
	if !f.After.IsZero() && !m.CreatedAt.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !m.CreatedAt.Before(f.Before) {
		return false
	}
	if f.Success != nil && m.Success != *f.Success {
		return false
	}
	return true
}

// List returns metrics matching the filter in recording order, oldest
// first. limit > 0 caps the result.
func (r *Recorder) List(f Filter, limit int) []Metric {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Metric
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		m := r.buf[(start+i)%len(r.buf)]
		if f.matches(&m) {
			out = append(out, m)
		}
	}
	return out
}
