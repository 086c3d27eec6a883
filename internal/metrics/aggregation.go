package metrics

import (
	"sort"
	"time"
)

// TotalCost returns the total cost for metrics matching the filter.
func (r *Recorder) TotalCost(f Filter) float64 {
	var total float64
	for _, m := range r.List(f, 0) {
		total += m.CostUSD
	}
	return total
}

// TotalSeconds returns the total billed audio seconds for metrics
// matching the filter.
func (r *Recorder) TotalSeconds(f Filter) float64 {
	var total float64
	for _, m := range r.List(f, 0) {
		total += m.Seconds
	}
	return total
}

// Summary aggregates the metrics matching a filter.
type Summary struct {
	Count           int           `json:"count"`
	TotalCostUSD    float64       `json:"total_cost_usd"`
	TotalCharacters int           `json:"total_characters"`
	TotalSeconds    float64       `json:"total_seconds"`
	TotalTokens     int           `json:"total_tokens"`
	TotalTime       time.Duration `json:"total_time"`
	SuccessCount    int           `json:"success_count"`
	ErrorCount      int           `json:"error_count"`
	AvgCostUSD      float64       `json:"avg_cost_usd"`
}

// GetSummary returns a summary of metrics matching the filter.
func (r *Recorder) GetSummary(f Filter) *Summary {
	metrics := r.List(f, 0)

	s := &Summary{Count: len(metrics)}
	for _, m := range metrics {
		s.TotalCostUSD += m.CostUSD
		s.TotalCharacters += m.Characters
		s.TotalSeconds += m.Seconds
		s.TotalTokens += m.TotalTokens
		s.TotalTime += time.Duration(m.ExecutionSeconds * float64(time.Second))
		if m.Success {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
	}
	if s.Count > 0 {
		s.AvgCostUSD = s.TotalCostUSD / float64(s.Count)
	}
	return s
}

// DetailedStats extends the summary with latency percentiles.
type DetailedStats struct {
	Count        int `json:"count"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`

	TotalCostUSD float64 `json:"total_cost_usd"`
	AvgCostUSD   float64 `json:"avg_cost_usd"`

	TotalCharacters int     `json:"total_characters"`
	TotalSeconds    float64 `json:"total_seconds"`
	TotalTokens     int     `json:"total_tokens"`

	// Latency over ExecutionSeconds, in seconds.
	LatencyP50 float64 `json:"latency_p50"`
	LatencyP95 float64 `json:"latency_p95"`
	LatencyP99 float64 `json:"latency_p99"`
	LatencyAvg float64 `json:"latency_avg"`
	LatencyMin float64 `json:"latency_min"`
	LatencyMax float64 `json:"latency_max"`
}

// GetDetailedStats returns detailed statistics for metrics matching
// the filter, including latency percentiles.
func (r *Recorder) GetDetailedStats(f Filter) *DetailedStats {
	return detailedStats(r.List(f, 0))
}

// StageDetailedStats returns detailed stats grouped by stage for a book.
func (r *Recorder) StageDetailedStats(bookID string) map[string]*DetailedStats {
	byStage := make(map[string][]Metric)
	for _, m := range r.List(Filter{BookID: bookID}, 0) {
		if m.Stage != "" {
			byStage[m.Stage] = append(byStage[m.Stage], m)
		}
	}

	result := make(map[string]*DetailedStats, len(byStage))
	for stage, metrics := range byStage {
		result[stage] = detailedStats(metrics)
	}
	return result
}

func detailedStats(metrics []Metric) *DetailedStats {
	stats := &DetailedStats{Count: len(metrics)}
	if len(metrics) == 0 {
		return stats
	}

	var latencies []float64
	for _, m := range metrics {
		stats.TotalCostUSD += m.CostUSD
		stats.TotalCharacters += m.Characters
		stats.TotalSeconds += m.Seconds
		stats.TotalTokens += m.TotalTokens
		if m.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		if m.ExecutionSeconds > 0 {
			latencies = append(latencies, m.ExecutionSeconds)
		}
	}

	stats.AvgCostUSD = stats.TotalCostUSD / float64(stats.Count)

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		stats.LatencyMin = latencies[0]
		stats.LatencyMax = latencies[len(latencies)-1]
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		stats.LatencyAvg = sum / float64(len(latencies))
		stats.LatencyP50 = percentile(latencies, 50)
		stats.LatencyP95 = percentile(latencies, 95)
		stats.LatencyP99 = percentile(latencies, 99)
	}
	return stats
}

// percentile calculates the p-th percentile from a sorted slice with
// linear interpolation between neighbors.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := (p / 100.0) * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
