package metrics

// BookCost returns the total cost recorded against a book.
func (r *Recorder) BookCost(bookID string) float64 {
	return r.TotalCost(Filter{BookID: bookID})
}

// StageCost returns the total cost for a stage across all books.
func (r *Recorder) StageCost(stage string) float64 {
	return r.TotalCost(Filter{Stage: stage})
}

// BookStageBreakdown returns cost by stage for a book.
func (r *Recorder) BookStageBreakdown(bookID string) map[string]float64 {
	breakdown := make(map[string]float64)
	for _, m := range r.List(Filter{BookID: bookID}, 0) {
		breakdown[m.Stage] += m.CostUSD
	}
	return breakdown
}

// CostByProvider returns cost by provider for metrics matching the filter.
func (r *Recorder) CostByProvider(f Filter) map[string]float64 {
	breakdown := make(map[string]float64)
	for _, m := range r.List(f, 0) {
		breakdown[m.Provider] += m.CostUSD
	}
	return breakdown
}

// CostByStage returns cost by stage for metrics matching the filter.
func (r *Recorder) CostByStage(f Filter) map[string]float64 {
	breakdown := make(map[string]float64)
	for _, m := range r.List(f, 0) {
		breakdown[m.Stage] += m.CostUSD
	}
	return breakdown
}

// CostByModel returns cost by model for metrics matching the filter.
func (r *Recorder) CostByModel(f Filter) map[string]float64 {
	breakdown := make(map[string]float64)
	for _, m := range r.List(f, 0) {
		breakdown[m.Model] += m.CostUSD
	}
	return breakdown
}
