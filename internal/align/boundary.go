package align

import (
	"context"
)

// BoundaryBackend adopts the provisional per-token timings a TTS engine
// reported at synthesis time. It is the cheapest path: no network, no
// decode. Eligible only when the timing table covers enough of the
// chapter with well-ordered intervals.
type BoundaryBackend struct {
	// MinCoverage is the token fraction the provisional table must
	// cover, monotone and non-overlapping, before adoption.
	MinCoverage float64
}

const boundaryOverlapSlack = 1e-3 // engines round to milliseconds

// NewBoundaryBackend returns the passthrough backend.
func NewBoundaryBackend(minCoverage float64) *BoundaryBackend {
	if minCoverage <= 0 {
		minCoverage = 0.95
	}
	return &BoundaryBackend{MinCoverage: minCoverage}
}

func (b *BoundaryBackend) Name() string { return "boundary" }

// Align converts the provisional timing table into placements, or
// reports not-eligible when the table is missing, sparse, or unordered.
func (b *BoundaryBackend) Align(_ context.Context, req *Request) ([]Placement, error) {
	if len(req.Timing) == 0 || len(req.Tokens) == 0 {
		return nil, errNotEligible
	}

	timing := make(map[string][2]float64, len(req.Timing))
	for _, t := range req.Timing {
		if t.Begin < 0 || t.End <= t.Begin {
			continue
		}
		if _, seen := timing[t.TokenID]; !seen {
			timing[t.TokenID] = [2]float64{t.Begin, t.End}
		}
	}

	covered := 0
	lastEnd := 0.0
	monotone := true
	placements := make([]Placement, 0, len(timing))
	for _, tok := range req.Tokens {
		iv, ok := timing[tok.ID]
		if !ok {
			continue
		}
		covered++
		if iv[0] < lastEnd-boundaryOverlapSlack {
			monotone = false
		}
		lastEnd = iv[1]
		placements = append(placements, Placement{TokenID: tok.ID, Begin: iv[0], End: iv[1]})
	}

	coverage := float64(covered) / float64(len(req.Tokens))
	if !monotone || coverage < b.MinCoverage {
		return nil, errNotEligible
	}
	return placements, nil
}

var _ Backend = (*BoundaryBackend)(nil)
