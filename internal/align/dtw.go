package align

import (
	"context"
	"fmt"
	"math"

	"github.com/librettohq/libretto/internal/audio"
	"github.com/librettohq/libretto/internal/types"
)

// Reference is a synthesized narration used as the DTW template: audio
// on disk plus the per-token boundaries the engine reported for it.
// Cleanup removes the temporary files.
type Reference struct {
	Path    string
	Timing  []types.TimingEntry
	Cleanup func()
}

// ReferenceSynthesizer produces a reference narration for a token
// stream. The source manager implements this with its cheapest engine.
type ReferenceSynthesizer interface {
	SynthesizeReference(ctx context.Context, tokens types.TokenTable, language string) (*Reference, error)
}

// DTWBackend aligns by warping a synthesized reference onto the
// canonical audio. It needs no transcript: both waveforms reduce to
// frame-energy envelopes, dynamic time warping matches the envelopes,
// and the reference's known token boundaries map through the warp path.
type DTWBackend struct {
	synth ReferenceSynthesizer
	codec audio.Codec
}

// NewDTWBackend returns the warp backend.
func NewDTWBackend(synth ReferenceSynthesizer, codec audio.Codec) *DTWBackend {
	return &DTWBackend{synth: synth, codec: codec}
}

func (b *DTWBackend) Name() string { return "dtw" }

const (
	// dtwDecodeRate is the PCM rate envelopes are computed at.
	dtwDecodeRate = 16000
	// dtwMaxFrames caps envelope length; the hop grows with the audio
	// so the cost matrix stays bounded.
	dtwMaxFrames = 6000
	// dtwMinHop is 10 ms at the decode rate.
	dtwMinHop = 160
)

func (b *DTWBackend) Align(ctx context.Context, req *Request) ([]Placement, error) {
	if b.synth == nil || b.codec == nil {
		return nil, errNotEligible
	}

	ref, err := b.synth.SynthesizeReference(ctx, req.Tokens, req.Language)
	if err != nil {
		return nil, fmt.Errorf("synthesize reference: %w", err)
	}
	if ref.Cleanup != nil {
		defer ref.Cleanup()
	}
	if len(ref.Timing) == 0 {
		return nil, fmt.Errorf("reference synthesis reported no token boundaries")
	}

	canonPCM, err := b.codec.DecodePCM(ctx, req.AudioPath, dtwDecodeRate)
	if err != nil {
		return nil, fmt.Errorf("decode canonical: %w", err)
	}
	refPCM, err := b.codec.DecodePCM(ctx, ref.Path, dtwDecodeRate)
	if err != nil {
		return nil, fmt.Errorf("decode reference: %w", err)
	}
	if len(canonPCM) == 0 || len(refPCM) == 0 {
		return nil, fmt.Errorf("%w: empty PCM stream", audio.ErrUnreadable)
	}

	hop := max(len(canonPCM), len(refPCM))/dtwMaxFrames + 1
	if hop < dtwMinHop {
		hop = dtwMinHop
	}
	refEnv := envelope(refPCM, hop)
	canonEnv := envelope(canonPCM, hop)
	if len(refEnv) < 2 || len(canonEnv) < 2 {
		return nil, fmt.Errorf("audio too short to warp")
	}

	mapping := warpFrames(refEnv, canonEnv)

	hopSec := float64(hop) / dtwDecodeRate
	toCanon := func(t float64) float64 {
		frame := int(t / hopSec)
		if frame < 0 {
			frame = 0
		}
		if frame >= len(mapping) {
			frame = len(mapping) - 1
		}
		return float64(mapping[frame]) * hopSec
	}

	placements := make([]Placement, 0, len(ref.Timing))
	for _, t := range ref.Timing {
		if t.End <= t.Begin {
			continue
		}
		begin := toCanon(t.Begin)
		end := toCanon(t.End)
		if end <= begin {
			// Warp collapsed the interval; give it one frame so a
			// short word stays addressable.
			end = begin + hopSec
		}
		placements = append(placements, Placement{TokenID: t.TokenID, Begin: begin, End: end})
	}
	return placements, nil
}

// envelope reduces PCM to per-frame log energy, mean/variance
// normalized so the two recordings compare on shape rather than level.
func envelope(samples []float64, hop int) []float64 {
	n := len(samples) / hop
	if n == 0 {
		return nil
	}
	env := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, s := range samples[i*hop : (i+1)*hop] {
			sum += s * s
		}
		env[i] = math.Log1p(sum / float64(hop) * 1e4)
	}

	var mean float64
	for _, v := range env {
		mean += v
	}
	mean /= float64(n)
	var variance float64
	for _, v := range env {
		variance += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(variance / float64(n))
	if sd < 1e-9 {
		sd = 1
	}
	for i := range env {
		env[i] = (env[i] - mean) / sd
	}
	return env
}

// warpFrames runs banded DTW between the two envelopes and returns, for
// every reference frame, the canonical frame it lands on. The mapping
// is monotone non-decreasing.
func warpFrames(ref, canon []float64) []int {
	n, m := len(ref), len(canon)

	half := max(n, m)/10 + abs(n-m)
	if half < 64 {
		half = 64
	}
	width := 2*half + 1
	if width > m {
		width = m
	}

	lo := make([]int, n+1)
	for i := 0; i <= n; i++ {
		center := i * m / n
		l := center - half
		if l < 1 {
			l = 1
		}
		if l+width-1 > m {
			l = m - width + 1
		}
		if l < 1 {
			l = 1
		}
		lo[i] = l
	}

	const inf = math.MaxFloat32 / 4
	cost := make([]float32, (n+1)*width)
	move := make([]uint8, (n+1)*width) // 0 diag, 1 up, 2 left
	at := func(i, j int) float32 {
		if i < 0 || j < lo[i] || j >= lo[i]+width {
			if i == 0 && j == 0 {
				return 0
			}
			return inf
		}
		return cost[i*width+(j-lo[i])]
	}

	for i := 1; i <= n; i++ {
		for j := lo[i]; j < lo[i]+width && j <= m; j++ {
			d := float32(math.Abs(ref[i-1] - canon[j-1]))
			best := at(i-1, j-1)
			dir := uint8(0)
			if up := at(i-1, j); up < best {
				best = up
				dir = 1
			}
			if left := at(i, j-1); left < best {
				best = left
				dir = 2
			}
			if i == 1 && j == 1 {
				best = 0
				dir = 0
			}
			idx := i*width + (j - lo[i])
			cost[idx] = best + d
			move[idx] = dir
		}
	}

	// Walk the path backwards, recording the first canonical frame
	// each reference frame touches.
	mapping := make([]int, n)
	for i := range mapping {
		mapping[i] = -1
	}
	i, j := n, m
	for i > 0 && j > 0 {
		if j >= lo[i] && j < lo[i]+width {
			mapping[i-1] = j - 1
			switch move[i*width+(j-lo[i])] {
			case 0:
				i--
				j--
			case 1:
				i--
			default:
				j--
			}
			continue
		}
		// Outside the band; converge back toward it.
		if j < lo[i] {
			i--
		} else {
			j--
		}
	}

	// Fill frames the walk never visited (possible at the very start)
	// and enforce monotonicity.
	last := 0
	for idx := 0; idx < n; idx++ {
		if mapping[idx] < last {
			mapping[idx] = last
		}
		last = mapping[idx]
	}
	return mapping
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var _ Backend = (*DTWBackend)(nil)
