package align

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/librettohq/libretto/internal/metrics"
	"github.com/librettohq/libretto/internal/normalize"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/types"
)

// ASRBackend transcribes the canonical audio with word timestamps and
// matches the transcript to the chapter tokens on normalized forms.
// Tokens the transcript never utters stay untimed.
type ASRBackend struct {
	provider providers.ASRProvider
	name     string
	metrics  *metrics.Recorder
}

// NewASRBackend returns the forced-transcript backend. providerName
// attributes recorded usage; rec may be nil. A nil provider, or one
// that reports providers.ErrNotConfigured at call time, makes the
// backend step aside under automatic selection.
func NewASRBackend(provider providers.ASRProvider, providerName string, rec *metrics.Recorder) *ASRBackend {
	return &ASRBackend{provider: provider, name: providerName, metrics: rec}
}

func (b *ASRBackend) Name() string { return "asr" }

// asrPromptLimit bounds the biasing prompt sent with the transcription
// request. Whisper reads only a short context window anyway.
const asrPromptLimit = 900

func (b *ASRBackend) Align(ctx context.Context, req *Request) ([]Placement, error) {
	if b.provider == nil {
		return nil, errNotEligible
	}

	data, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("read canonical audio: %w", err)
	}

	prompt := req.Tokens.Text()
	if len(prompt) > asrPromptLimit {
		prompt = prompt[:asrPromptLimit]
	}

	result, err := b.provider.Transcribe(ctx, &providers.ASRRequest{
		Audio:    data,
		Filename: filepath.Base(req.AudioPath),
		Language: req.Language,
		Prompt:   prompt,
	})
	if errors.Is(err, providers.ErrNotConfigured) {
		return nil, errNotEligible
	}
	b.metrics.RecordTranscription(ctx, metrics.RecordOpts{
		BookID:   req.BookID,
		Provider: b.name,
	}, result, err)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("transcribe: %s", result.ErrorMessage)
	}
	if len(result.Words) == 0 {
		return nil, fmt.Errorf("transcript carries no word timestamps")
	}

	return matchTranscript(req.Tokens, result.Words), nil
}

// matchTranscript pairs chapter tokens with transcript words by their
// normalized forms, taking the longest common subsequence so that
// matches stay in order on both sides. Matched tokens adopt the word's
// interval; everything else stays untimed.
func matchTranscript(tokens types.TokenTable, words []providers.WordStamp) []Placement {
	tokenForms := make([]string, len(tokens))
	for i, tok := range tokens {
		tokenForms[i] = tok.Normalized
	}

	// Transcript entries that reduce to nothing (bare punctuation)
	// are dropped; the original index stays around for timing lookup.
	wordForms := make([]string, 0, len(words))
	wordIdx := make([]int, 0, len(words))
	for i, w := range words {
		form := normalize.NormalizeWord(w.Text)
		if form == "" {
			continue
		}
		wordForms = append(wordForms, form)
		wordIdx = append(wordIdx, i)
	}
	if len(wordForms) == 0 {
		return nil
	}

	matches := lcsPairs(tokenForms, wordForms)

	placements := make([]Placement, 0, len(matches))
	for _, m := range matches {
		w := words[wordIdx[m.b]]
		if w.End <= w.Start {
			continue
		}
		placements = append(placements, Placement{
			TokenID: tokens[m.a].ID,
			Begin:   w.Start,
			End:     w.End,
		})
	}
	return placements
}

// pair is one matched (token index, word index).
type pair struct{ a, b int }

// lcsPairs computes a longest common subsequence of the two string
// sequences and returns the matched index pairs in order. Long inputs
// are solved within a diagonal band: ASR output follows the text
// closely, so drift beyond the band is already a failed alignment and
// the dropped matches surface as low coverage.
func lcsPairs(a, b []string) []pair {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return nil
	}

	half := bandHalfWidth(n, m)

	// lo[i] is the first b-index (1-based) in row i's band.
	lo := make([]int, n+1)
	width := 2*half + 1
	if width > m {
		width = m
	}
	for i := 0; i <= n; i++ {
		center := 1
		if n > 0 {
			center = i * m / n
		}
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

	// Cells outside the band read as zero, an admissible lower bound
	// that keeps matched pairs monotone.
	at := func(dp []int32, i, j int) int32 {
		if j < lo[i] || j >= lo[i]+width {
			return 0
		}
		return dp[i*width+(j-lo[i])]
	}

	dp := make([]int32, (n+1)*width)
	for i := 1; i <= n; i++ {
		for j := lo[i]; j < lo[i]+width && j <= m; j++ {
			var best int32
			if a[i-1] == b[j-1] {
				best = at(dp, i-1, j-1) + 1
			}
			if up := at(dp, i-1, j); up > best {
				best = up
			}
			if left := at(dp, i, j-1); left > best {
				best = left
			}
			dp[i*width+(j-lo[i])] = best
		}
	}

	// Trace back from the bottom-right in-band cell.
	var out []pair
	i, j := n, lo[n]+width-1
	if j > m {
		j = m
	}
	for i > 0 && j > 0 {
		if j < lo[i] {
			i--
			continue
		}
		if j >= lo[i]+width {
			j--
			continue
		}
		cur := at(dp, i, j)
		if cur == 0 {
			break
		}
		if a[i-1] == b[j-1] && cur == at(dp, i-1, j-1)+1 {
			out = append(out, pair{a: i - 1, b: j - 1})
			i--
			j--
			continue
		}
		if at(dp, i-1, j) == cur {
			i--
			continue
		}
		j--
	}

	// Reverse into ascending order.
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// bandHalfWidth sizes the LCS band: generous for short chapters (where
// it degenerates to the exact algorithm), bounded for long ones.
func bandHalfWidth(n, m int) int {
	diff := n - m
	if diff < 0 {
		diff = -diff
	}
	half := diff + 64
	if n < 2000 && m < 2000 {
		return max(half, n, m)
	}
	if half > 1024 {
		half = 1024
	}
	return half
}

var _ Backend = (*ASRBackend)(nil)
