package normalize

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// segment is one UAX #29 word segment of a text node. Segments are
// contiguous and cover the whole input, so re-joining them restores
// the original text exactly.
type segment struct {
	text string
	word bool
}

// splitSegments splits text on Unicode word boundaries. A segment
// counts as a word when it carries at least one letter, mark or
// digit; punctuation and whitespace runs do not.
func splitSegments(text string) []segment {
	if text == "" {
		return nil
	}
	var segs []segment
	iter := words.FromString(text)
	for iter.Next() {
		v := iter.Value()
		segs = append(segs, segment{text: v, word: isWordSegment(v)})
	}
	return segs
}

func isWordSegment(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// hasWordContent reports whether any segment of text would become a
// token.
func hasWordContent(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Words returns the word segments of text in order, exactly as
// tokenization would emit them. Callers use it to count how many
// chapter tokens a span of rendered text covers.
func Words(text string) []string {
	var out []string
	for _, seg := range splitSegments(text) {
		if seg.word {
			out = append(out, seg.text)
		}
	}
	return out
}

// NormalizeToken produces the matching form of a surface token:
// combining marks stripped, then Unicode case folding. Alignment and
// search compare against this form, never the surface.
func NormalizeToken(surface string) string {
	remover := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(remover, surface)
	if err != nil {
		stripped = surface
	}
	return cases.Fold().String(stripped)
}

// NormalizeWord normalizes a free-text word, such as an ASR or TTS
// timestamp label, for comparison against token normalized forms.
// Words from transcripts arrive with attached punctuation ("world.")
// that tokens never carry, so the edges are trimmed first; internal
// punctuation ("don't") stays.
func NormalizeWord(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsDigit(r)
	})
	return NormalizeToken(s)
}
