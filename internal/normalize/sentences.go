package normalize

import (
	"strings"
	"unicode"
)

var commonAbbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "mt": {}, "vs": {}, "etc": {}, "no": {}, "vol": {}, "rev": {},
	"fig": {}, "al": {}, "inc": {}, "ltd": {}, "co": {}, "dept": {}, "est": {},
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "jun": {}, "jul": {}, "aug": {},
	"sep": {}, "sept": {}, "oct": {}, "nov": {}, "dec": {},
	"a.m": {}, "p.m": {}, "e.g": {}, "i.e": {}, "u.s": {}, "u.k": {},
}

// SplitSentences splits text into sentence-like segments, each at most
// maxChars runes, falling back to clause-level splits for sentences
// longer than the limit. Synthesis and translation both batch chapter
// text through this so no provider call exceeds its input cap.
func SplitSentences(text string, maxChars int) []string {
	text = collapseWhitespace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = 4096
	}

	var segments []string
	start := 0

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if !isSentencePunctuation(ch) {
			continue
		}
		if ch == '.' && shouldSkipPeriodSplit(text, i) {
			continue
		}
		if !isSentenceBoundary(text, i) {
			continue
		}

		chunk := strings.TrimSpace(text[start : i+1])
		if chunk != "" {
			segments = append(segments, splitLongSegment(chunk, maxChars)...)
		}
		start = i + 1
	}

	tail := strings.TrimSpace(text[start:])
	if tail != "" {
		segments = append(segments, splitLongSegment(tail, maxChars)...)
	}

	return segments
}

// ChunkSentences groups the sentences of text into chunks of at most
// maxChars runes each, never breaking inside a sentence unless one
// sentence alone exceeds the limit.
func ChunkSentences(text string, maxChars int) []string {
	sentences := SplitSentences(text, maxChars)
	if len(sentences) == 0 {
		return nil
	}

	var (
		chunks  []string
		current strings.Builder
		length  int
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			length = 0
		}
	}

	for _, s := range sentences {
		n := len([]rune(s))
		if length > 0 && length+1+n > maxChars {
			flush()
		}
		if length > 0 {
			current.WriteByte(' ')
			length++
		}
		current.WriteString(s)
		length += n
	}
	flush()
	return chunks
}

func collapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	// Collapse whitespace/newlines so sentence scanning has stable boundaries.
	return strings.Join(strings.Fields(text), " ")
}

func isSentencePunctuation(ch byte) bool {
	return ch == '.' || ch == '!' || ch == '?'
}

func shouldSkipPeriodSplit(text string, idx int) bool {
	// Ellipsis
	if (idx > 0 && text[idx-1] == '.') || (idx+1 < len(text) && text[idx+1] == '.') {
		return true
	}

	// Decimal numbers
	if idx > 0 && idx+1 < len(text) && isASCIIDigit(text[idx-1]) && isASCIIDigit(text[idx+1]) {
		return true
	}

	token := tokenBeforePeriod(text, idx)
	if token == "" {
		return false
	}

	// Initials and single-letter abbreviations (e.g., "A.")
	if len(token) == 1 && isASCIIAlpha(token[0]) {
		return true
	}

	// Known abbreviations
	if _, ok := commonAbbreviations[strings.ToLower(token)]; ok {
		return true
	}

	return false
}

func tokenBeforePeriod(text string, idx int) string {
	i := idx - 1
	for i >= 0 && !isTokenBoundary(text[i]) {
		i--
	}
	return text[i+1 : idx]
}

func isSentenceBoundary(text string, punctIdx int) bool {
	i := punctIdx + 1
	for i < len(text) && isClosingPunctuation(text[i]) {
		i++
	}
	if i >= len(text) {
		return true
	}
	if !isASCIISpace(text[i]) {
		return false
	}
	for i < len(text) && isASCIISpace(text[i]) {
		i++
	}
	if i >= len(text) {
		return true
	}

	return isLikelySentenceStart(text, i)
}

func isLikelySentenceStart(text string, idx int) bool {
	if idx >= len(text) {
		return false
	}
	r := rune(text[idx])
	if unicode.IsUpper(r) || unicode.IsDigit(r) {
		return true
	}
	if isOpeningQuoteOrBracket(text[idx]) {
		j := idx + 1
		for j < len(text) && isOpeningQuoteOrBracket(text[j]) {
			j++
		}
		if j < len(text) {
			rr := rune(text[j])
			return unicode.IsUpper(rr) || unicode.IsDigit(rr)
		}
	}
	return false
}

func splitLongSegment(segment string, maxChars int) []string {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return nil
	}
	runes := []rune(segment)
	if len(runes) <= maxChars {
		return []string{segment}
	}

	var out []string
	start := 0
	for start < len(runes) {
		remaining := len(runes) - start
		if remaining <= maxChars {
			part := strings.TrimSpace(string(runes[start:]))
			if part != "" {
				out = append(out, part)
			}
			break
		}

		cut := start + maxChars
		if boundary := lastClauseBoundary(runes, start+maxChars/2, cut); boundary > start {
			cut = boundary + 1
		} else if boundary := nextClauseBoundary(runes, cut, minInt(start+maxChars+maxChars/4, len(runes))); boundary > start {
			cut = boundary + 1
		}

		part := strings.TrimSpace(string(runes[start:cut]))
		if part != "" {
			out = append(out, part)
		}
		start = cut
	}
	return out
}

func lastClauseBoundary(runes []rune, from, to int) int {
	if to > len(runes) {
		to = len(runes)
	}
	for i := to - 1; i >= from && i >= 0; i-- {
		if isClauseBoundaryRune(runes[i]) {
			return i
		}
	}
	return -1
}

func nextClauseBoundary(runes []rune, from, to int) int {
	if from < 0 {
		from = 0
	}
	if to > len(runes) {
		to = len(runes)
	}
	for i := from; i < to; i++ {
		if isClauseBoundaryRune(runes[i]) {
			return i
		}
	}
	return -1
}

func isClauseBoundaryRune(r rune) bool {
	switch r {
	case ',', ';', ':', '—', '-':
		return true
	default:
		return false
	}
}

func isTokenBoundary(ch byte) bool {
	return isASCIISpace(ch) || ch == '"' || ch == '\'' || ch == '(' || ch == ')' || ch == '[' || ch == ']' || ch == '{' || ch == '}'
}

func isASCIISpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}

func isASCIIDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isASCIIAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isClosingPunctuation(ch byte) bool {
	switch ch {
	case '"', '\'', ')', ']', '}':
		return true
	default:
		return false
	}
}

func isOpeningQuoteOrBracket(ch byte) bool {
	switch ch {
	case '"', '\'', '(', '[', '{':
		return true
	default:
		return false
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
