package epub

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// smilDocument renders the media overlay for one chapter. Each timed
// sync entry becomes a <par> pairing the token's span with its clip of
// the canonical audio; skipped and untimed entries are omitted.
func smilDocument(ch exportChapter) []byte {
	var sb strings.Builder

	textPath := "../text/" + chapterFile(ch.index)
	audioPath := "../audio/" + audioFile(ch.index, ch.audioExt)

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<smil xmlns="http://www.w3.org/ns/SMIL" xmlns:epub="http://www.idpf.org/2007/ops" version="3.0">
  <body>
`)
	sb.WriteString(fmt.Sprintf("    <seq id=\"seq-%04d\" epub:textref=\"%s\">\n", ch.index, textPath))

	for _, e := range ch.sync.Entries {
		if !e.Timed() {
			continue
		}
		begin, end := clipBounds(*e.ClipBegin, *e.ClipEnd)
		sb.WriteString(fmt.Sprintf(`      <par id="par-%s">
        <text src="%s#%s"/>
        <audio src="%s" clipBegin="%s" clipEnd="%s"/>
      </par>
`, e.TokenID, textPath, e.TokenID, audioPath, begin, end))
	}

	sb.WriteString("    </seq>\n  </body>\n</smil>\n")
	return []byte(sb.String())
}

// clipBounds renders a clip interval as clock values. Bounds are
// rounded to milliseconds; a clip short enough to collapse under
// rounding keeps a 1 ms width so begin stays strictly before end.
func clipBounds(begin, end float64) (string, string) {
	b := int(math.Round(begin * 1000))
	e := int(math.Round(end * 1000))
	if e <= b {
		e = b + 1
	}
	return clockTimeMS(b), clockTimeMS(e)
}

// formatClockTime renders seconds as a SMIL full clock value.
func formatClockTime(seconds float64) string {
	return clockTimeMS(int(math.Round(seconds * 1000)))
}

// clockTimeMS renders milliseconds as HH:MM:SS.mmm.
func clockTimeMS(ms int) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// parseClockValue reads the SMIL clock forms the pipeline emits or may
// encounter: full clock (HH:MM:SS.mmm), partial clock (MM:SS.mmm), and
// timecount ("12.345s", "98ms", "1.5min", "2h", bare seconds).
func parseClockValue(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("empty clock value")
	}

	if strings.Contains(v, ":") {
		parts := strings.Split(v, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return 0, fmt.Errorf("malformed clock value %q", v)
		}
		var total float64
		for _, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return 0, fmt.Errorf("malformed clock value %q", v)
			}
			total = total*60 + f
		}
		return total, nil
	}

	scale := 1.0
	switch {
	case strings.HasSuffix(v, "ms"):
		scale, v = 0.001, strings.TrimSuffix(v, "ms")
	case strings.HasSuffix(v, "s"):
		v = strings.TrimSuffix(v, "s")
	case strings.HasSuffix(v, "min"):
		scale, v = 60, strings.TrimSuffix(v, "min")
	case strings.HasSuffix(v, "h"):
		scale, v = 3600, strings.TrimSuffix(v, "h")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("malformed clock value %q", v)
	}
	return f * scale, nil
}
