package audio

import (
	"fmt"
	"strings"
)

// CodecError reports a failed codec invocation. Stderr carries the tail
// of the tool's diagnostic output, enough to see the actual complaint
// without logging megabytes of progress lines.
type CodecError struct {
	Op     string // "transcode", "cut", "concat"
	Err    error
	Stderr string
}

func (e *CodecError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("codec %s failed: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("codec %s failed: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// stderrTail keeps the last few lines of tool output, capped in bytes.
func stderrTail(output []byte) string {
	const maxBytes = 512
	s := strings.TrimSpace(string(output))
	if len(s) > maxBytes {
		s = s[len(s)-maxBytes:]
		if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
			s = s[i+1:]
		}
	}
	return s
}
