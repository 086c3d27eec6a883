package normalize

import (
	"bytes"
	"regexp"
	"strings"
)

// xhtmlProcessor preserves XHTML framing across an html.Parse round
// trip. Go's html package parses as HTML5 and mangles XML
// declarations and self-closed void elements, so those are extracted
// before parsing and restored after rendering.
type xhtmlProcessor struct {
	xmlDeclaration string
}

var xmlDeclPattern = regexp.MustCompile(`^<\?xml[^?]*\?>`)

var commentedDeclPattern = regexp.MustCompile(`<!--\?xml[^-]*-->`)

// voidElementPattern matches HTML5 void element open tags so they can
// be re-self-closed for XHTML output.
var voidElementPattern = regexp.MustCompile(
	`<(area|base|br|col|embed|hr|img|input|link|meta|param|source|track|wbr)(\s[^>]*)?>`)

// preProcess extracts the XML declaration before html.Parse.
func (p *xhtmlProcessor) preProcess(content []byte) []byte {
	s := string(content)
	if match := xmlDeclPattern.FindString(s); match != "" {
		p.xmlDeclaration = match
		s = strings.TrimPrefix(s, match)
	}
	return []byte(s)
}

// postProcess restores XHTML form after html.Render.
func (p *xhtmlProcessor) postProcess(content []byte) []byte {
	var buf bytes.Buffer

	if p.xmlDeclaration != "" {
		buf.WriteString(p.xmlDeclaration)
		buf.WriteString("\n")
	}

	s := commentedDeclPattern.ReplaceAllString(string(content), "")

	s = voidElementPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasSuffix(match, "/>") {
			return match
		}
		return strings.TrimSuffix(match, ">") + "/>"
	})

	buf.WriteString(s)
	return buf.Bytes()
}
