// Package normalize turns raw chapter XHTML into the pipeline's
// canonical form: scripts and event handlers stripped, asset URIs
// rebased, and every word of running text wrapped in an addressable
// <span id="wN"> whose ids are stable across re-runs on identical
// input.
package normalize

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/librettohq/libretto/internal/types"
)

// AssetRewriter maps a raw URL-bearing attribute value to its
// rewritten form. Returning false leaves the value untouched, which
// is how external URIs and cross-chapter links survive.
type AssetRewriter func(ref string) (string, bool)

// Result is the output of normalizing one chapter.
type Result struct {
	HTML      []byte
	Tokens    types.TokenTable
	Title     string
	WordCount int
}

// urlAttrs are the attribute keys always passed through the rewriter.
var urlAttrs = map[string]bool{
	"src":    true,
	"href":   true,
	"poster": true,
}

// skipAtoms are elements whose text is not running text and is never
// tokenized.
var skipAtoms = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Pre:    true,
	atom.Code:   true,
	atom.Svg:    true,
	atom.Math:   true,
}

// Chapter normalizes one chapter document. Malformed markup is
// recovered by the lenient HTML parser rather than rejected.
func Chapter(xhtml []byte, rewrite AssetRewriter) (*Result, error) {
	proc := &xhtmlProcessor{}
	pre := proc.preProcess(xhtml)

	doc, err := html.Parse(bytes.NewReader(pre))
	if err != nil {
		return nil, fmt.Errorf("parse chapter: %w", err)
	}

	sanitize(doc)
	if rewrite != nil {
		rebaseURLs(doc, rewrite)
	}

	c := &tokenCounter{}
	if body := findElement(doc, atom.Body); body != nil {
		tokenizeNode(body, c)
	}

	title := extractTitle(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("render chapter: %w", err)
	}

	return &Result{
		HTML:      proc.postProcess(buf.Bytes()),
		Tokens:    c.tokens,
		Title:     title,
		WordCount: len(c.tokens),
	}, nil
}

// sanitize removes <script> elements, <link rel="import">, and
// event-handler attributes. Inline styles and semantic structure stay.
func sanitize(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && shouldRemove(c) {
			n.RemoveChild(c)
		} else {
			sanitize(c)
		}
		c = next
	}

	if n.Type == html.ElementNode {
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if strings.HasPrefix(strings.ToLower(a.Key), "on") {
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
	}
}

func shouldRemove(n *html.Node) bool {
	if n.DataAtom == atom.Script {
		return true
	}
	if n.DataAtom == atom.Link {
		for _, a := range n.Attr {
			if a.Key == "rel" && strings.EqualFold(strings.TrimSpace(a.Val), "import") {
				return true
			}
		}
	}
	return false
}

// rebaseURLs passes every URL-bearing attribute through the rewriter.
// data-* attributes are offered too; the rewriter declines those that
// do not resolve to a package asset.
func rebaseURLs(n *html.Node, rewrite AssetRewriter) {
	if n.Type == html.ElementNode {
		for i, a := range n.Attr {
			if !urlAttrs[a.Key] && !strings.HasPrefix(a.Key, "data-") {
				continue
			}
			if rewritten, ok := rewrite(a.Val); ok {
				n.Attr[i].Val = rewritten
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		rebaseURLs(c, rewrite)
	}
}

// tokenCounter assigns chapter-scoped ascending token ids.
type tokenCounter struct {
	n      int
	tokens types.TokenTable
}

func (c *tokenCounter) next(surface string) string {
	id := fmt.Sprintf("w%d", c.n)
	c.n++
	c.tokens = append(c.tokens, types.Token{
		ID:         id,
		Surface:    surface,
		Normalized: NormalizeToken(surface),
	})
	return id
}

// adopt records an existing token span's id and surface, keeping the
// counter ahead of the highest adopted id.
func (c *tokenCounter) adopt(id, surface string) {
	c.tokens = append(c.tokens, types.Token{
		ID:         id,
		Surface:    surface,
		Normalized: NormalizeToken(surface),
	})
	var n int
	if _, err := fmt.Sscanf(id, "w%d", &n); err == nil && n >= c.n {
		c.n = n + 1
	}
}

// tokenSpanID matches ids the tokenizer itself assigns. Spans carrying
// one are adopted unchanged, which makes normalization idempotent and
// keeps ids stable when a previously exported chapter is re-ingested.
var tokenSpanID = regexp.MustCompile(`^w[0-9]+$`)

// tokenizeNode walks the tree in document order, wrapping word
// segments of each text node. Elements in skipAtoms keep their text
// untouched; pre-existing token spans are adopted, not re-wrapped.
func tokenizeNode(n *html.Node, c *tokenCounter) {
	if n.Type == html.ElementNode && skipAtoms[n.DataAtom] {
		return
	}

	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		switch {
		case isTokenSpan(child):
			c.adopt(spanID(child), nodeText(child))
		case child.Type == html.TextNode && hasWordContent(child.Data):
			wrapTextNode(n, child, c)
		default:
			tokenizeNode(child, c)
		}
		child = next
	}
}

func isTokenSpan(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.Span && tokenSpanID.MatchString(spanID(n))
}

func spanID(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "id" {
			return a.Val
		}
	}
	return ""
}

// wrapTextNode replaces a text node with a sequence of word spans and
// plain-text filler so the rendered text content is unchanged.
func wrapTextNode(parent, textNode *html.Node, c *tokenCounter) {
	segs := splitSegments(textNode.Data)
	if len(segs) == 0 {
		return
	}

	var newNodes []*html.Node
	for _, seg := range segs {
		if !seg.word {
			newNodes = append(newNodes, &html.Node{
				Type: html.TextNode,
				Data: seg.text,
			})
			continue
		}

		span := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Span,
			Data:     "span",
			Attr: []html.Attribute{
				{Key: "id", Val: c.next(seg.text)},
			},
		}
		span.AppendChild(&html.Node{
			Type: html.TextNode,
			Data: seg.text,
		})
		newNodes = append(newNodes, span)
	}

	for _, nn := range newNodes {
		parent.InsertBefore(nn, textNode)
	}
	parent.RemoveChild(textNode)
}

// extractTitle returns the first non-empty heading, preferring h1
// over h2 over h3, falling back to the document title.
func extractTitle(doc *html.Node) string {
	for _, a := range []atom.Atom{atom.H1, atom.H2, atom.H3, atom.Title} {
		if n := findElement(doc, a); n != nil {
			if t := strings.TrimSpace(nodeText(n)); t != "" {
				return t
			}
		}
	}
	return ""
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}
