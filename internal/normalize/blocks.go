package normalize

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Block is one block-level run of text extracted from a chapter,
// tagged with the element it came from.
type Block struct {
	Tag  string
	Text string
}

// blockAtoms are elements treated as translation units.
var blockAtoms = map[atom.Atom]bool{
	atom.P:          true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Blockquote: true,
	atom.Figcaption: true,
	atom.Td:         true,
	atom.Th:         true,
	atom.Dt:         true,
	atom.Dd:         true,
	atom.Caption:    true,
}

// ExtractBlocks returns the text of every block-level element carrying
// word content, in document order. Nested blocks are reported at the
// innermost level so items inside lists or quotes appear once.
func ExtractBlocks(doc []byte) ([]Block, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	var blocks []Block
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && blockAtoms[n.DataAtom] && !containsBlock(n) {
			text := collapseWhitespace(nodeText(n))
			if hasWordContent(text) {
				blocks = append(blocks, Block{Tag: n.Data, Text: text})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if body := findElement(root, atom.Body); body != nil {
		walk(body)
	}
	return blocks, nil
}

func containsBlock(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && blockAtoms[c.DataAtom] {
			return true
		}
		if containsBlock(c) {
			return true
		}
	}
	return false
}
