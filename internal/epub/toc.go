package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/librettohq/libretto/internal/types"
)

// parseTOC extracts the table of contents, preferring the EPUB 3 nav
// document and falling back to the EPUB 2 NCX. Entry hrefs are
// resolved to spine indices; unresolved entries keep chapter index 0.
func (r *Reader) parseTOC() []types.TOCEntry {
	spineMap := make(map[string]int, len(r.Spine))
	for i, si := range r.Spine {
		spineMap[si.Href] = i
	}

	if toc, ok := r.parseNavTOC(spineMap); ok {
		return toc
	}
	if toc, ok := r.parseNCXTOC(spineMap); ok {
		return toc
	}
	return []types.TOCEntry{}
}

// parseNavTOC parses the manifest item carrying the nav property.
func (r *Reader) parseNavTOC(spineMap map[string]int) ([]types.TOCEntry, bool) {
	var navItem *ManifestItem
	for _, item := range r.Manifest {
		if item.HasProperty("nav") {
			navItem = item
			break
		}
	}
	if navItem == nil {
		return nil, false
	}

	data, err := r.ReadItem(navItem.Href)
	if err != nil {
		return nil, false
	}

	toc, err := parseNavDocument(data, navItem.Href)
	if err != nil {
		return nil, false
	}

	assignChapterIndices(toc, spineMap)
	return toc, true
}

// parseNCXTOC parses the NCX item referenced by the spine's toc attribute.
func (r *Reader) parseNCXTOC(spineMap map[string]int) ([]types.TOCEntry, bool) {
	tocID := r.pkg.Spine.Toc
	if tocID == "" {
		return nil, false
	}

	ncxItem, ok := r.manifestByID[tocID]
	if !ok {
		return nil, false
	}

	data, err := r.ReadItem(ncxItem.Href)
	if err != nil {
		return nil, false
	}

	toc, err := parseNCX(data, ncxItem.Href)
	if err != nil {
		return nil, false
	}

	assignChapterIndices(toc, spineMap)
	return toc, true
}

// assignChapterIndices recursively resolves entry hrefs (without
// fragment) against the spine map.
func assignChapterIndices(items []types.TOCEntry, spineMap map[string]int) {
	for i := range items {
		if items[i].Href != "" {
			if idx, ok := spineMap[hrefWithoutFragment(items[i].Href)]; ok {
				items[i].ChapterIndex = idx
			}
		}
		if len(items[i].Children) > 0 {
			assignChapterIndices(items[i].Children, spineMap)
		}
	}
}

func hrefWithoutFragment(href string) string {
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		return href[:idx]
	}
	return href
}

// --- NCX decoding (EPUB 2) ---

type ncxDocument struct {
	XMLName xml.Name  `xml:"ncx"`
	NavMap  ncxNavMap `xml:"navMap"`
}

type ncxNavMap struct {
	NavPoints []ncxNavPoint `xml:"navPoint"`
}

type ncxNavPoint struct {
	ID       string        `xml:"id,attr"`
	Label    ncxNavLabel   `xml:"navLabel"`
	Content  ncxContent    `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

type ncxNavLabel struct {
	Text string `xml:"text"`
}

type ncxContent struct {
	Src string `xml:"src,attr"`
}

// parseNCX parses NCX data into a TOC tree. ncxPath is the
// ZIP-internal path of the NCX file, used to resolve relative hrefs.
func parseNCX(data []byte, ncxPath string) ([]types.TOCEntry, error) {
	data = preprocessHTMLEntities(data)
	data = stripBOM(data)

	var doc ncxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse NCX: %w", err)
	}

	return convertNavPoints(doc.NavMap.NavPoints, ncxPath), nil
}

func convertNavPoints(points []ncxNavPoint, ncxPath string) []types.TOCEntry {
	if len(points) == 0 {
		return nil
	}

	items := make([]types.TOCEntry, 0, len(points))
	for _, np := range points {
		item := types.TOCEntry{
			Title: strings.TrimSpace(np.Label.Text),
		}

		if src := strings.TrimSpace(np.Content.Src); src != "" {
			if resolved := resolveRelativePath(ncxPath, src); resolved != "" {
				item.Href = resolved
			}
		}

		item.Children = convertNavPoints(np.Children, ncxPath)
		items = append(items, item)
	}

	return items
}

// --- Nav document parsing (EPUB 3) ---

// parseNavDocument parses an XHTML nav document, returning the tree
// under the nav element whose epub:type contains "toc".
func parseNavDocument(data []byte, basePath string) ([]types.TOCEntry, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse nav document: %w", err)
	}

	var navNodes []*html.Node
	var findNavs func(*html.Node)
	findNavs = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "nav" {
			navNodes = append(navNodes, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findNavs(c)
		}
	}
	findNavs(doc)

	for _, nav := range navNodes {
		if hasEpubType(nav, "toc") {
			if ol := findFirstChildElement(nav, "ol"); ol != nil {
				return parseNavOL(ol, basePath), nil
			}
		}
	}

	return nil, nil
}

func parseNavOL(ol *html.Node, basePath string) []types.TOCEntry {
	var items []types.TOCEntry
	for c := ol.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "li" {
			items = append(items, parseNavLI(c, basePath))
		}
	}
	return items
}

// parseNavLI reads one list item: an <a> (or <span> fallback) for
// title and href, plus a nested <ol> for children.
func parseNavLI(li *html.Node, basePath string) types.TOCEntry {
	var item types.TOCEntry

	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "a":
			if item.Href == "" {
				if href := navGetAttr(c, "href"); href != "" {
					if resolved := resolveRelativePath(basePath, href); resolved != "" {
						item.Href = resolved
					}
				}
				item.Title = strings.TrimSpace(nodeTextContent(c))
			}
		case "span":
			if item.Title == "" {
				item.Title = strings.TrimSpace(nodeTextContent(c))
			}
		case "ol":
			item.Children = parseNavOL(c, basePath)
		}
	}

	return item
}

// hasEpubType checks the node's epub:type attribute for a
// space-separated token.
func hasEpubType(n *html.Node, typeName string) bool {
	val := navGetAttr(n, "epub:type")
	for _, t := range strings.Fields(val) {
		if t == typeName {
			return true
		}
	}
	return false
}

func navGetAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findFirstChildElement(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
		if found := findFirstChildElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func nodeTextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeTextContent(c))
	}
	return sb.String()
}
