package epub

import (
	"fmt"
	"strings"

	"github.com/librettohq/libretto/internal/types"
)

// navigationDoc renders the EPUB 3 nav document from the book's TOC
// tree. Books whose TOC could not be parsed at ingest get a flat list
// of chapters instead.
func (w *containerWriter) navigationDoc() []byte {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>`)
	sb.WriteString(escapeXML(w.book.Title))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="styles/style.css"/>
</head>
<body>
  <nav epub:type="toc" id="toc">
    <h1>Table of Contents</h1>
`)

	entries := w.book.TOC
	if len(entries) == 0 {
		entries = w.flatTOC()
	}
	w.writeNavList(&sb, entries, 2)

	sb.WriteString(`  </nav>
</body>
</html>
`)
	return []byte(sb.String())
}

// flatTOC synthesizes one entry per chapter.
func (w *containerWriter) flatTOC() []types.TOCEntry {
	entries := make([]types.TOCEntry, 0, len(w.chapters))
	for _, ch := range w.chapters {
		entries = append(entries, types.TOCEntry{
			Title:        ch.title,
			ChapterIndex: ch.index,
		})
	}
	return entries
}

func (w *containerWriter) writeNavList(sb *strings.Builder, entries []types.TOCEntry, depth int) {
	pad := strings.Repeat("  ", depth)
	sb.WriteString(pad + "<ol>\n")
	for _, e := range entries {
		sb.WriteString(pad + "  <li>\n")
		title := e.Title
		if title == "" {
			title = w.chapterTitle(e.ChapterIndex)
		}
		sb.WriteString(fmt.Sprintf("%s    <a href=\"%s\">%s</a>\n",
			pad, w.chapterHref(e.ChapterIndex), escapeXML(title)))
		if len(e.Children) > 0 {
			w.writeNavList(sb, e.Children, depth+2)
		}
		sb.WriteString(pad + "  </li>\n")
	}
	sb.WriteString(pad + "</ol>\n")
}

// chapterHref links a TOC entry to its exported chapter document.
// Entries whose target fell outside the exported spine land on the
// first chapter rather than producing a dangling reference.
func (w *containerWriter) chapterHref(index int) string {
	if !w.hasChapter(index) && len(w.chapters) > 0 {
		index = w.chapters[0].index
	}
	return "text/" + chapterFile(index)
}

func (w *containerWriter) hasChapter(index int) bool {
	for _, ch := range w.chapters {
		if ch.index == index {
			return true
		}
	}
	return false
}

func (w *containerWriter) chapterTitle(index int) string {
	for _, ch := range w.chapters {
		if ch.index == index {
			return ch.title
		}
	}
	return fmt.Sprintf("Chapter %d", index+1)
}

// ncx renders toc.ncx for EPUB 2 reading systems.
func (w *containerWriter) ncx() []byte {
	var sb strings.Builder

	entries := w.book.TOC
	if len(entries) == 0 {
		entries = w.flatTOC()
	}

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
    <meta name="dtb:uid" content="urn:uuid:`)
	sb.WriteString(w.book.ID)
	sb.WriteString(`"/>
    <meta name="dtb:depth" content="`)
	sb.WriteString(fmt.Sprintf("%d", tocDepth(entries)))
	sb.WriteString(`"/>
    <meta name="dtb:totalPageCount" content="0"/>
    <meta name="dtb:maxPageNumber" content="0"/>
  </head>
  <docTitle>
    <text>`)
	sb.WriteString(escapeXML(w.book.Title))
	sb.WriteString(`</text>
  </docTitle>
  <navMap>
`)

	order := 0
	w.writeNavPoints(&sb, entries, 2, &order)

	sb.WriteString(`  </navMap>
</ncx>
`)
	return []byte(sb.String())
}

func (w *containerWriter) writeNavPoints(sb *strings.Builder, entries []types.TOCEntry, depth int, order *int) {
	pad := strings.Repeat("  ", depth)
	for _, e := range entries {
		*order++
		title := e.Title
		if title == "" {
			title = w.chapterTitle(e.ChapterIndex)
		}
		sb.WriteString(fmt.Sprintf("%s<navPoint id=\"navpoint-%d\" playOrder=\"%d\">\n", pad, *order, *order))
		sb.WriteString(fmt.Sprintf("%s  <navLabel><text>%s</text></navLabel>\n", pad, escapeXML(title)))
		sb.WriteString(fmt.Sprintf("%s  <content src=\"%s\"/>\n", pad, w.chapterHref(e.ChapterIndex)))
		if len(e.Children) > 0 {
			w.writeNavPoints(sb, e.Children, depth+1, order)
		}
		sb.WriteString(pad + "</navPoint>\n")
	}
}

func tocDepth(entries []types.TOCEntry) int {
	depth := 1
	for _, e := range entries {
		if len(e.Children) > 0 {
			if d := tocDepth(e.Children) + 1; d > depth {
				depth = d
			}
		}
	}
	return depth
}
