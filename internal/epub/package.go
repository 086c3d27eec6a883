package epub

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// opf renders the package document: Dublin Core metadata, overlay
// durations, the manifest of every container resource, and the spine
// in original order.
func (w *containerWriter) opf() []byte {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)

	sb.WriteString(fmt.Sprintf("    <dc:identifier id=\"pub-id\">urn:uuid:%s</dc:identifier>\n", w.book.ID))
	sb.WriteString(fmt.Sprintf("    <dc:title>%s</dc:title>\n", escapeXML(w.book.Title)))
	if w.book.Author != "" {
		sb.WriteString(fmt.Sprintf("    <dc:creator>%s</dc:creator>\n", escapeXML(w.book.Author)))
	}

	lang := w.book.Language
	if lang == "" {
		lang = "en"
	}
	sb.WriteString(fmt.Sprintf("    <dc:language>%s</dc:language>\n", escapeXML(lang)))
	if w.book.Publisher != "" {
		sb.WriteString(fmt.Sprintf("    <dc:publisher>%s</dc:publisher>\n", escapeXML(w.book.Publisher)))
	}
	sb.WriteString(fmt.Sprintf("    <meta property=\"dcterms:modified\">%s</meta>\n",
		time.Now().UTC().Format("2006-01-02T15:04:05Z")))

	var total float64
	for _, ch := range w.chapters {
		if ch.sync == nil {
			continue
		}
		total += ch.sync.Duration
		sb.WriteString(fmt.Sprintf("    <meta property=\"media:duration\" refines=\"#%s\">%s</meta>\n",
			overlayItemID(ch.index), formatClockTime(ch.sync.Duration)))
	}
	if total > 0 {
		sb.WriteString(fmt.Sprintf("    <meta property=\"media:duration\">%s</meta>\n", formatClockTime(total)))
		sb.WriteString("    <meta property=\"media:active-class\">-epub-media-overlay-active</meta>\n")
	}

	if w.coverAsset() != "" {
		sb.WriteString("    <meta name=\"cover\" content=\"cover-image\"/>\n")
	}

	sb.WriteString("  </metadata>\n\n  <manifest>\n")
	sb.WriteString("    <item id=\"nav\" href=\"nav.xhtml\" media-type=\"application/xhtml+xml\" properties=\"nav\"/>\n")
	sb.WriteString("    <item id=\"ncx\" href=\"toc.ncx\" media-type=\"application/x-dtbncx+xml\"/>\n")
	sb.WriteString("    <item id=\"style\" href=\"styles/style.css\" media-type=\"text/css\"/>\n")

	for _, ch := range w.chapters {
		if ch.sync != nil {
			sb.WriteString(fmt.Sprintf("    <item id=\"%s\" href=\"text/%s\" media-type=\"application/xhtml+xml\" media-overlay=\"%s\"/>\n",
				chapterItemID(ch.index), chapterFile(ch.index), overlayItemID(ch.index)))
		} else {
			sb.WriteString(fmt.Sprintf("    <item id=\"%s\" href=\"text/%s\" media-type=\"application/xhtml+xml\"/>\n",
				chapterItemID(ch.index), chapterFile(ch.index)))
		}
	}

	for _, ch := range w.chapters {
		if ch.sync == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("    <item id=\"%s\" href=\"smil/%s\" media-type=\"application/smil+xml\"/>\n",
			overlayItemID(ch.index), smilFile(ch.index)))
		sb.WriteString(fmt.Sprintf("    <item id=\"%s\" href=\"audio/%s\" media-type=\"%s\"/>\n",
			audioItemID(ch.index), audioFile(ch.index, ch.audioExt), audioMediaType(ch.audioExt)))
	}

	cover := w.coverAsset()
	for i, a := range w.assets {
		props := ""
		id := fmt.Sprintf("asset-%04d", i)
		if a.rel == cover {
			props = ` properties="cover-image"`
			id = "cover-image"
		}
		sb.WriteString(fmt.Sprintf("    <item id=\"%s\" href=\"assets/%s\" media-type=\"%s\"%s/>\n",
			id, escapeXML(escapeHref(a.rel)), assetMediaType(a.rel, a.path), props))
	}

	sb.WriteString("  </manifest>\n\n  <spine toc=\"ncx\">\n")
	for _, ch := range w.chapters {
		sb.WriteString(fmt.Sprintf("    <itemref idref=\"%s\"/>\n", chapterItemID(ch.index)))
	}
	sb.WriteString("  </spine>\n</package>\n")

	return []byte(sb.String())
}

// coverAsset returns the asset rel path carrying the cover image, or
// "" when the book has no resolvable cover.
func (w *containerWriter) coverAsset() string {
	if w.book.CoverHref == "" {
		return ""
	}
	for _, a := range w.assets {
		if a.rel == w.book.CoverHref {
			return a.rel
		}
	}
	return ""
}

// audioMediaType maps an audio file extension to its manifest media
// type.
func audioMediaType(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp3":
		return "audio/mpeg"
	case "m4a", "m4b", "mp4", "aac":
		return "audio/mp4"
	case "ogg", "oga", "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// assetMediaTypes covers the types common in EPUB containers, so the
// manifest stays deterministic for them regardless of file content.
var assetMediaTypes = map[string]string{
	".css":   "text/css",
	".js":    "text/javascript",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".webp":  "image/webp",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".xhtml": "application/xhtml+xml",
	".html":  "text/html",
	".xml":   "application/xml",
	".mp3":   "audio/mpeg",
	".m4a":   "audio/mp4",
}

// assetMediaType resolves an asset's manifest media type by extension,
// sniffing the file content for extensions the table does not know.
func assetMediaType(rel, path string) string {
	if mt, ok := assetMediaTypes[strings.ToLower(filepath.Ext(rel))]; ok {
		return mt
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		s := mt.String()
		if i := strings.IndexByte(s, ';'); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSpace(s)
	}
	return "application/octet-stream"
}

// escapeHref percent-encodes each path segment so stored asset names
// with spaces or reserved characters survive as manifest hrefs.
func escapeHref(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// escapeXML escapes the five XML special characters.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
