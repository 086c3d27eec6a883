package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/antchfx/xmlquery"
)

// clipTolerance absorbs millisecond rounding of adjacent clip bounds.
const clipTolerance = 0.002

// ValidateExport re-opens a finished container and verifies the
// invariants reading systems rely on: every manifest href resolves to
// an archive entry, the spine and media-overlay attributes reference
// manifest items, every SMIL text reference resolves to an element id
// in its chapter document, every SMIL audio reference resolves to a
// manifest item, and clip times are monotone within each overlay.
func ValidateExport(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open container: %w", err)
	}

	opfPath, err := parseContainer(zr)
	if err != nil {
		return err
	}
	opfFile := findFileInsensitive(zr, opfPath)
	if opfFile == nil {
		return fmt.Errorf("rootfile %s not in archive", opfPath)
	}
	opfData, err := readZipFile(opfFile)
	if err != nil {
		return err
	}
	opfDoc, err := xmlquery.Parse(bytes.NewReader(opfData))
	if err != nil {
		return fmt.Errorf("parse package document: %w", err)
	}

	v := &exportValidator{
		zr:      zr,
		opfPath: opfPath,
		byID:    make(map[string]manifestRef),
		byHref:  make(map[string]manifestRef),
		docIDs:  make(map[string]map[string]bool),
	}
	if err := v.collectManifest(opfDoc); err != nil {
		return err
	}
	if err := v.checkSpine(opfDoc); err != nil {
		return err
	}
	return v.checkOverlays()
}

// manifestRef is one manifest item with its href resolved to an
// archive path.
type manifestRef struct {
	id        string
	href      string
	mediaType string
	overlay   string
}

type exportValidator struct {
	zr      *zip.Reader
	opfPath string
	byID    map[string]manifestRef
	byHref  map[string]manifestRef

	// docIDs caches the element id set per chapter document.
	docIDs map[string]map[string]bool
}

func (v *exportValidator) collectManifest(doc *xmlquery.Node) error {
	items := xmlquery.Find(doc, "//manifest/item")
	if len(items) == 0 {
		return fmt.Errorf("package manifest is empty")
	}
	for _, n := range items {
		id := n.SelectAttr("id")
		href := n.SelectAttr("href")
		if id == "" || href == "" {
			return fmt.Errorf("manifest item with missing id or href")
		}
		resolved := resolveRelativePath(v.opfPath, href)
		if resolved == "" {
			return fmt.Errorf("manifest item %s: href %q escapes the container", id, href)
		}
		if findFileInsensitive(v.zr, resolved) == nil {
			return fmt.Errorf("manifest item %s: %s not in archive", id, resolved)
		}
		ref := manifestRef{
			id:        id,
			href:      resolved,
			mediaType: n.SelectAttr("media-type"),
			overlay:   n.SelectAttr("media-overlay"),
		}
		v.byID[id] = ref
		v.byHref[resolved] = ref
	}
	return nil
}

func (v *exportValidator) checkSpine(doc *xmlquery.Node) error {
	refs := xmlquery.Find(doc, "//spine/itemref")
	if len(refs) == 0 {
		return fmt.Errorf("package spine is empty")
	}
	for _, n := range refs {
		idref := n.SelectAttr("idref")
		if _, ok := v.byID[idref]; !ok {
			return fmt.Errorf("spine itemref %q not in manifest", idref)
		}
	}

	for _, id := range sortedIDs(v.byID) {
		it := v.byID[id]
		if it.overlay == "" {
			continue
		}
		ov, ok := v.byID[it.overlay]
		if !ok {
			return fmt.Errorf("item %s: media-overlay %q not in manifest", it.id, it.overlay)
		}
		if ov.mediaType != "application/smil+xml" {
			return fmt.Errorf("item %s: media-overlay %s has media type %s", it.id, ov.id, ov.mediaType)
		}
	}
	return nil
}

func (v *exportValidator) checkOverlays() error {
	for _, id := range sortedIDs(v.byID) {
		it := v.byID[id]
		if it.mediaType != "application/smil+xml" {
			continue
		}
		if err := v.checkOverlay(it); err != nil {
			return err
		}
	}
	return nil
}

func (v *exportValidator) checkOverlay(smil manifestRef) error {
	data, err := readZipFile(findFileInsensitive(v.zr, smil.href))
	if err != nil {
		return err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: parse: %w", smil.href, err)
	}

	lastEnd := 0.0
	for _, par := range xmlquery.Find(doc, "//par") {
		parID := par.SelectAttr("id")

		text := xmlquery.FindOne(par, "text")
		audio := xmlquery.FindOne(par, "audio")
		if text == nil || audio == nil {
			return fmt.Errorf("%s: par %s lacks a text or audio element", smil.href, parID)
		}

		file, frag, ok := strings.Cut(text.SelectAttr("src"), "#")
		if !ok || frag == "" {
			return fmt.Errorf("%s: par %s: text src has no fragment", smil.href, parID)
		}
		chapterPath := resolveRelativePath(smil.href, file)
		if chapterPath == "" {
			return fmt.Errorf("%s: par %s: text src escapes the container", smil.href, parID)
		}
		chapter, okh := v.byHref[chapterPath]
		if !okh {
			return fmt.Errorf("%s: par %s: text ref %s not in manifest", smil.href, parID, chapterPath)
		}
		if chapter.mediaType != "application/xhtml+xml" {
			return fmt.Errorf("%s: par %s: text ref targets %s document", smil.href, parID, chapter.mediaType)
		}
		ids, err := v.documentIDs(chapterPath)
		if err != nil {
			return err
		}
		if !ids[frag] {
			return fmt.Errorf("%s: par %s: id %q not present in %s", smil.href, parID, frag, chapterPath)
		}

		audioPath := resolveRelativePath(smil.href, audio.SelectAttr("src"))
		if audioPath == "" {
			return fmt.Errorf("%s: par %s: audio src escapes the container", smil.href, parID)
		}
		if _, okh := v.byHref[audioPath]; !okh {
			return fmt.Errorf("%s: par %s: audio ref %s not in manifest", smil.href, parID, audioPath)
		}

		begin, err := parseClockValue(audio.SelectAttr("clipBegin"))
		if err != nil {
			return fmt.Errorf("%s: par %s: clipBegin: %w", smil.href, parID, err)
		}
		end, err := parseClockValue(audio.SelectAttr("clipEnd"))
		if err != nil {
			return fmt.Errorf("%s: par %s: clipEnd: %w", smil.href, parID, err)
		}
		if begin >= end {
			return fmt.Errorf("%s: par %s: empty clip [%s, %s]", smil.href, parID,
				audio.SelectAttr("clipBegin"), audio.SelectAttr("clipEnd"))
		}
		if begin < lastEnd-clipTolerance {
			return fmt.Errorf("%s: par %s: clip begins at %.3f before previous end %.3f", smil.href, parID, begin, lastEnd)
		}
		lastEnd = end
	}
	return nil
}

// documentIDs collects the element ids of a chapter document, cached
// per archive path.
func (v *exportValidator) documentIDs(path string) (map[string]bool, error) {
	if ids, ok := v.docIDs[path]; ok {
		return ids, nil
	}
	data, err := readZipFile(findFileInsensitive(v.zr, path))
	if err != nil {
		return nil, err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: parse: %w", path, err)
	}
	ids := make(map[string]bool)
	for _, n := range xmlquery.Find(doc, "//*[@id]") {
		ids[n.SelectAttr("id")] = true
	}
	v.docIDs[path] = ids
	return ids, nil
}

func sortedIDs(m map[string]manifestRef) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
