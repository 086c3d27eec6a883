// Package epub reads EPUB containers and writes EPUB 3 exports with
// media overlays. The reader is tolerant: it accepts EPUB 2 and 3,
// recovers from missing container metadata where possible, and guards
// against hostile archives.
package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/librettohq/libretto/internal/types"
)

// Reader provides access to a parsed EPUB archive.
type Reader struct {
	zr           *zip.Reader
	pkg          *opfPackage
	opfPath      string
	manifestByID map[string]*ManifestItem

	// Version is the OPF version attribute ("2.0", "3.0", ...).
	Version string
	// Dublin Core metadata, first value of each element.
	Title      string
	Author     string
	Language   string
	Publisher  string
	Identifier string
	// CoverHref is the ZIP-internal path of the cover image, empty
	// when no cover could be resolved.
	CoverHref string
	// Manifest lists items in document order with resolved hrefs.
	Manifest []*ManifestItem
	// Spine is the default reading order.
	Spine []SpineItem
	// TOC is the parsed table of contents.
	TOC []types.TOCEntry
}

// NewReader parses an EPUB from an in-memory byte slice.
func NewReader(data []byte) (*Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w: %v", ErrMalformedContainer, err)
	}
	return initReader(zr)
}

// NewReaderAt parses an EPUB from an io.ReaderAt, for callers that
// already have the archive on disk.
func NewReaderAt(r io.ReaderAt, size int64) (*Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w: %v", ErrMalformedContainer, err)
	}
	return initReader(zr)
}

func initReader(zr *zip.Reader) (*Reader, error) {
	r := &Reader{zr: zr}

	opfPath, err := parseContainer(zr)
	if err != nil {
		return nil, err
	}
	r.opfPath = opfPath

	opfFile := findFileInsensitive(zr, opfPath)
	if opfFile == nil {
		return nil, fmt.Errorf("rootfile %s not in archive: %w", opfPath, ErrMalformedContainer)
	}
	opfData, err := readZipFile(opfFile)
	if err != nil {
		return nil, fmt.Errorf("read OPF: %w", err)
	}

	pkg, err := parseOPF(opfData)
	if err != nil {
		return nil, err
	}
	r.pkg = pkg
	r.Version = pkg.Version

	r.Title = firstValue(pkg.Metadata.Titles)
	r.Author = firstValue(pkg.Metadata.Creators)
	r.Language = firstValue(pkg.Metadata.Languages)
	r.Publisher = firstValue(pkg.Metadata.Publishers)
	r.Identifier = firstValue(pkg.Metadata.Identifiers)

	r.Manifest, r.manifestByID = buildManifest(pkg.Manifest, opfPath)
	r.Spine = buildSpine(pkg.Spine, r.manifestByID)
	if len(r.Spine) == 0 {
		return nil, fmt.Errorf("spine is empty: %w", ErrUnsupportedPackage)
	}

	r.TOC = r.parseTOC()
	r.CoverHref = r.resolveCover()

	return r, nil
}

func firstValue(elems []opfDCElement) string {
	for _, e := range elems {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

// resolveCover finds the cover image: first the EPUB 3 cover-image
// property, then the EPUB 2 meta name="cover" reference.
func (r *Reader) resolveCover() string {
	for _, item := range r.Manifest {
		if item.HasProperty("cover-image") {
			return item.Href
		}
	}

	for _, m := range r.pkg.Metadata.Metas {
		if strings.EqualFold(m.Name, "cover") && m.Content != "" {
			if item, ok := r.manifestByID[m.Content]; ok {
				if strings.HasPrefix(item.MediaType, "image/") {
					return item.Href
				}
			}
		}
	}

	return ""
}

// ChapterItems returns the linear spine entries carrying XHTML content.
func (r *Reader) ChapterItems() []SpineItem {
	var items []SpineItem
	for _, si := range r.Spine {
		if !si.Linear {
			continue
		}
		if si.MediaType == "application/xhtml+xml" || si.MediaType == "text/html" {
			items = append(items, si)
		}
	}
	return items
}

// ReadItem reads a manifest resource by its ZIP-internal path.
func (r *Reader) ReadItem(href string) ([]byte, error) {
	f := findFileInsensitive(r.zr, href)
	if f == nil {
		return nil, fmt.Errorf("%s: %w", href, ErrAssetMissing)
	}
	return readZipFile(f)
}

// Assets returns the manifest items that are neither spine documents
// nor navigation artifacts: stylesheets, images, fonts and similar
// resources a chapter may reference.
func (r *Reader) Assets() []*ManifestItem {
	spineHrefs := make(map[string]bool, len(r.Spine))
	for _, si := range r.Spine {
		spineHrefs[si.Href] = true
	}

	var assets []*ManifestItem
	for _, item := range r.Manifest {
		if spineHrefs[item.Href] || item.HasProperty("nav") {
			continue
		}
		if item.MediaType == "application/x-dtbncx+xml" {
			continue
		}
		assets = append(assets, item)
	}
	return assets
}
