package epub

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// opfPackage represents the root <package> element of an OPF file.
type opfPackage struct {
	XMLName          xml.Name    `xml:"package"`
	Version          string      `xml:"version,attr"`
	UniqueIdentifier string      `xml:"unique-identifier,attr"`
	Metadata         opfMetadata `xml:"metadata"`
	Manifest         opfManifest `xml:"manifest"`
	Spine            opfSpine    `xml:"spine"`
}

// opfMetadata holds the raw Dublin Core elements from the OPF file.
type opfMetadata struct {
	Titles      []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators    []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Languages   []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Publishers  []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Metas       []opfMeta      `xml:"meta"`
}

type opfDCElement struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
}

// opfMeta covers both EPUB 2 (name/content) and EPUB 3
// (property/refines) meta elements.
type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"`
	Property string `xml:"property,attr"`
	Refines  string `xml:"refines,attr"`
	Value    string `xml:",chardata"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	Toc      string            `xml:"toc,attr"`
	ItemRefs []opfSpineItemRef `xml:"itemref"`
}

type opfSpineItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

// ManifestItem is a processed manifest entry with its href resolved
// to a ZIP-internal path.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

// HasProperty reports whether the item's space-separated properties
// contain the given token.
func (m *ManifestItem) HasProperty(name string) bool {
	for _, p := range strings.Fields(m.Properties) {
		if p == name {
			return true
		}
	}
	return false
}

// SpineItem is one entry of the default reading order.
type SpineItem struct {
	IDRef     string
	Href      string
	MediaType string
	Linear    bool
}

// parseOPF parses OPF file content into the package structure.
func parseOPF(data []byte) (*opfPackage, error) {
	data = preprocessHTMLEntities(data)
	data = stripBOM(data)

	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse OPF: %w: %v", ErrUnsupportedPackage, err)
	}

	if pkg.Version == "" {
		// Version attribute missing, assume EPUB 2.
		pkg.Version = "2.0"
	}

	return &pkg, nil
}

// buildManifest resolves manifest hrefs against the OPF directory and
// returns the items in document order plus an ID lookup map.
func buildManifest(manifest opfManifest, opfPath string) ([]*ManifestItem, map[string]*ManifestItem) {
	items := make([]*ManifestItem, 0, len(manifest.Items))
	byID := make(map[string]*ManifestItem, len(manifest.Items))

	for _, item := range manifest.Items {
		mi := &ManifestItem{
			ID:         item.ID,
			Href:       resolveRelativePath(opfPath, item.Href),
			MediaType:  item.MediaType,
			Properties: item.Properties,
		}
		if mi.Href == "" {
			continue
		}
		items = append(items, mi)
		byID[item.ID] = mi
	}

	return items, byID
}

// buildSpine resolves spine idrefs through the manifest, preserving
// declared order.
func buildSpine(spine opfSpine, byID map[string]*ManifestItem) []SpineItem {
	items := make([]SpineItem, 0, len(spine.ItemRefs))

	for _, ref := range spine.ItemRefs {
		si := SpineItem{
			IDRef:  ref.IDRef,
			Linear: ref.Linear != "no",
		}
		if mi, ok := byID[ref.IDRef]; ok {
			si.Href = mi.Href
			si.MediaType = mi.MediaType
		}
		items = append(items, si)
	}

	return items
}
