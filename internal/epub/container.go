package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"strings"
)

// containerPath is the well-known location of container.xml in an
// EPUB archive.
const containerPath = "META-INF/container.xml"

// containerXML models META-INF/container.xml, used to locate the OPF.
type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// parseContainer locates and parses the OPF path from the archive.
// If container.xml is missing it falls back to scanning for a .opf
// entry before failing with ErrMalformedContainer.
func parseContainer(zr *zip.Reader) (string, error) {
	if f := findFileInsensitive(zr, containerPath); f != nil {
		return parseContainerXML(f)
	}
	return fallbackFindOPF(zr)
}

func parseContainerXML(f *zip.File) (string, error) {
	data, err := readZipFile(f)
	if err != nil {
		return "", fmt.Errorf("read container.xml: %w", err)
	}

	data = stripBOM(data)

	var c containerXML
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("parse container.xml: %w: %v", ErrMalformedContainer, err)
	}

	if len(c.RootFiles) == 0 {
		return "", fmt.Errorf("container.xml has no rootfile entries: %w", ErrMalformedContainer)
	}

	var fallbackPath string
	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), "application/oebps-package+xml") {
			return fullPath, nil
		}
		if fallbackPath == "" {
			fallbackPath = fullPath
		}
	}

	if fallbackPath == "" {
		return "", fmt.Errorf("container.xml rootfile has empty full-path: %w", ErrMalformedContainer)
	}

	return fallbackPath, nil
}

// fallbackFindOPF scans the ZIP entries for the first .opf file.
func fallbackFindOPF(zr *zip.Reader) (string, error) {
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".opf") {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("no OPF file found in archive: %w", ErrMalformedContainer)
}
