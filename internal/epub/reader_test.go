package epub

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"
)

// buildTestEPUB creates an in-memory EPUB archive from the provided
// files map (ZIP-internal path → content).
func buildTestEPUB(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	// mimetype first, as the container spec requires.
	if mt, ok := files["mimetype"]; ok {
		fw, err := zw.Create("mimetype")
		if err != nil {
			t.Fatalf("create mimetype: %v", err)
		}
		if _, err := io.WriteString(fw, mt); err != nil {
			t.Fatalf("write mimetype: %v", err)
		}
	}
	for name, content := range files {
		if name == "mimetype" {
			continue
		}
		fw, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf.Bytes()
}

const testContainerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:1234</dc:identifier>
    <dc:title>Voyage Extraordinaire</dc:title>
    <dc:creator>J. Verne</dc:creator>
    <dc:language>en</dc:language>
    <dc:publisher>Hetzel</dc:publisher>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ch1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="styles/main.css" media-type="text/css"/>
    <item id="cover-img" href="images/cover.jpg" media-type="image/jpeg" properties="cover-image"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

const testNav = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body>
<nav epub:type="toc">
  <ol>
    <li><a href="text/ch1.xhtml">Part One</a>
      <ol>
        <li><a href="text/ch1.xhtml#s2">Section Two</a></li>
      </ol>
    </li>
    <li><a href="text/ch2.xhtml">Part Two</a></li>
    <li><a href="text/missing.xhtml">Dangling</a></li>
  </ol>
</nav>
</body>
</html>`

func testEPUBFiles() map[string]string {
	return map[string]string{
		"mimetype":                 "application/epub+zip",
		"META-INF/container.xml":   testContainerXML,
		"OEBPS/content.opf":        testOPF,
		"OEBPS/nav.xhtml":          testNav,
		"OEBPS/text/ch1.xhtml":     `<html><body><h1>Part One</h1><p>Hello world.</p></body></html>`,
		"OEBPS/text/ch2.xhtml":     `<html><body><h1>Part Two</h1><p>Goodbye.</p></body></html>`,
		"OEBPS/styles/main.css":    `body { margin: 0; }`,
		"OEBPS/images/cover.jpg":   "\xff\xd8\xff\xe0fakejpeg",
	}
}

func TestNewReader_Metadata(t *testing.T) {
	data := buildTestEPUB(t, testEPUBFiles())

	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	if r.Title != "Voyage Extraordinaire" {
		t.Errorf("Title = %q", r.Title)
	}
	if r.Author != "J. Verne" {
		t.Errorf("Author = %q", r.Author)
	}
	if r.Language != "en" {
		t.Errorf("Language = %q", r.Language)
	}
	if r.Publisher != "Hetzel" {
		t.Errorf("Publisher = %q", r.Publisher)
	}
	if r.Version != "3.0" {
		t.Errorf("Version = %q", r.Version)
	}
}

func TestNewReader_SpineOrder(t *testing.T) {
	data := buildTestEPUB(t, testEPUBFiles())

	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	items := r.ChapterItems()
	if len(items) != 2 {
		t.Fatalf("ChapterItems() len = %d, want 2", len(items))
	}
	if items[0].Href != "OEBPS/text/ch1.xhtml" || items[1].Href != "OEBPS/text/ch2.xhtml" {
		t.Errorf("spine order = %s, %s", items[0].Href, items[1].Href)
	}
}

func TestNewReader_NavTOC(t *testing.T) {
	data := buildTestEPUB(t, testEPUBFiles())

	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	if len(r.TOC) != 3 {
		t.Fatalf("TOC len = %d, want 3", len(r.TOC))
	}
	if r.TOC[0].Title != "Part One" || r.TOC[0].ChapterIndex != 0 {
		t.Errorf("TOC[0] = %+v", r.TOC[0])
	}
	if len(r.TOC[0].Children) != 1 || r.TOC[0].Children[0].Title != "Section Two" {
		t.Errorf("TOC[0].Children = %+v", r.TOC[0].Children)
	}
	if r.TOC[0].Children[0].ChapterIndex != 0 {
		t.Errorf("fragment href should resolve to chapter 0, got %d", r.TOC[0].Children[0].ChapterIndex)
	}
	if r.TOC[1].ChapterIndex != 1 {
		t.Errorf("TOC[1].ChapterIndex = %d, want 1", r.TOC[1].ChapterIndex)
	}
	// Unresolved targets keep chapter index 0
	if r.TOC[2].ChapterIndex != 0 {
		t.Errorf("TOC[2].ChapterIndex = %d, want 0", r.TOC[2].ChapterIndex)
	}
}

func TestNewReader_NCXFallback(t *testing.T) {
	files := map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Old Book</dc:title>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="ch1"/>
  </spine>
</package>`,
		"OEBPS/toc.ncx": `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="np1" playOrder="1">
      <navLabel><text>Chapter One</text></navLabel>
      <content src="ch1.xhtml"/>
      <navPoint id="np2" playOrder="2">
        <navLabel><text>Nested</text></navLabel>
        <content src="ch1.xhtml#part2"/>
      </navPoint>
    </navPoint>
  </navMap>
</ncx>`,
		"OEBPS/ch1.xhtml": `<html><body><p>text</p></body></html>`,
	}

	r, err := NewReader(buildTestEPUB(t, files))
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}

	if len(r.TOC) != 1 {
		t.Fatalf("TOC len = %d, want 1", len(r.TOC))
	}
	if r.TOC[0].Title != "Chapter One" || r.TOC[0].ChapterIndex != 0 {
		t.Errorf("TOC[0] = %+v", r.TOC[0])
	}
	if len(r.TOC[0].Children) != 1 || r.TOC[0].Children[0].Title != "Nested" {
		t.Errorf("TOC[0].Children = %+v", r.TOC[0].Children)
	}
}

func TestNewReader_Cover(t *testing.T) {
	t.Run("cover-image property", func(t *testing.T) {
		r, err := NewReader(buildTestEPUB(t, testEPUBFiles()))
		if err != nil {
			t.Fatalf("NewReader() error = %v", err)
		}
		if r.CoverHref != "OEBPS/images/cover.jpg" {
			t.Errorf("CoverHref = %q", r.CoverHref)
		}
	})

	t.Run("meta name=cover fallback", func(t *testing.T) {
		files := testEPUBFiles()
		files["OEBPS/content.opf"] = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>T</dc:title>
    <meta name="cover" content="cover-img"/>
  </metadata>
  <manifest>
    <item id="ch1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="cover-img" href="images/cover.jpg" media-type="image/jpeg"/>
  </manifest>
  <spine><itemref idref="ch1"/></spine>
</package>`
		r, err := NewReader(buildTestEPUB(t, files))
		if err != nil {
			t.Fatalf("NewReader() error = %v", err)
		}
		if r.CoverHref != "OEBPS/images/cover.jpg" {
			t.Errorf("CoverHref = %q", r.CoverHref)
		}
	})
}

func TestNewReader_Malformed(t *testing.T) {
	t.Run("not a zip", func(t *testing.T) {
		_, err := NewReader([]byte("not a zip archive"))
		if !errors.Is(err, ErrMalformedContainer) {
			t.Errorf("NewReader() error = %v, want ErrMalformedContainer", err)
		}
	})

	t.Run("no container or opf", func(t *testing.T) {
		data := buildTestEPUB(t, map[string]string{"random.txt": "hi"})
		_, err := NewReader(data)
		if !errors.Is(err, ErrMalformedContainer) {
			t.Errorf("NewReader() error = %v, want ErrMalformedContainer", err)
		}
	})

	t.Run("empty spine", func(t *testing.T) {
		files := map[string]string{
			"META-INF/container.xml": testContainerXML,
			"OEBPS/content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata/><manifest/><spine/>
</package>`,
		}
		_, err := NewReader(buildTestEPUB(t, files))
		if !errors.Is(err, ErrUnsupportedPackage) {
			t.Errorf("NewReader() error = %v, want ErrUnsupportedPackage", err)
		}
	})

	t.Run("opf fallback scan without container", func(t *testing.T) {
		files := testEPUBFiles()
		delete(files, "META-INF/container.xml")
		r, err := NewReader(buildTestEPUB(t, files))
		if err != nil {
			t.Fatalf("NewReader() error = %v", err)
		}
		if r.Title != "Voyage Extraordinaire" {
			t.Errorf("Title = %q after fallback OPF scan", r.Title)
		}
	})
}

func TestUnpack(t *testing.T) {
	ub, err := Unpack(buildTestEPUB(t, testEPUBFiles()))
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}

	if len(ub.Chapters) != 2 {
		t.Fatalf("Chapters len = %d, want 2", len(ub.Chapters))
	}
	if ub.Chapters[0].Index != 0 || ub.Chapters[1].Index != 1 {
		t.Errorf("chapter indices = %d, %d", ub.Chapters[0].Index, ub.Chapters[1].Index)
	}
	if !bytes.Contains(ub.Chapters[0].XHTML, []byte("Hello world")) {
		t.Error("chapter 0 content missing")
	}

	if _, ok := ub.Assets["OEBPS/styles/main.css"]; !ok {
		t.Error("css asset missing")
	}
	if _, ok := ub.Assets["OEBPS/images/cover.jpg"]; !ok {
		t.Error("cover asset missing")
	}
	// The nav document is not an asset
	if _, ok := ub.Assets["OEBPS/nav.xhtml"]; ok {
		t.Error("nav document should not be an asset")
	}

	if ub.CoverHref != "OEBPS/images/cover.jpg" {
		t.Errorf("CoverHref = %q", ub.CoverHref)
	}
}

func TestUnpack_AssetMissing(t *testing.T) {
	files := testEPUBFiles()
	delete(files, "OEBPS/styles/main.css")

	_, err := Unpack(buildTestEPUB(t, files))
	if !errors.Is(err, ErrAssetMissing) {
		t.Errorf("Unpack() error = %v, want ErrAssetMissing", err)
	}
}

func TestResolveRelativePath(t *testing.T) {
	tests := []struct {
		base, href, want string
	}{
		{"OEBPS/content.opf", "text/ch1.xhtml", "OEBPS/text/ch1.xhtml"},
		{"OEBPS/text/ch1.xhtml", "../images/pic.png", "OEBPS/images/pic.png"},
		{"OEBPS/content.opf", "../../../etc/passwd", ""},
		{"OEBPS/content.opf", "/absolute", ""},
		{"OEBPS/content.opf", "a%20b.xhtml", "OEBPS/a b.xhtml"},
	}

	for _, tt := range tests {
		if got := resolveRelativePath(tt.base, tt.href); got != tt.want {
			t.Errorf("resolveRelativePath(%q, %q) = %q, want %q", tt.base, tt.href, got, tt.want)
		}
	}
}
