package normalize

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
)

const simpleChapter = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Doc Title</title></head>
<body>
<h1>Chapter 7</h1>
<p>Hello, world. Él dijo hola.</p>
</body>
</html>`

func TestChapter_Tokenization(t *testing.T) {
	res, err := Chapter([]byte(simpleChapter), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}

	// h1 ("Chapter", "7") + p ("Hello", "world", "Él", "dijo", "hola")
	if res.WordCount != 7 {
		t.Fatalf("WordCount = %d, want 7; tokens = %v", res.WordCount, res.Tokens.IDs())
	}

	for i, tok := range res.Tokens {
		want := "w" + strconv.Itoa(i)
		if tok.ID != want {
			t.Errorf("token %d id = %s, want %s", i, tok.ID, want)
		}
	}

	if res.Tokens[0].Surface != "Chapter" {
		t.Errorf("token 0 surface = %q", res.Tokens[0].Surface)
	}
	if res.Tokens[1].Surface != "7" {
		t.Errorf("digit token surface = %q, want 7", res.Tokens[1].Surface)
	}

	html := string(res.HTML)
	if !strings.Contains(html, `<span id="w2">Hello</span>`) {
		t.Errorf("output missing span w2: %s", html)
	}
	// Punctuation stays outside spans
	if !strings.Contains(html, `</span>, <span`) {
		t.Errorf("punctuation not preserved between spans: %s", html)
	}
}

func TestChapter_NormalizedForms(t *testing.T) {
	res, err := Chapter([]byte(simpleChapter), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}

	byID := make(map[string]string)
	for _, tok := range res.Tokens {
		byID[tok.ID] = tok.Normalized
	}

	if byID["w0"] != "chapter" {
		t.Errorf("normalized w0 = %q, want chapter", byID["w0"])
	}
	// Accents stripped and case folded
	if byID["w4"] != "el" {
		t.Errorf("normalized w4 = %q, want el", byID["w4"])
	}
}

func TestChapter_Sanitize(t *testing.T) {
	input := `<html><head>
<script src="evil.js"></script>
<link rel="import" href="widget.html"/>
<link rel="stylesheet" href="style.css"/>
</head><body>
<p onclick="alert(1)" style="color:red">Keep me</p>
<script>alert(2)</script>
</body></html>`

	res, err := Chapter([]byte(input), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}

	html := string(res.HTML)
	if strings.Contains(html, "script") {
		t.Errorf("script survived: %s", html)
	}
	if strings.Contains(html, "onclick") {
		t.Errorf("event handler survived: %s", html)
	}
	if strings.Contains(html, "import") {
		t.Errorf("link rel=import survived: %s", html)
	}
	if !strings.Contains(html, "stylesheet") {
		t.Errorf("stylesheet link removed: %s", html)
	}
	if !strings.Contains(html, `style="color:red"`) {
		t.Errorf("inline style removed: %s", html)
	}
}

func TestChapter_RewritesAssetURLs(t *testing.T) {
	input := `<html><body>
<img src="images/pic.png" alt="x"/>
<img src="https://example.com/ext.png"/>
<video poster="images/frame.jpg" data-fallback="images/alt.jpg"></video>
</body></html>`

	rewriter := func(ref string) (string, bool) {
		if strings.HasPrefix(ref, "images/") {
			return "/storage/books/b1/assets/OEBPS/" + ref, true
		}
		return "", false
	}

	res, err := Chapter([]byte(input), rewriter)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}

	html := string(res.HTML)
	if !strings.Contains(html, `src="/storage/books/b1/assets/OEBPS/images/pic.png"`) {
		t.Errorf("img src not rewritten: %s", html)
	}
	if !strings.Contains(html, `src="https://example.com/ext.png"`) {
		t.Errorf("external URL not preserved: %s", html)
	}
	if !strings.Contains(html, `poster="/storage/books/b1/assets/OEBPS/images/frame.jpg"`) {
		t.Errorf("poster not rewritten: %s", html)
	}
	if !strings.Contains(html, `data-fallback="/storage/books/b1/assets/OEBPS/images/alt.jpg"`) {
		t.Errorf("data attribute not rewritten: %s", html)
	}
}

func TestChapter_SkipsNonRunningText(t *testing.T) {
	input := `<html><body>
<p>Real words</p>
<pre>func main() {}</pre>
<code>x := 1</code>
</body></html>`

	res, err := Chapter([]byte(input), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}

	if res.WordCount != 2 {
		t.Errorf("WordCount = %d, want 2 (pre/code excluded); tokens = %v", res.WordCount, res.Tokens.IDs())
	}
	if strings.Contains(string(res.HTML), `<pre><span`) {
		t.Errorf("pre content was tokenized: %s", res.HTML)
	}
}

func TestChapter_Title(t *testing.T) {
	t.Run("prefers h1", func(t *testing.T) {
		res, err := Chapter([]byte(simpleChapter), nil)
		if err != nil {
			t.Fatalf("Chapter() error = %v", err)
		}
		if res.Title != "Chapter 7" {
			t.Errorf("Title = %q, want Chapter 7", res.Title)
		}
	})

	t.Run("falls back to document title", func(t *testing.T) {
		input := `<html><head><title>  Fallback  </title></head><body><p>text</p></body></html>`
		res, err := Chapter([]byte(input), nil)
		if err != nil {
			t.Fatalf("Chapter() error = %v", err)
		}
		if res.Title != "Fallback" {
			t.Errorf("Title = %q, want Fallback", res.Title)
		}
	})
}

func TestChapter_Deterministic(t *testing.T) {
	a, err := Chapter([]byte(simpleChapter), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}
	b, err := Chapter([]byte(simpleChapter), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}

	if !bytes.Equal(a.HTML, b.HTML) {
		t.Error("HTML differs across identical runs")
	}
	if len(a.Tokens) != len(b.Tokens) {
		t.Fatalf("token counts differ: %d vs %d", len(a.Tokens), len(b.Tokens))
	}
	for i := range a.Tokens {
		if a.Tokens[i] != b.Tokens[i] {
			t.Errorf("token %d differs: %+v vs %+v", i, a.Tokens[i], b.Tokens[i])
		}
	}
}

func TestChapter_Idempotent(t *testing.T) {
	first, err := Chapter([]byte(simpleChapter), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}
	second, err := Chapter(first.HTML, nil)
	if err != nil {
		t.Fatalf("Chapter() second pass error = %v", err)
	}

	if !bytes.Equal(first.HTML, second.HTML) {
		t.Errorf("second pass changed HTML:\nfirst:  %s\nsecond: %s", first.HTML, second.HTML)
	}
	if len(first.Tokens) != len(second.Tokens) {
		t.Fatalf("token counts differ: %d vs %d", len(first.Tokens), len(second.Tokens))
	}
	for i := range first.Tokens {
		if first.Tokens[i] != second.Tokens[i] {
			t.Errorf("token %d differs: %+v vs %+v", i, first.Tokens[i], second.Tokens[i])
		}
	}
}

func TestChapter_PreservesXHTMLFraming(t *testing.T) {
	res, err := Chapter([]byte(simpleChapter), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}

	html := string(res.HTML)
	if !strings.HasPrefix(html, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Errorf("XML declaration not restored: %s", html[:60])
	}
}

func TestChapter_VoidElementsSelfClosed(t *testing.T) {
	input := `<?xml version="1.0"?><html><body><p>a<br/>b</p><img src="x.png"/></body></html>`
	res, err := Chapter([]byte(input), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}

	html := string(res.HTML)
	if !strings.Contains(html, "<br/>") {
		t.Errorf("br not self-closed: %s", html)
	}
	if !strings.Contains(html, `src="x.png"/>`) {
		t.Errorf("img not self-closed: %s", html)
	}
}

func TestNormalizeToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello", "hello"},
		{"WORLD", "world"},
		{"Él", "el"},
		{"naïve", "naive"},
		{"7", "7"},
		{"Straße", "strasse"},
	}

	for _, tt := range tests {
		if got := NormalizeToken(tt.in); got != tt.want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitSegments_CoversInput(t *testing.T) {
	text := "Hello, world! It's 3.14 — done."
	segs := splitSegments(text)

	var sb strings.Builder
	for _, s := range segs {
		sb.WriteString(s.text)
	}
	if sb.String() != text {
		t.Errorf("segments do not cover input: %q != %q", sb.String(), text)
	}

	var wordCount int
	for _, s := range segs {
		if s.word {
			wordCount++
		}
	}
	if wordCount == 0 {
		t.Error("no word segments found")
	}
}
