package normalize

import "testing"

func TestExtractBlocks(t *testing.T) {
	input := `<html><body>
<h1>The Title</h1>
<p>First paragraph with <em>emphasis</em> inside.</p>
<blockquote><p>Quoted paragraph.</p></blockquote>
<ul><li>Item one</li><li>Item two</li></ul>
<p>   </p>
<div><img src="x.png"/></div>
</body></html>`

	blocks, err := ExtractBlocks([]byte(input))
	if err != nil {
		t.Fatalf("ExtractBlocks() error = %v", err)
	}

	want := []Block{
		{Tag: "h1", Text: "The Title"},
		{Tag: "p", Text: "First paragraph with emphasis inside."},
		{Tag: "p", Text: "Quoted paragraph."},
		{Tag: "li", Text: "Item one"},
		{Tag: "li", Text: "Item two"},
	}

	if len(blocks) != len(want) {
		t.Fatalf("block count = %d, want %d: %+v", len(blocks), len(want), blocks)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, blocks[i], want[i])
		}
	}
}

func TestExtractBlocks_TokenizedInput(t *testing.T) {
	res, err := Chapter([]byte(simpleChapter), nil)
	if err != nil {
		t.Fatalf("Chapter() error = %v", err)
	}

	blocks, err := ExtractBlocks(res.HTML)
	if err != nil {
		t.Fatalf("ExtractBlocks() error = %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("block count = %d, want 2: %+v", len(blocks), blocks)
	}
	if blocks[0].Text != "Chapter 7" {
		t.Errorf("heading text = %q, want Chapter 7", blocks[0].Text)
	}
	if blocks[1].Text != "Hello, world. Él dijo hola." {
		t.Errorf("paragraph text = %q", blocks[1].Text)
	}
}
