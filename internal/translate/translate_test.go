package translate

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/types"
)

const testChapterHTML = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>t</title></head><body>
<h1>Part One</h1>
<p>Hello world.</p>
</body></html>`

// dictionaryChat answers each translation call from a fixed phrase
// table, flagging anything it has never seen.
func dictionaryChat(dict map[string]string) *providers.MockChatClient {
	chat := providers.NewMockChatClient()
	chat.RespondWith = func(req *providers.ChatRequest) (string, json.RawMessage) {
		in := req.Messages[len(req.Messages)-1].Content
		out, ok := dict[in]
		if !ok {
			out = "UNTRANSLATED " + in
		}
		payload, _ := json.Marshal(map[string]string{"text": out})
		return string(payload), payload
	}
	return chat
}

func testRequest() *Request {
	return &Request{
		BookID:       "b1",
		ChapterIndex: 0,
		SourceLang:   "en",
		TargetLang:   "de",
		HTML:         []byte(testChapterHTML),
		Tokens: types.TokenTable{
			{ID: "w0", Surface: "Part"},
			{ID: "w1", Surface: "One"},
			{ID: "w2", Surface: "Hello"},
			{ID: "w3", Surface: "world"},
		},
	}
}

func TestTranslate(t *testing.T) {
	chat := dictionaryChat(map[string]string{
		"Part One":     "Teil Eins",
		"Hello world.": "Hallo Welt.",
	})
	tr := New(chat, Config{})

	var lastDone, lastTotal int
	req := testRequest()
	res, err := tr.Translate(context.Background(), req, func(done, total int) {
		lastDone, lastTotal = done, total
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	if res.Calls != 2 {
		t.Errorf("Calls = %d, want one per block", res.Calls)
	}
	if lastDone != 2 || lastTotal != 2 {
		t.Errorf("progress = %d/%d, want 2/2", lastDone, lastTotal)
	}

	tl := res.Translation
	if tl.Language != "de" || tl.BookID != "b1" || tl.ChapterIndex != 0 {
		t.Errorf("translation identity = %s/%s/%d", tl.BookID, tl.Language, tl.ChapterIndex)
	}
	text := tl.Tokens.Text()
	if text != "Teil Eins Hallo Welt" {
		t.Errorf("translated tokens = %q", text)
	}
	if tl.Tokens[0].ID != "w0" {
		t.Errorf("first translated token id = %s, want w0", tl.Tokens[0].ID)
	}
	if !strings.Contains(tl.HTML, `<span id="w0">`) {
		t.Error("translated html is not tokenized")
	}
	if !strings.Contains(tl.HTML, "<h1>") {
		t.Error("translated html lost the heading block")
	}
	if tl.Fingerprint != Fingerprint("b1", 0, "de", req.Tokens) {
		t.Error("fingerprint does not match the request inputs")
	}
	if strings.Contains(tl.HTML, "UNTRANSLATED") {
		t.Errorf("unexpected chunk text sent to provider:\n%s", tl.HTML)
	}
}

func TestTranslate_ChunksLongBlocks(t *testing.T) {
	chat := dictionaryChat(map[string]string{
		"One sentence here.":    "Ein Satz hier.",
		"Another follows now.":  "Noch einer folgt.",
		"The last one arrives.": "Der letzte kommt.",
	})
	tr := New(chat, Config{MaxChunkChars: 25})

	req := testRequest()
	req.HTML = []byte(`<html><body><p>One sentence here. Another follows now. The last one arrives.</p></body></html>`)

	res, err := tr.Translate(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Calls < 2 {
		t.Errorf("Calls = %d, want the block split across calls", res.Calls)
	}

	text := res.Translation.Tokens.Text()
	for _, word := range []string{"Satz", "folgt", "letzte"} {
		if !strings.Contains(text, word) {
			t.Errorf("translated tokens %q missing %q", text, word)
		}
	}
	if strings.Contains(text, "UNTRANSLATED") {
		t.Errorf("chunking broke sentence boundaries: %q", text)
	}
}

func TestTranslate_TokenFallbackWithoutBlocks(t *testing.T) {
	chat := dictionaryChat(map[string]string{
		"Part One Hello world": "Teil Eins Hallo Welt",
	})
	tr := New(chat, Config{})

	req := testRequest()
	req.HTML = []byte(`<html><head></head><body></body></html>`)

	res, err := tr.Translate(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Calls != 1 {
		t.Errorf("Calls = %d, want single fallback block", res.Calls)
	}
	if got := res.Translation.Tokens.Text(); got != "Teil Eins Hallo Welt" {
		t.Errorf("translated tokens = %q", got)
	}
}

func TestTranslate_InputErrors(t *testing.T) {
	tr := New(providers.NewMockChatClient(), Config{})

	req := testRequest()
	req.TargetLang = ""
	if _, err := tr.Translate(context.Background(), req, nil); err == nil {
		t.Error("Translate() without target language succeeded")
	}

	req = testRequest()
	req.HTML = []byte(`<html><body></body></html>`)
	req.Tokens = nil
	if _, err := tr.Translate(context.Background(), req, nil); err == nil {
		t.Error("Translate() with no translatable text succeeded")
	}
}

func TestTranslate_ProviderFailure(t *testing.T) {
	chat := providers.NewMockChatClient()
	chat.ShouldFail = true
	tr := New(chat, Config{})

	_, err := tr.Translate(context.Background(), testRequest(), nil)
	if err == nil {
		t.Fatal("Translate() with failing provider succeeded")
	}
	if !strings.Contains(err.Error(), "chunk 1/") {
		t.Errorf("error %q does not name the failing chunk", err)
	}
}

func TestTranslate_RequiresStructuredOutput(t *testing.T) {
	chat := providers.NewMockChatClient()
	chat.RespondWith = func(*providers.ChatRequest) (string, json.RawMessage) {
		return "plain prose, no JSON", nil
	}
	tr := New(chat, Config{})

	_, err := tr.Translate(context.Background(), testRequest(), nil)
	if err == nil || !strings.Contains(err.Error(), "structured output") {
		t.Errorf("Translate() error = %v, want structured output failure", err)
	}
}

func TestTranslate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New(dictionaryChat(nil), Config{})
	if _, err := tr.Translate(ctx, testRequest(), nil); err == nil {
		t.Error("Translate() with canceled context succeeded")
	}
}

func TestFingerprint(t *testing.T) {
	tokens := types.TokenTable{{ID: "w0", Surface: "Hello"}}
	base := Fingerprint("b1", 0, "de", tokens)

	if base != Fingerprint("b1", 0, "de", tokens) {
		t.Error("identical inputs produced different fingerprints")
	}
	if base == Fingerprint("b1", 0, "fr", tokens) {
		t.Error("target language not part of the fingerprint")
	}
	if base == Fingerprint("b1", 1, "de", tokens) {
		t.Error("chapter not part of the fingerprint")
	}
	changed := types.TokenTable{{ID: "w0", Surface: "Goodbye"}}
	if base == Fingerprint("b1", 0, "de", changed) {
		t.Error("token text not part of the fingerprint")
	}
}
