// Package translate produces translated token streams for chapters.
// The translator works block by block through a chat provider with a
// structured-output contract, then retokenizes the translated text so
// downstream synthesis and alignment see an ordinary token table.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	xhtml "golang.org/x/net/html"

	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/metrics"
	"github.com/librettohq/libretto/internal/normalize"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/types"
)

// translationSchema constrains translator output to one text field,
// validated locally by the chat client and repaired on mismatch.
var translationSchema = json.RawMessage(`{
	"name": "chapter_translation",
	"strict": true,
	"schema": {
		"type": "object",
		"properties": {
			"text": {"type": "string", "description": "The translated text, nothing else"}
		},
		"required": ["text"],
		"additionalProperties": false
	}
}`)

// defaultMaxChunkChars bounds one translation call's input. Block text
// longer than this is split on sentence boundaries.
const defaultMaxChunkChars = 3000

// Request describes one chapter translation.
type Request struct {
	BookID       string
	ChapterIndex int
	SourceLang   string
	TargetLang   string

	// HTML is the normalized chapter document; block structure guides
	// the translation units. Tokens are the chapter's source tokens,
	// used for the fingerprint and as fallback text.
	HTML   []byte
	Tokens types.TokenTable
}

// Result carries the translation and the provider usage behind it.
type Result struct {
	Translation *types.Translation
	Cached      bool

	Calls       int
	TotalTokens int
	CostUSD     float64
}

// Config configures a Translator.
type Config struct {
	Model         string // empty uses the client default
	MaxChunkChars int
	// Metrics, when non-nil, records provider usage per call.
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Translator translates chapter text through a chat provider.
type Translator struct {
	chat          providers.ChatProvider
	model         string
	maxChunkChars int
	metrics       *metrics.Recorder
	logger        *slog.Logger
}

// New creates a translator over the given chat provider.
func New(chat providers.ChatProvider, cfg Config) *Translator {
	maxChars := cfg.MaxChunkChars
	if maxChars <= 0 {
		maxChars = defaultMaxChunkChars
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		chat:          chat,
		model:         cfg.Model,
		maxChunkChars: maxChars,
		metrics:       cfg.Metrics,
		logger:        logger.With("component", "translate"),
	}
}

// Fingerprint identifies a translation by its inputs: chapter identity,
// target language and the source token content.
func Fingerprint(bookID string, chapter int, targetLang string, tokens types.TokenTable) string {
	return blob.FingerprintParts(
		"translate",
		bookID,
		strconv.Itoa(chapter),
		targetLang,
		blob.Fingerprint([]byte(tokens.Text())),
	)
}

// Translate translates the chapter and returns the translated token
// table plus a rendered document whose span ids address it. progress,
// when non-nil, is called after each completed chunk.
func (t *Translator) Translate(ctx context.Context, req *Request, progress func(done, total int)) (*Result, error) {
	if req.TargetLang == "" {
		return nil, fmt.Errorf("target language required")
	}

	blocks, err := normalize.ExtractBlocks(req.HTML)
	if err != nil {
		return nil, fmt.Errorf("extract blocks: %w", err)
	}
	if len(blocks) == 0 {
		text := req.Tokens.Text()
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("chapter has no translatable text")
		}
		blocks = []normalize.Block{{Tag: "p", Text: text}}
	}

	type chunk struct {
		block int
		text  string
	}
	var work []chunk
	for i, b := range blocks {
		for _, c := range normalize.ChunkSentences(b.Text, t.maxChunkChars) {
			work = append(work, chunk{block: i, text: c})
		}
	}

	res := &Result{}
	parts := make([][]string, len(blocks))
	system := systemPrompt(req.SourceLang, req.TargetLang)

	for i, w := range work {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := t.translateChunk(ctx, req.BookID, system, w.text)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(work), err)
		}
		parts[w.block] = append(parts[w.block], out.text)

		res.Calls++
		res.TotalTokens += out.totalTokens
		res.CostUSD += out.costUSD
		if progress != nil {
			progress(i+1, len(work))
		}
	}

	translated := make([]normalize.Block, len(blocks))
	for i := range blocks {
		translated[i] = normalize.Block{
			Tag:  blocks[i].Tag,
			Text: strings.Join(parts[i], " "),
		}
	}

	norm, err := normalize.Chapter(renderDocument(translated), nil)
	if err != nil {
		return nil, fmt.Errorf("tokenize translation: %w", err)
	}

	res.Translation = &types.Translation{
		BookID:       req.BookID,
		ChapterIndex: req.ChapterIndex,
		Language:     req.TargetLang,
		Tokens:       norm.Tokens,
		HTML:         string(norm.HTML),
		Fingerprint:  Fingerprint(req.BookID, req.ChapterIndex, req.TargetLang, req.Tokens),
		CreatedAt:    time.Now().UTC(),
	}

	t.logger.Info("chapter translated",
		"book_id", req.BookID,
		"chapter", req.ChapterIndex,
		"target_lang", req.TargetLang,
		"chunks", res.Calls,
		"tokens", len(norm.Tokens),
	)
	return res, nil
}

type chunkResult struct {
	text        string
	totalTokens int
	costUSD     float64
}

func (t *Translator) translateChunk(ctx context.Context, bookID, system, text string) (*chunkResult, error) {
	chatReq := &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: text},
		},
		Model:       t.model,
		Temperature: 0.3,
		ResponseFormat: &providers.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: translationSchema,
		},
	}

	result, err := t.chat.Chat(ctx, chatReq)
	t.metrics.RecordChat(ctx, metrics.RecordOpts{
		BookID:     bookID,
		Stage:      metrics.StageTranslate,
		Characters: len(text),
	}, result, err)
	if err != nil {
		return nil, fmt.Errorf("translation call failed: %w", err)
	}
	if len(result.ParsedJSON) == 0 {
		return nil, fmt.Errorf("provider returned no structured output")
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(result.ParsedJSON, &payload); err != nil {
		return nil, fmt.Errorf("parse translation payload: %w", err)
	}
	if strings.TrimSpace(payload.Text) == "" {
		return nil, fmt.Errorf("provider returned empty translation")
	}

	return &chunkResult{
		text:        strings.TrimSpace(payload.Text),
		totalTokens: result.TotalTokens,
		costUSD:     result.CostUSD,
	}, nil
}

func systemPrompt(sourceLang, targetLang string) string {
	var sb strings.Builder
	sb.WriteString("You are a professional literary translator. Translate the user's text")
	if sourceLang != "" {
		fmt.Fprintf(&sb, " from %s", sourceLang)
	}
	fmt.Fprintf(&sb, " into %s.", targetLang)
	sb.WriteString(" Preserve meaning, tone and register; translate every sentence and add nothing.")
	sb.WriteString(` Respond with JSON of the form {"text": "<translation>"} and no commentary.`)
	return sb.String()
}

// renderDocument rebuilds a minimal chapter document from translated
// blocks. Running it through the normalizer assigns the span ids the
// translated token table addresses.
func renderDocument(blocks []normalize.Block) []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml"><head></head><body>` + "\n")
	for _, b := range blocks {
		tag := b.Tag
		switch tag {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote":
		default:
			tag = "p"
		}
		fmt.Fprintf(&sb, "<%s>%s</%s>\n", tag, xhtml.EscapeString(b.Text), tag)
	}
	sb.WriteString("</body></html>\n")
	return []byte(sb.String())
}
