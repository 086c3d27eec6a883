package providers

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseStructuredJSON(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		got, err := parseStructuredJSON(`{"ok":true}`)
		if err != nil {
			t.Fatalf("parseStructuredJSON() error = %v", err)
		}

		var parsed map[string]any
		if err := json.Unmarshal(got, &parsed); err != nil {
			t.Fatalf("failed to unmarshal parsed JSON: %v", err)
		}
		if ok, _ := parsed["ok"].(bool); !ok {
			t.Fatalf("expected ok=true, got %#v", parsed)
		}
	})

	t.Run("strips code fence", func(t *testing.T) {
		content := "```json\n{\"ok\":true}\n```"
		got, err := parseStructuredJSON(content)
		if err != nil {
			t.Fatalf("parseStructuredJSON() error = %v", err)
		}

		var parsed map[string]any
		if err := json.Unmarshal(got, &parsed); err != nil {
			t.Fatalf("failed to unmarshal parsed JSON: %v", err)
		}
		if ok, _ := parsed["ok"].(bool); !ok {
			t.Fatalf("expected ok=true, got %#v", parsed)
		}
	})

	t.Run("recovers object from surrounding prose", func(t *testing.T) {
		content := `Here is the translation you asked for: {"text":"olá"} hope this helps!`
		got, err := parseStructuredJSON(content)
		if err != nil {
			t.Fatalf("parseStructuredJSON() error = %v", err)
		}

		var parsed map[string]string
		if err := json.Unmarshal(got, &parsed); err != nil {
			t.Fatalf("failed to unmarshal parsed JSON: %v", err)
		}
		if parsed["text"] != "olá" {
			t.Fatalf("expected text=olá, got %#v", parsed)
		}
	})

	t.Run("array output", func(t *testing.T) {
		got, err := parseStructuredJSON(`[1, 2, 3]`)
		if err != nil {
			t.Fatalf("parseStructuredJSON() error = %v", err)
		}

		var parsed []int
		if err := json.Unmarshal(got, &parsed); err != nil {
			t.Fatalf("failed to unmarshal parsed JSON: %v", err)
		}
		if len(parsed) != 3 {
			t.Fatalf("expected 3 elements, got %d", len(parsed))
		}
	})

	t.Run("empty content", func(t *testing.T) {
		if _, err := parseStructuredJSON("   "); err == nil {
			t.Fatal("expected error for empty content")
		}
	})

	t.Run("unrecoverable content", func(t *testing.T) {
		if _, err := parseStructuredJSON("I cannot answer that."); err == nil {
			t.Fatal("expected error for non-JSON content")
		}
	})
}

func TestValidateStructuredJSON(t *testing.T) {
	schema := json.RawMessage(`{
		"name":"chapter_translation",
		"strict":true,
		"schema":{
			"type":"object",
			"properties":{
				"tokens":{
					"type":"array",
					"items":{
						"type":"object",
						"properties":{
							"id":{"type":"string"},
							"text":{"type":"string"}
						},
						"required":["id","text"],
						"additionalProperties":false
					}
				}
			},
			"required":["tokens"],
			"additionalProperties":false
		}
	}`)

	t.Run("valid document", func(t *testing.T) {
		valid := json.RawMessage(`{"tokens":[{"id":"w1","text":"olá"}]}`)
		if err := validateStructuredJSON(schema, valid); err != nil {
			t.Fatalf("validateStructuredJSON(valid) error = %v", err)
		}
	})

	t.Run("missing required field", func(t *testing.T) {
		invalid := json.RawMessage(`{"tokens":[{"id":"w1"}]}`)
		if err := validateStructuredJSON(schema, invalid); err == nil {
			t.Fatal("validateStructuredJSON(invalid) expected error, got nil")
		}
	})

	t.Run("extra property rejected", func(t *testing.T) {
		invalid := json.RawMessage(`{"tokens":[],"extra":true}`)
		if err := validateStructuredJSON(schema, invalid); err == nil {
			t.Fatal("validateStructuredJSON(extra) expected error, got nil")
		}
	})

	t.Run("empty schema skips validation", func(t *testing.T) {
		if err := validateStructuredJSON(nil, json.RawMessage(`{"anything":1}`)); err != nil {
			t.Fatalf("validateStructuredJSON(nil schema) error = %v", err)
		}
	})
}

func TestExtractValidationSchema(t *testing.T) {
	t.Run("openai wrapper", func(t *testing.T) {
		raw := json.RawMessage(`{"name":"x","strict":true,"schema":{"type":"object"}}`)
		got, err := extractValidationSchema(raw)
		if err != nil {
			t.Fatalf("extractValidationSchema() error = %v", err)
		}
		if string(got) != `{"type":"object"}` {
			t.Fatalf("expected inner schema, got %s", string(got))
		}
	})

	t.Run("json_schema wrapper", func(t *testing.T) {
		raw := json.RawMessage(`{"type":"json_schema","json_schema":{"name":"x","schema":{"type":"array"}}}`)
		got, err := extractValidationSchema(raw)
		if err != nil {
			t.Fatalf("extractValidationSchema() error = %v", err)
		}
		if string(got) != `{"type":"array"}` {
			t.Fatalf("expected inner schema, got %s", string(got))
		}
	})

	t.Run("bare schema passes through", func(t *testing.T) {
		raw := json.RawMessage(`{"type":"object","properties":{}}`)
		got, err := extractValidationSchema(raw)
		if err != nil {
			t.Fatalf("extractValidationSchema() error = %v", err)
		}
		if string(got) != string(raw) {
			t.Fatalf("expected passthrough, got %s", string(got))
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if _, err := extractValidationSchema(json.RawMessage(`{nope`)); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}

func TestSanitizeStructuredSchemaForModel_AnthropicRemovesIntegerBounds(t *testing.T) {
	raw := json.RawMessage(`{
		"name":"test_schema",
		"strict":true,
		"schema":{
			"type":"object",
			"properties":{
				"level":{"type":"integer","minimum":1,"maximum":3},
				"confidence":{"type":"number","minimum":0.0,"maximum":1.0}
			},
			"required":["level"]
		}
	}`)

	got, err := sanitizeStructuredSchemaForModel("anthropic/claude-opus-4.6", raw)
	if err != nil {
		t.Fatalf("sanitizeStructuredSchemaForModel() error = %v", err)
	}

	if strings.Contains(string(got), `"minimum":1`) || strings.Contains(string(got), `"maximum":3`) {
		t.Fatalf("integer minimum/maximum should be removed, got: %s", string(got))
	}
	if !strings.Contains(string(got), `"minimum":0`) && !strings.Contains(string(got), `"minimum":0.0`) {
		t.Fatalf("number minimum should remain, got: %s", string(got))
	}
}

func TestSanitizeStructuredSchemaForModel_NonAnthropicUnchanged(t *testing.T) {
	raw := json.RawMessage(`{"schema":{"type":"object","properties":{"x":{"type":"integer","minimum":1}}}}`)
	got, err := sanitizeStructuredSchemaForModel("openai/gpt-4.1", raw)
	if err != nil {
		t.Fatalf("sanitizeStructuredSchemaForModel() error = %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("non-anthropic schema should be unchanged, got: %s", string(got))
	}
}

func TestAdaptedResponseFormat(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		got, err := adaptedResponseFormat("openai/gpt-4.1", nil)
		if err != nil {
			t.Fatalf("adaptedResponseFormat() error = %v", err)
		}
		if got != nil {
			t.Fatal("expected nil response format")
		}
	})

	t.Run("anthropic models skip native format", func(t *testing.T) {
		rf := &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: json.RawMessage(`{"schema":{"type":"object"}}`),
		}
		got, err := adaptedResponseFormat("anthropic/claude-sonnet-4", rf)
		if err != nil {
			t.Fatalf("adaptedResponseFormat() error = %v", err)
		}
		if got != nil {
			t.Fatal("expected nil response format for anthropic model")
		}
	})

	t.Run("other models keep schema", func(t *testing.T) {
		rf := &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: json.RawMessage(`{"schema":{"type":"object"}}`),
		}
		got, err := adaptedResponseFormat("openai/gpt-4.1", rf)
		if err != nil {
			t.Fatalf("adaptedResponseFormat() error = %v", err)
		}
		if got == nil {
			t.Fatal("expected response format")
		}
		if got.Type != "json_schema" {
			t.Errorf("Type = %q, want json_schema", got.Type)
		}
		if string(got.JSONSchema) != `{"schema":{"type":"object"}}` {
			t.Errorf("JSONSchema = %s", string(got.JSONSchema))
		}
	})
}

func TestStructuredRepairPrompt(t *testing.T) {
	schema := json.RawMessage(`{"type":"object"}`)
	issue := errors.New("unexpected end of JSON input")
	prompt := structuredRepairPrompt(schema, `{"bad":`, issue)

	// The prompt must carry the schema, the failed output, and the issue
	// so the model can correct itself.
	if !strings.Contains(prompt, `{"type":"object"}`) {
		t.Error("prompt should include the schema")
	}
	if !strings.Contains(prompt, `{"bad":`) {
		t.Error("prompt should include the previous output")
	}
	if !strings.Contains(prompt, "unexpected end of JSON input") {
		t.Error("prompt should include the validation issue")
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "json fence",
			input: "```json\n{\"a\":1}\n```",
			want:  `{"a":1}`,
		},
		{
			name:  "bare fence",
			input: "```\n[1,2]\n```",
			want:  `[1,2]`,
		},
		{
			name:  "no fence",
			input: `{"a":1}`,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFences(tt.input); got != tt.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractJSONCandidate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "object in prose",
			input: `Sure! {"a":1} Done.`,
			want:  `{"a":1}`,
		},
		{
			name:  "array in prose",
			input: `Result: [1,2,3].`,
			want:  `[1,2,3]`,
		},
		{
			name:  "no JSON",
			input: `nothing here`,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSONCandidate(tt.input); got != tt.want {
				t.Errorf("extractJSONCandidate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
