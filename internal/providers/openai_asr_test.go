package providers

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIWhisperClient_Transcribe(t *testing.T) {
	t.Run("successful transcription", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "POST" {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}

			if err := r.ParseMultipartForm(32 << 20); err != nil {
				t.Errorf("failed to parse multipart form: %v", err)
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			if got := r.FormValue("model"); got != "whisper-1" {
				t.Errorf("model = %q, want whisper-1", got)
			}
			if got := r.FormValue("response_format"); got != "verbose_json" {
				t.Errorf("response_format = %q, want verbose_json", got)
			}
			if got := r.FormValue("timestamp_granularities[]"); got != "word" {
				t.Errorf("timestamp_granularities[] = %q, want word", got)
			}
			if got := r.FormValue("language"); got != "pt" {
				t.Errorf("language = %q, want pt", got)
			}

			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("missing file part: %v", err)
				http.Error(w, "missing file", http.StatusBadRequest)
				return
			}
			defer file.Close()
			if header.Filename != "chapter.mp3" {
				t.Errorf("filename = %q, want chapter.mp3", header.Filename)
			}
			audio, _ := io.ReadAll(file)
			if string(audio) != "fake-mp3-bytes" {
				t.Errorf("file content = %q", audio)
			}

			resp := map[string]any{
				"task":     "transcribe",
				"language": "portuguese",
				"duration": 2.5,
				"text":     "olá mundo",
				"words": []map[string]any{
					{"word": "olá", "start": 0.0, "end": 0.8},
					{"word": "mundo", "start": 0.9, "end": 2.5},
				},
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		client := NewOpenAIWhisperClient(OpenAIWhisperConfig{
			APIKey:  "test-key",
			BaseURL: server.URL + "/audio/transcriptions",
		})

		result, err := client.Transcribe(context.Background(), &ASRRequest{
			Audio:    []byte("fake-mp3-bytes"),
			Filename: "chapter.mp3",
			Language: "pt-BR",
		})

		if err != nil {
			t.Fatalf("Transcribe() error = %v", err)
		}
		if !result.Success {
			t.Error("expected Success = true")
		}
		if result.Text != "olá mundo" {
			t.Errorf("Text = %q", result.Text)
		}
		if result.DurationMS != 2500 {
			t.Errorf("DurationMS = %d, want 2500", result.DurationMS)
		}
		if len(result.Words) != 2 {
			t.Fatalf("len(Words) = %d, want 2", len(result.Words))
		}
		if result.Words[1].Text != "mundo" || result.Words[1].End != 2.5 {
			t.Errorf("Words[1] = %+v", result.Words[1])
		}

		wantCost := 2.5 / 60.0 * 0.006
		if math.Abs(result.CostUSD-wantCost) > 1e-9 {
			t.Errorf("CostUSD = %v, want %v", result.CostUSD, wantCost)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"message": "Rate limit reached"}}`))
		}))
		defer server.Close()

		client := NewOpenAIWhisperClient(OpenAIWhisperConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
		})

		result, err := client.Transcribe(context.Background(), &ASRRequest{
			Audio: []byte("x"),
		})

		if err == nil {
			t.Fatal("expected error")
		}
		if result.Success {
			t.Error("expected Success = false")
		}

		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("expected RateLimitError, got %T", err)
		}
		if rle.RetryAfter != 7*time.Second {
			t.Errorf("RetryAfter = %v, want 7s", rle.RetryAfter)
		}
	})

	t.Run("API error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "Invalid file format"}}`))
		}))
		defer server.Close()

		client := NewOpenAIWhisperClient(OpenAIWhisperConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
		})

		result, err := client.Transcribe(context.Background(), &ASRRequest{
			Audio: []byte("x"),
		})

		if err == nil {
			t.Fatal("expected error")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
	})

	t.Run("empty audio", func(t *testing.T) {
		client := NewOpenAIWhisperClient(OpenAIWhisperConfig{APIKey: "test-key"})

		result, err := client.Transcribe(context.Background(), &ASRRequest{})
		if err == nil {
			t.Fatal("expected error for empty audio")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
	})
}

func TestOpenAIWhisperClient_Config(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		client := NewOpenAIWhisperClient(OpenAIWhisperConfig{APIKey: "test-key"})

		if client.Name() != OpenAIWhisperName {
			t.Errorf("Name() = %s, want %s", client.Name(), OpenAIWhisperName)
		}
		if client.Model() != "whisper-1" {
			t.Errorf("Model() = %s, want whisper-1", client.Model())
		}
		if client.RequestsPerSecond() != 2.0 {
			t.Errorf("RequestsPerSecond() = %f, want 2.0", client.RequestsPerSecond())
		}
		if client.MaxRetries() != 3 {
			t.Errorf("MaxRetries() = %d, want 3", client.MaxRetries())
		}
	})

	t.Run("interface compliance", func(t *testing.T) {
		var _ ASRProvider = (*OpenAIWhisperClient)(nil)
	})
}

// TestOpenAIWhisperIntegration runs a real transcription against the OpenAI
// API. Requires OPENAI_API_KEY environment variable to be set.
func TestOpenAIWhisperIntegration(t *testing.T) {
	cfg := LoadTestConfig()
	if !cfg.HasOpenAI() {
		t.Skip("OPENAI_API_KEY not set - skipping integration test")
	}

	client := cfg.NewOpenAIWhisperClient()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}
