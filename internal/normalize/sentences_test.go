package normalize

import (
	"strings"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	t.Run("basic splits", func(t *testing.T) {
		got := SplitSentences("First one. Second one! Third one?", 4096)
		want := []string{"First one.", "Second one!", "Third one?"}
		assertSegments(t, got, want)
	})

	t.Run("abbreviations do not split", func(t *testing.T) {
		got := SplitSentences("Dr. Smith met Mr. Jones. They talked.", 4096)
		want := []string{"Dr. Smith met Mr. Jones.", "They talked."}
		assertSegments(t, got, want)
	})

	t.Run("decimals do not split", func(t *testing.T) {
		got := SplitSentences("Pi is 3.14 roughly. Yes.", 4096)
		want := []string{"Pi is 3.14 roughly.", "Yes."}
		assertSegments(t, got, want)
	})

	t.Run("ellipsis stays together", func(t *testing.T) {
		got := SplitSentences("Well... Maybe.", 4096)
		if len(got) == 0 || !strings.Contains(got[0], "...") {
			t.Errorf("ellipsis split apart: %v", got)
		}
	})

	t.Run("closing quotes attach to sentence", func(t *testing.T) {
		got := SplitSentences(`"Stop!" He ran.`, 4096)
		want := []string{`"Stop!"`, "He ran."}
		assertSegments(t, got, want)
	})

	t.Run("lowercase continuation does not split", func(t *testing.T) {
		got := SplitSentences("He arrived at 5 p.m. yesterday. Then left.", 4096)
		want := []string{"He arrived at 5 p.m. yesterday.", "Then left."}
		assertSegments(t, got, want)
	})

	t.Run("empty input", func(t *testing.T) {
		if got := SplitSentences("   \n\t ", 4096); got != nil {
			t.Errorf("expected nil for blank input, got %v", got)
		}
	})

	t.Run("overlong sentence falls back to clause splits", func(t *testing.T) {
		long := strings.Repeat("alpha beta gamma, ", 40) + "end."
		got := SplitSentences(long, 100)
		if len(got) < 2 {
			t.Fatalf("expected clause-level splits, got %d segments", len(got))
		}
		for i, seg := range got {
			if n := len([]rune(seg)); n > 100 {
				t.Errorf("segment %d has %d runes, want <= 100", i, n)
			}
		}
	})
}

func TestChunkSentences(t *testing.T) {
	t.Run("groups under limit", func(t *testing.T) {
		text := "One two three. Four five six. Seven eight nine."
		got := ChunkSentences(text, 35)
		if len(got) != 2 {
			t.Fatalf("chunk count = %d, want 2: %v", len(got), got)
		}
		if got[0] != "One two three. Four five six." {
			t.Errorf("chunk 0 = %q", got[0])
		}
		if got[1] != "Seven eight nine." {
			t.Errorf("chunk 1 = %q", got[1])
		}
	})

	t.Run("single chunk when everything fits", func(t *testing.T) {
		got := ChunkSentences("Short. Also short.", 4096)
		if len(got) != 1 {
			t.Fatalf("chunk count = %d, want 1: %v", len(got), got)
		}
	})

	t.Run("chunks respect limit", func(t *testing.T) {
		text := strings.Repeat("A sentence here. ", 50)
		for i, chunk := range ChunkSentences(text, 64) {
			if n := len([]rune(chunk)); n > 64 {
				t.Errorf("chunk %d has %d runes, want <= 64", i, n)
			}
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := ChunkSentences("", 64); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})
}

func assertSegments(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("segment count = %d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, got[i], want[i])
		}
	}
}
