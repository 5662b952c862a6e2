package chunk

import (
	"strings"
	"testing"
)

func TestSplit_Sentence(t *testing.T) {
	c := NewChunker()
	text := strings.Repeat("This is a sentence. ", 50)
	chunks, err := c.Split(text, Options{Strategy: StrategySentence, MaxChunkSize: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.ID == "" {
			t.Errorf("chunk %d has empty ID", i)
		}
		if ch.TokenCount <= 0 {
			t.Errorf("chunk %d has non-positive token count", i)
		}
	}
}

func TestSplit_Token(t *testing.T) {
	c := NewChunker()
	text := strings.Repeat("word ", 500)
	chunks, err := c.Split(text, Options{Strategy: StrategyToken, MaxChunkSize: 50, Overlap: 5})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
}

func TestSplit_Semantic(t *testing.T) {
	c := NewChunker()
	text := "Paragraph one sentence.\n\nParagraph two sentence. Another one here."
	chunks, err := c.Split(text, Options{Strategy: StrategySemantic, MaxChunkSize: 1000})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
}

func TestSplit_UnknownStrategy(t *testing.T) {
	c := NewChunker()
	if _, err := c.Split("x", Options{Strategy: "bogus"}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestSplit_EmptyText(t *testing.T) {
	c := NewChunker()
	chunks, err := c.Split("   ", Options{Strategy: StrategySentence, MaxChunkSize: 100})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for blank text, got %d", len(chunks))
	}
}
