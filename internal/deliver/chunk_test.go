package deliver

import (
	"fmt"
	"strings"
	"testing"
)

func TestChunkShortTextPasses(t *testing.T) {
	got := Chunk("short message", 2000)
	if len(got) != 1 || got[0] != "short message" {
		t.Fatalf("Chunk = %v, want the text untouched", got)
	}
	if strings.HasPrefix(got[0], "[") {
		t.Error("single chunk must not carry a counter prefix")
	}
}

func TestChunkEmpty(t *testing.T) {
	if got := Chunk("   \n  ", 100); got != nil {
		t.Fatalf("Chunk of whitespace = %v, want nil", got)
	}
}

func TestChunkRespectsLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "Paragraph %d with some moderately long content in it.\n\n", i)
	}

	chunks := Chunk(b.String(), 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 200 {
			t.Errorf("chunk %d is %d chars, over the 200 limit", i, len(c))
		}
		wantPrefix := fmt.Sprintf("[%d/%d] ", i+1, len(chunks))
		if !strings.HasPrefix(c, wantPrefix) {
			t.Errorf("chunk %d = %q, want prefix %q", i, c[:20], wantPrefix)
		}
	}
}

func TestChunkPrefersParagraphBoundaries(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here."
	chunks := Chunk(text, 60)

	for i, c := range chunks {
		body := c[strings.Index(c, "] ")+2:]
		if strings.Contains(body, "paragraph here.\n") && !strings.HasSuffix(body, "paragraph here.") {
			t.Errorf("chunk %d split mid-paragraph: %q", i, body)
		}
	}
}

func TestChunkRoundTrip(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Line %d of the bulletin body with detail.\n", i)
		if i%5 == 4 {
			b.WriteString("\n")
		}
	}
	original := strings.TrimSpace(b.String())

	chunks := Chunk(original, 150)

	// Strip prefixes and compare content ignoring boundary whitespace.
	var parts []string
	for _, c := range chunks {
		body := c
		if i := strings.Index(c, "] "); i >= 0 && strings.HasPrefix(c, "[") {
			body = c[i+2:]
		}
		parts = append(parts, body)
	}
	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	if normalize(strings.Join(parts, " ")) != normalize(original) {
		t.Error("concatenated chunks do not reproduce the original text")
	}
}

func TestChunkTinyLimitDropsPrefix(t *testing.T) {
	text := "hello world, this is a bulletin"
	chunks := Chunk(text, 5)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several at limit 5", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		if len(c) > 5 {
			t.Errorf("chunk %d = %q is %d chars, over the 5 limit", i, c, len(c))
		}
		if strings.HasPrefix(c, "[") {
			t.Errorf("chunk %d = %q carries a prefix the limit cannot fit", i, c)
		}
		total += len(c)
	}
	if total < len(strings.Join(strings.Fields(text), "")) {
		t.Errorf("chunks carry %d payload chars, text lost in splitting", total)
	}
}

func TestChunkWidePrefixStaysUnderLimit(t *testing.T) {
	// Enough text to force a four-digit chunk count, so the real prefix
	// is wider than any fixed small reservation.
	long := strings.Repeat("x", 20000)
	chunks := Chunk(long, 20)
	if len(chunks) < 1000 {
		t.Fatalf("got %d chunks, want at least 1000 at limit 20", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		if len(c) > 20 {
			t.Fatalf("chunk %d = %q is %d chars, over the 20 limit", i, c, len(c))
		}
		wantPrefix := fmt.Sprintf("[%d/%d] ", i+1, len(chunks))
		if !strings.HasPrefix(c, wantPrefix) {
			t.Fatalf("chunk %d = %q, want prefix %q", i, c, wantPrefix)
		}
		total += len(c) - len(wantPrefix)
	}
	if total != 20000 {
		t.Errorf("chunks carry %d payload chars, want all 20000", total)
	}
}

func TestChunkOversizeLine(t *testing.T) {
	long := strings.Repeat("x", 500)
	chunks := Chunk(long, 100)
	if len(chunks) < 5 {
		t.Fatalf("got %d chunks for a 500-char line at limit 100", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d is %d chars, over the limit", i, len(c))
		}
		body := c[strings.Index(c, "] ")+2:]
		total += len(body)
	}
	if total != 500 {
		t.Errorf("chunks carry %d payload chars, want all 500", total)
	}
}
