package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hazyhaar/docextract/document"
)

// reconstruct rebuilds the input from chunks by dropping each chunk's
// overlap with its predecessor.
func reconstruct(t *testing.T, chunks []document.Chunk) string {
	t.Helper()
	var b strings.Builder
	prevEnd := 0
	for i, c := range chunks {
		m := c.Metadata
		if i == 0 && m.CharStart != 0 {
			t.Fatalf("first chunk starts at %d", m.CharStart)
		}
		if m.CharStart > prevEnd {
			t.Fatalf("gap before chunk %d: %d > %d", i, m.CharStart, prevEnd)
		}
		r := []rune(c.Content)
		if len(r) != m.CharEnd-m.CharStart {
			t.Fatalf("chunk %d: content length %d != offsets %d..%d", i, len(r), m.CharStart, m.CharEnd)
		}
		b.WriteString(string(r[prevEnd-m.CharStart:]))
		prevEnd = m.CharEnd
	}
	return b.String()
}

func TestSplit_Empty(t *testing.T) {
	for _, s := range []string{"", "  \n\t "} {
		if got := Split(s, Options{}); got != nil {
			t.Errorf("Split(%q) = %v, want nil", s, got)
		}
	}
}

func TestSplit_ShortText(t *testing.T) {
	text := "Hello world this is a short text."
	chunks := Split(text, Options{MaxChars: 100})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Content != text || c.Metadata.CharStart != 0 || c.Metadata.CharEnd != utf8.RuneCountInString(text) {
		t.Errorf("chunk: %+v", c)
	}
	if c.Metadata.TotalChunks != 1 || c.Metadata.TokenCount == 0 {
		t.Errorf("metadata: %+v", c.Metadata)
	}
}

func TestSplit_CoverageAndBounds(t *testing.T) {
	// WHAT: long mixed text split with several size/overlap settings.
	// WHY: chunks must stay within MaxChars, overlap at most MaxOverlap,
	// keep monotonic offsets and reconstruct the input exactly.
	para := "Lorem ipsum dolor sit amet. Consectetur adipiscing élit, sed do eiusmod tempor.\n"
	text := strings.Repeat(para, 12) + "\n\n" + strings.Repeat("日本語のテキスト。", 40) + "\n\n" + strings.Repeat("x", 350)

	tests := []struct {
		max, overlap int
	}{
		{100, 20},
		{250, 50},
		{80, -1},
		{1000, 0},
		{60, 59},
	}
	for _, tt := range tests {
		chunks := Split(text, Options{MaxChars: tt.max, MaxOverlap: tt.overlap})
		if len(chunks) == 0 {
			t.Fatalf("%+v: no chunks", tt)
		}
		wantOverlap := tt.overlap
		if wantOverlap < 0 {
			wantOverlap = 0
		}
		for i, c := range chunks {
			m := c.Metadata
			if m.CharEnd-m.CharStart > tt.max {
				t.Errorf("%+v chunk %d: %d chars > %d", tt, i, m.CharEnd-m.CharStart, tt.max)
			}
			if m.ChunkIndex != i || m.TotalChunks != len(chunks) {
				t.Errorf("%+v chunk %d: index %d total %d", tt, i, m.ChunkIndex, m.TotalChunks)
			}
			if i > 0 {
				prev := chunks[i-1].Metadata
				if m.CharStart <= prev.CharStart || m.CharEnd <= prev.CharEnd {
					t.Errorf("%+v chunk %d: offsets not monotonic", tt, i)
				}
				if tt.overlap != 0 && prev.CharEnd-m.CharStart > wantOverlap {
					t.Errorf("%+v chunk %d: overlap %d", tt, i, prev.CharEnd-m.CharStart)
				}
			}
		}
		if got := reconstruct(t, chunks); got != text {
			t.Errorf("%+v: reconstruction differs", tt)
		}
	}
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	p1 := strings.Repeat("alpha ", 10) + "end."
	p2 := strings.Repeat("beta ", 10) + "end."
	text := p1 + "\n\n" + p2
	chunks := Split(text, Options{MaxChars: 80, MaxOverlap: -1})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Content, "beta") {
		t.Errorf("second chunk should start at the paragraph: %q", chunks[1].Content)
	}
}

func TestSplit_HeadingBoundary(t *testing.T) {
	text := "# Intro\nShort intro text here.\n# Methods\n" + strings.Repeat("method words ", 8)
	headings := MarkdownHeadings(text)
	if len(headings) != 2 || headings[1].Text != "Methods" {
		t.Fatalf("headings: %+v", headings)
	}
	chunks := Split(text, Options{MaxChars: 70, MaxOverlap: -1, Headings: headings})
	if !strings.HasPrefix(chunks[1].Content, "# Methods") {
		t.Errorf("expected cut before heading, chunk 1 = %q", chunks[1].Content)
	}
	if chunks[0].Metadata.Heading != "Intro" || chunks[1].Metadata.Heading != "Methods" {
		t.Errorf("headings: %q %q", chunks[0].Metadata.Heading, chunks[1].Metadata.Heading)
	}
}

func TestSplit_PageRange(t *testing.T) {
	text := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	chunks := Split(text, Options{MaxChars: 60, MaxOverlap: -1, Pages: []PageSpan{
		{Number: 1, Start: 0, End: 50},
		{Number: 2, Start: 50, End: 100},
	}})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if m := chunks[0].Metadata; m.FirstPage != 1 || m.LastPage != 2 {
		t.Errorf("chunk 0 pages %d-%d", m.FirstPage, m.LastPage)
	}
	if m := chunks[1].Metadata; m.FirstPage != 2 || m.LastPage != 2 {
		t.Errorf("chunk 1 pages %d-%d", m.FirstPage, m.LastPage)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		min  int
		max  int
	}{
		{"", 0, 0},
		{"hello", 0, 2},
		{strings.Repeat("word ", 100), 100, 140},
	}
	for _, tt := range tests {
		got := EstimateTokens(tt.text)
		if got < tt.min || got > tt.max {
			t.Errorf("EstimateTokens(%q...) = %d, want [%d,%d]", tt.text[:min(len(tt.text), 10)], got, tt.min, tt.max)
		}
	}
}

func TestSplit_FixedWidthWords(t *testing.T) {
	// WHAT: 250 characters of five-character words, MaxChars 100,
	// MaxOverlap 20.
	// WHY: ceil((250-20)/(100-20)) chunks, each overlap at most 20, nothing
	// lost.
	text := strings.Repeat("abcd ", 50)
	chunks := Split(text, Options{MaxChars: 100, MaxOverlap: 20})

	want := (250 - 20 + (100 - 20) - 1) / (100 - 20)
	if len(chunks) != want {
		t.Fatalf("got %d chunks, want %d", len(chunks), want)
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c.Content); n > 100 {
			t.Errorf("chunk %d: %d chars", i, n)
		}
		if c.Metadata.TokenCount != EstimateTokens(c.Content) {
			t.Errorf("chunk %d: token count %d", i, c.Metadata.TokenCount)
		}
		if i == 0 {
			continue
		}
		overlap := chunks[i-1].Metadata.CharEnd - c.Metadata.CharStart
		if overlap <= 0 || overlap > 20 {
			t.Errorf("chunk %d: overlap %d", i, overlap)
		}
	}
	if got := reconstruct(t, chunks); got != text {
		t.Errorf("content lost:\n got %q\nwant %q", got, text)
	}
}

func TestSplit_NegativeOverlapDisables(t *testing.T) {
	text := strings.Repeat("abcd ", 50)
	chunks := Split(text, Options{MaxChars: 100, MaxOverlap: -1})
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Metadata.CharStart != chunks[i-1].Metadata.CharEnd {
			t.Errorf("chunk %d overlaps: starts %d, previous ends %d", i, chunks[i].Metadata.CharStart, chunks[i-1].Metadata.CharEnd)
		}
	}
	if got := reconstruct(t, chunks); got != text {
		t.Error("content lost")
	}
}
