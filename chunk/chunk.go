// Package chunk splits extracted text into overlapping chunks for retrieval
// and embedding.
//
// Splitting strategy, per chunk:
//  1. Take up to MaxChars characters.
//  2. Cut at the best boundary inside that window: a heading start, then a
//     paragraph break, a line break, a sentence end, a word gap.
//  3. Start the next chunk up to MaxOverlap characters before the cut,
//     aligned to a word start.
//
// Offsets are rune indices into the input, end exclusive. Chunk.Content is
// always exactly the input between its offsets, so the chunks (minus
// overlap) reconstruct the input.
package chunk

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hazyhaar/docextract/document"
)

// Options configures the chunker.
type Options struct {
	// MaxChars is the maximum chunk length in characters. Default: 1000.
	MaxChars int
	// MaxOverlap is the maximum overlap between consecutive chunks.
	// Zero means the default of 200; pass a negative value for no overlap.
	MaxOverlap int

	// Headings are preferred cut points. A chunk that can end right before
	// a heading does.
	Headings []Heading
	// Pages map offsets to page numbers when the document is paged.
	Pages []PageSpan
}

// Heading marks a heading starting at rune offset Offset.
type Heading struct {
	Offset int
	Text   string
}

// PageSpan is the rune range [Start, End) of one page.
type PageSpan struct {
	Number int
	Start  int
	End    int
}

func (o *Options) defaults() {
	if o.MaxChars <= 0 {
		o.MaxChars = 1000
	}
	switch {
	case o.MaxOverlap < 0:
		o.MaxOverlap = 0
	case o.MaxOverlap == 0:
		o.MaxOverlap = 200
	}
	if o.MaxOverlap >= o.MaxChars {
		o.MaxOverlap = o.MaxChars / 2
	}
}

// Split divides text into chunks. Empty or whitespace-only text yields nil.
func Split(text string, opts Options) []document.Chunk {
	opts.defaults()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	headings := append([]Heading(nil), opts.Headings...)
	sort.Slice(headings, func(i, j int) bool { return headings[i].Offset < headings[j].Offset })

	var chunks []document.Chunk
	for start := 0; start < n; {
		cut := n
		if n-start > opts.MaxChars {
			cut = findCut(runes, start, start+opts.MaxChars, opts.MaxOverlap, headings)
		}

		content := string(runes[start:cut])
		meta := document.ChunkMetadata{
			CharStart:  start,
			CharEnd:    cut,
			TokenCount: EstimateTokens(content),
			ChunkIndex: len(chunks),
			Heading:    headingAt(headings, start, cut),
		}
		meta.FirstPage, meta.LastPage = pageRange(opts.Pages, start, cut)
		chunks = append(chunks, document.Chunk{Content: content, Metadata: meta})

		if cut >= n {
			break
		}
		start = nextStart(runes, start, cut, opts.MaxOverlap)
	}

	for i := range chunks {
		chunks[i].Metadata.TotalChunks = len(chunks)
	}
	return chunks
}

// findCut picks the end of the chunk starting at start. The cut lies in
// (start+floor, limit] so the next chunk always advances past start.
func findCut(runes []rune, start, limit, overlap int, headings []Heading) int {
	floor := (limit - start) / 3
	if floor <= overlap {
		floor = overlap + 1
	}
	lo := start + floor
	if lo > limit {
		lo = limit
	}

	// Heading starts: the latest one inside the window.
	for i := len(headings) - 1; i >= 0; i-- {
		h := headings[i].Offset
		if h > lo && h <= limit {
			return h
		}
	}

	for _, level := range []func([]rune, int) bool{isParagraphBreak, isLineBreak, isSentenceEnd, isWordGap} {
		for i := limit; i > lo; i-- {
			if level(runes, i) {
				return i
			}
		}
	}
	return limit
}

// Boundary predicates report whether a cut at i (between runes[i-1] and
// runes[i]) falls on that kind of boundary.

func isParagraphBreak(r []rune, i int) bool {
	return i >= 2 && i < len(r) && r[i-1] == '\n' && r[i-2] == '\n' && r[i] != '\n'
}

func isLineBreak(r []rune, i int) bool {
	return i >= 1 && i < len(r) && r[i-1] == '\n' && r[i] != '\n'
}

func isSentenceEnd(r []rune, i int) bool {
	if i < 2 || i >= len(r) || !unicode.IsSpace(r[i-1]) {
		return false
	}
	switch r[i-2] {
	case '.', '!', '?', '。', '！', '？':
		return !unicode.IsSpace(r[i])
	}
	return false
}

func isWordGap(r []rune, i int) bool {
	return i >= 1 && i < len(r) && unicode.IsSpace(r[i-1]) && !unicode.IsSpace(r[i])
}

// nextStart backs off up to overlap characters from cut and moves forward
// to the first word start, never reaching cut's left neighbour's start.
func nextStart(runes []rune, start, cut, overlap int) int {
	if overlap <= 0 {
		return cut
	}
	s := cut - overlap
	if s <= start {
		s = start + 1
	}
	for s < cut && !(s == 0 || unicode.IsSpace(runes[s-1]) && !unicode.IsSpace(runes[s])) {
		s++
	}
	return s
}

func headingAt(headings []Heading, start, end int) string {
	text := ""
	for _, h := range headings {
		if h.Offset >= end {
			break
		}
		if h.Offset <= start || text == "" {
			text = h.Text
		}
	}
	return text
}

func pageRange(pages []PageSpan, start, end int) (first, last int) {
	for _, p := range pages {
		if p.End <= start || p.Start >= end {
			continue
		}
		if first == 0 || p.Number < first {
			first = p.Number
		}
		if p.Number > last {
			last = p.Number
		}
	}
	return first, last
}

// MarkdownHeadings returns the "#"-prefixed lines of text as headings with
// rune offsets.
func MarkdownHeadings(text string) []Heading {
	var out []Heading
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			rest := trimmed[level:]
			if level <= 6 && (rest == "" || rest[0] == ' ') {
				out = append(out, Heading{Offset: offset, Text: strings.TrimSpace(rest)})
			}
		}
		offset += utf8.RuneCountInString(line)
	}
	return out
}

// EstimateTokens estimates a BPE-style token count: the mean of chars/4 and
// words*4/3.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	words := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
		} else if !inWord {
			inWord = true
			words++
		}
	}
	charEst := n / 4
	wordEst := words * 4 / 3
	return (charEst + wordEst) / 2
}
