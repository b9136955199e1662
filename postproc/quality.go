package postproc

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Quality captures how clean extracted text looks.
type Quality struct {
	PrintableRatio float64 `json:"printable_ratio"`
	WordlikeRatio  float64 `json:"wordlike_ratio"`
	VisualRefCount int     `json:"visual_ref_count"`
	Score          float64 `json:"score"`
}

// Measure scores text. Score weights printable characters over word shape
// and lies in [0, 1].
func Measure(text string) Quality {
	q := Quality{
		PrintableRatio: PrintableRatio(text),
		WordlikeRatio:  WordlikeRatio(text),
		VisualRefCount: CountVisualRefs(text),
	}
	if strings.TrimSpace(text) == "" {
		q.Score = 0
		return q
	}
	q.Score = math.Round((0.6*q.PrintableRatio+0.4*q.WordlikeRatio)*1000) / 1000
	return q
}

// NeedsOCR reports whether a paged text layer looks unusable: almost no text
// on pages that carry images, or mostly garbage characters.
func NeedsOCR(charsPerPage, printableRatio float64, hasImages bool) bool {
	return (charsPerPage < 50 && hasImages) || printableRatio < 0.85
}

// PrintableRatio is the share of printable characters in text. Private use
// area, control characters other than \n \r \t, and U+FFFD do not count.
func PrintableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF:
		return true
	case r == 0xFFFD:
		return true
	case r < 0x0020 && r != '\n' && r != '\r' && r != '\t':
		return true
	case r == 0x7F:
		return true
	}
	return false
}

// WordlikeRatio is the share of tokens 2 to 15 characters long.
func WordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}

var visualRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(voir|cf\.?|see|refer\s+to)\s+(la\s+)?(figure|fig\.?|tableau|table|sch[eé]ma|schema|image|illustration|graphique|graph|diagramme|diagram)\s*\d`),
	regexp.MustCompile(`(?i)(figure|fig\.?|tableau|table)\s+\d+`),
}

// CountVisualRefs counts references to figures, tables and diagrams.
func CountVisualRefs(text string) int {
	count := 0
	for _, pat := range visualRefPatterns {
		count += len(pat.FindAllString(text, -1))
	}
	return count
}

var (
	inlineSpace = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// Clean normalizes text to NFC, drops garbage runes, turns CRLF into LF,
// collapses runs of inline whitespace after the indentation, trims line
// ends and keeps at most one blank line between paragraphs. Clean is
// idempotent.
func Clean(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if isGarbageRune(r) {
			return -1
		}
		return r
	}, text)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		body := strings.TrimLeft(l, " \t")
		if strings.TrimSpace(body) == "" {
			lines[i] = ""
			continue
		}
		indent := l[:len(l)-len(body)]
		lines[i] = indent + strings.TrimRight(inlineSpace.ReplaceAllString(body, " "), " ")
	}
	text = blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
