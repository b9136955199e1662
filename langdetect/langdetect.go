// Package langdetect detects the languages of extracted text with
// whatlanggo. Codes are ISO 639-3 ("eng", "fra"), the form OCR language
// settings use too.
package langdetect

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"

	"github.com/hazyhaar/docextract/config"
)

// MinSegmentChars is the shortest paragraph considered in multi-language
// mode; shorter ones are merged into their neighbour.
const MinSegmentChars = 40

// Detection is one detected language with its confidence.
type Detection struct {
	Code       string
	Confidence float64
	// Coverage is the share of analysed characters attributed to Code.
	Coverage float64
}

// Detect returns the language codes found in text, most prominent first.
// cfg must have defaults applied; a nil or disabled cfg returns nil.
func Detect(text string, cfg *config.LanguageDetectionConfig) []string {
	if !cfg.Active() {
		return nil
	}
	var codes []string
	for _, d := range Analyze(text, cfg.MinConfidence, cfg.DetectMultiple) {
		codes = append(codes, d.Code)
	}
	return codes
}

// Analyze is Detect with confidences. In multiple mode each paragraph is
// detected on its own and languages are ordered by the characters they
// cover.
func Analyze(text string, minConfidence float64, multiple bool) []Detection {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !multiple {
		if d, ok := detectOne(text, minConfidence); ok {
			d.Coverage = 1
			return []Detection{d}
		}
		return nil
	}

	type acc struct {
		chars int
		conf  float64
		n     int
	}
	byCode := map[string]*acc{}
	total := 0
	for _, seg := range segments(text) {
		d, ok := detectOne(seg, minConfidence)
		if !ok {
			continue
		}
		n := utf8.RuneCountInString(seg)
		a := byCode[d.Code]
		if a == nil {
			a = &acc{}
			byCode[d.Code] = a
		}
		a.chars += n
		a.conf += d.Confidence
		a.n++
		total += n
	}

	out := make([]Detection, 0, len(byCode))
	for code, a := range byCode {
		out = append(out, Detection{
			Code:       code,
			Confidence: a.conf / float64(a.n),
			Coverage:   float64(a.chars) / float64(total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Coverage != out[j].Coverage {
			return out[i].Coverage > out[j].Coverage
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func detectOne(text string, minConfidence float64) (Detection, bool) {
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6393()
	if code == "" || info.Confidence < minConfidence {
		return Detection{}, false
	}
	return Detection{Code: code, Confidence: info.Confidence}, true
}

// segments splits text at blank lines and merges short pieces forward.
func segments(text string) []string {
	var out []string
	var pending string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if pending != "" {
			p = pending + "\n" + p
			pending = ""
		}
		if utf8.RuneCountInString(p) < MinSegmentChars {
			pending = p
			continue
		}
		out = append(out, p)
	}
	if pending != "" {
		if len(out) > 0 {
			out[len(out)-1] += "\n" + pending
		} else {
			out = append(out, pending)
		}
	}
	return out
}
