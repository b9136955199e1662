package langdetect

import (
	"strings"
	"testing"

	"github.com/hazyhaar/docextract/config"
)

const (
	english = "The quick brown fox jumps over the lazy dog. This sentence is written in plain English and it talks about documents, extraction and the weather of the day."
	french  = "Le renard brun rapide saute par-dessus le chien paresseux. Cette phrase est écrite en français et elle parle de documents, de l'extraction et du temps qu'il fait aujourd'hui."
)

func TestAnalyze_Single(t *testing.T) {
	got := Analyze(english, 0.1, false)
	if len(got) != 1 || got[0].Code != "eng" {
		t.Fatalf("got %+v", got)
	}
	if got[0].Coverage != 1 {
		t.Errorf("coverage %f", got[0].Coverage)
	}
}

func TestAnalyze_Multiple(t *testing.T) {
	text := strings.Join([]string{english, french, english}, "\n\n")
	got := Analyze(text, 0.1, true)
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Code != "eng" || got[1].Code != "fra" {
		t.Errorf("order by coverage: %+v", got)
	}
	if got[0].Coverage <= got[1].Coverage {
		t.Errorf("coverage: %+v", got)
	}
}

func TestAnalyze_ConfidenceGate(t *testing.T) {
	if got := Analyze(english, 1.01, false); got != nil {
		t.Errorf("confidence above 1 must reject everything: %+v", got)
	}
	if got := Analyze("   ", 0, false); got != nil {
		t.Errorf("blank: %+v", got)
	}
}

func TestDetect_Config(t *testing.T) {
	if got := Detect(english, nil); got != nil {
		t.Errorf("nil config must disable: %v", got)
	}
	cfg := &config.LanguageDetectionConfig{Enabled: config.Bool(false)}
	if got := Detect(english, cfg); got != nil {
		t.Errorf("disabled: %v", got)
	}
	cfg = &config.LanguageDetectionConfig{MinConfidence: 0.1}
	if got := Detect(english, cfg); len(got) != 1 || got[0] != "eng" {
		t.Errorf("enabled: %v", got)
	}
}

func TestSegments_MergeShort(t *testing.T) {
	segs := segments("Title\n\n" + english + "\n\nEnd")
	if len(segs) != 1 {
		t.Fatalf("got %d segments: %q", len(segs), segs)
	}
	if !strings.HasPrefix(segs[0], "Title\n") || !strings.HasSuffix(segs[0], "\nEnd") {
		t.Errorf("segment: %q", segs[0])
	}
}
