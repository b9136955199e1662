package keywords

import (
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

const sample = `Document extraction turns binary files into text. A document extraction
pipeline detects the MIME type, runs an extractor and post-processes the text.
Keyword extraction finds the important phrases of a document. Optical character
recognition handles scanned pages. Document extraction is fast.`

func kwCfg(alg string) *config.KeywordConfig {
	c := (&config.ExtractionConfig{Keywords: &config.KeywordConfig{Algorithm: alg}}).WithDefaults()
	return c.Keywords
}

func texts(kws []document.Keyword) []string {
	out := make([]string, len(kws))
	for i, k := range kws {
		out[i] = k.Text
	}
	return out
}

func TestExtract_Algorithms(t *testing.T) {
	for _, alg := range []string{AlgorithmYAKE, AlgorithmRAKE} {
		t.Run(alg, func(t *testing.T) {
			kws, err := Extract(sample, kwCfg(alg))
			if err != nil {
				t.Fatal(err)
			}
			if len(kws) == 0 || len(kws) > config.DefaultMaxKeywords {
				t.Fatalf("got %d keywords", len(kws))
			}
			for i, k := range kws {
				if k.Score <= 0 || k.Score > 1 {
					t.Errorf("%q: score %f out of (0,1]", k.Text, k.Score)
				}
				if i > 0 && k.Score > kws[i-1].Score {
					t.Errorf("not sorted at %d", i)
				}
				if k.Algorithm != alg || len(k.Positions) == 0 {
					t.Errorf("keyword %+v", k)
				}
				words := strings.Fields(k.Text)
				for _, w := range []string{words[0], words[len(words)-1]} {
					if w == "the" || w == "a" || w == "is" {
						t.Errorf("%q starts or ends with a stopword", k.Text)
					}
				}
			}
			joined := strings.Join(texts(kws), "|")
			if !strings.Contains(joined, "extraction") {
				t.Errorf("expected an extraction phrase, got %s", joined)
			}
		})
	}
}

func TestExtract_MaxAndMinScore(t *testing.T) {
	cfg := kwCfg(AlgorithmRAKE)
	cfg.MaxKeywords = 2
	kws, _ := Extract(sample, cfg)
	if len(kws) != 2 {
		t.Fatalf("max keywords: got %d", len(kws))
	}
	cfg = kwCfg(AlgorithmRAKE)
	cfg.MinScore = 1
	kws, _ = Extract(sample, cfg)
	for _, k := range kws {
		if k.Score < 1 {
			t.Errorf("min score not applied: %+v", k)
		}
	}
}

func TestExtract_NgramRange(t *testing.T) {
	cfg := kwCfg(AlgorithmYAKE)
	cfg.NgramRange = [2]int{2, 2}
	kws, _ := Extract(sample, cfg)
	for _, k := range kws {
		if n := len(strings.Fields(k.Text)); n != 2 {
			t.Errorf("%q has %d words", k.Text, n)
		}
	}
}

func TestExtract_Edge(t *testing.T) {
	if kws, err := Extract("   ", kwCfg(AlgorithmYAKE)); err != nil || kws != nil {
		t.Errorf("blank: %v, %v", kws, err)
	}
	if kws, err := Extract("the and of", kwCfg(AlgorithmYAKE)); err != nil || len(kws) != 0 {
		t.Errorf("stopwords only: %v, %v", kws, err)
	}
	cfg := kwCfg("textrank")
	if _, err := Extract(sample, cfg); !errors.Is(err, docerr.ErrValidation) {
		t.Errorf("unknown algorithm: %v", err)
	}
}

func TestTokenize_Boundaries(t *testing.T) {
	toks := tokenize("Hello, world. New sentence")
	if len(toks) != 4 {
		t.Fatalf("tokens: %+v", toks)
	}
	if !toks[1].boundary || toks[3].boundary {
		t.Errorf("boundaries: %+v", toks)
	}
	if toks[2].sentence != 1 || toks[2].offset != 14 {
		t.Errorf("sentence/offset: %+v", toks[2])
	}
}
