package embedding

import (
	"sort"

	"github.com/hazyhaar/docextract/docerr"
)

// Preset bundles a model with the chunking parameters it works best with.
type Preset struct {
	Name        string `json:"name"`
	ModelID     string `json:"model"`
	Dimensions  int    `json:"dimensions"`
	ChunkSize   int    `json:"chunk_size"`
	Overlap     int    `json:"overlap"`
	Description string `json:"description"`
}

// DefaultPreset is used when a preset config names none.
const DefaultPreset = "balanced"

var presets = map[string]Preset{
	"fast": {
		Name: "fast", ModelID: "AllMiniLML6V2Q", Dimensions: 384,
		ChunkSize: 512, Overlap: 50,
		Description: "Small quantized model for speed over quality.",
	},
	"balanced": {
		Name: "balanced", ModelID: "BGEBaseENV15", Dimensions: 768,
		ChunkSize: 1024, Overlap: 100,
		Description: "Good general-purpose quality at moderate cost.",
	},
	"quality": {
		Name: "quality", ModelID: "BGELargeENV15", Dimensions: 1024,
		ChunkSize: 2000, Overlap: 200,
		Description: "Large model for the best retrieval quality.",
	},
	"multilingual": {
		Name: "multilingual", ModelID: "MultilingualE5Base", Dimensions: 768,
		ChunkSize: 1024, Overlap: 100,
		Description: "Multilingual model for non-English or mixed content.",
	},
}

// LookupPreset returns the named preset. "" gives DefaultPreset.
func LookupPreset(name string) (Preset, error) {
	if name == "" {
		name = DefaultPreset
	}
	p, ok := presets[name]
	if !ok {
		return Preset{}, docerr.NotFound("embedding preset %q", name)
	}
	return p, nil
}

// Presets lists every preset sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
