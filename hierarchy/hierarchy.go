// Package hierarchy assigns heading levels to text blocks from their font
// sizes.
//
// Font sizes are clustered with 1-D k-means. The cluster holding the most
// text is body; clusters with a larger centroid become h1, h2, ... in
// decreasing size order. Clusters smaller than body stay body.
package hierarchy

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/document"
)

const (
	Body      = "body"
	maxIter   = 100
	maxLevels = 6
)

// Assign returns a copy of blocks with HierarchyLevel set. cfg must have
// defaults applied; a nil or disabled cfg returns blocks unchanged.
//
// Blocks without font information keep their structural Level ("h<Level>"
// or body). When the OCR-derived share of the text reaches
// cfg.OCRCoverageThreshold, font sizes are not trusted and only structural
// levels are used. When every sized block has the same font size, all of
// them are body.
func Assign(blocks []document.TextBlock, cfg *config.HierarchyConfig) []document.TextBlock {
	if !cfg.Active() || len(blocks) == 0 {
		return blocks
	}
	out := append([]document.TextBlock(nil), blocks...)
	for i := range out {
		out[i].HierarchyLevel = structural(out[i].Level)
	}

	if OCRCoverage(out) >= cfg.OCRCoverageThreshold && cfg.OCRCoverageThreshold > 0 {
		return out
	}

	var idx []int
	var sizes []float64
	for i, b := range out {
		if b.FontSize > 0 {
			idx = append(idx, i)
			sizes = append(sizes, b.FontSize)
		}
	}
	if distinct(sizes) < 2 {
		for _, i := range idx {
			if out[i].Level == 0 {
				out[i].HierarchyLevel = Body
			}
		}
		return out
	}

	centroids, assign := KMeans(sizes, cfg.KClusters)

	// Body is the cluster holding the most characters.
	weight := make([]int, len(centroids))
	for j, i := range idx {
		weight[assign[j]] += utf8.RuneCountInString(out[i].Text)
	}
	body := 0
	for c := range weight {
		if weight[c] > weight[body] || (weight[c] == weight[body] && centroids[c] < centroids[body]) {
			body = c
		}
	}

	// Rank clusters above body by decreasing centroid.
	var above []int
	for c := range centroids {
		if centroids[c] > centroids[body] {
			above = append(above, c)
		}
	}
	sort.Slice(above, func(a, b int) bool { return centroids[above[a]] > centroids[above[b]] })
	level := make([]string, len(centroids))
	for c := range level {
		level[c] = Body
	}
	for rank, c := range above {
		level[c] = fmt.Sprintf("h%d", min(rank+1, maxLevels))
	}

	for j, i := range idx {
		out[i].HierarchyLevel = level[assign[j]]
	}
	return out
}

func structural(level int) string {
	if level > 0 {
		return fmt.Sprintf("h%d", min(level, maxLevels))
	}
	return Body
}

// OCRCoverage is the share of characters that came from OCR.
func OCRCoverage(blocks []document.TextBlock) float64 {
	total, ocr := 0, 0
	for _, b := range blocks {
		n := utf8.RuneCountInString(b.Text)
		total += n
		if b.FromOCR {
			ocr += n
		}
	}
	if total == 0 {
		return 0
	}
	return float64(ocr) / float64(total)
}

func distinct(xs []float64) int {
	seen := map[float64]bool{}
	for _, x := range xs {
		seen[x] = true
	}
	return len(seen)
}

// KMeans clusters values into at most k groups. Centroids start at evenly
// spaced quantiles of the distinct values, so results are deterministic.
// It returns the centroids and, for each value, its cluster index.
func KMeans(values []float64, k int) ([]float64, []int) {
	assign := make([]int, len(values))
	if len(values) == 0 || k <= 0 {
		return nil, assign
	}
	uniq := make([]float64, 0, len(values))
	seen := map[float64]bool{}
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			uniq = append(uniq, v)
		}
	}
	sort.Float64s(uniq)
	if k > len(uniq) {
		k = len(uniq)
	}

	centroids := make([]float64, k)
	for c := 0; c < k; c++ {
		if k == 1 {
			centroids[c] = uniq[len(uniq)/2]
			continue
		}
		centroids[c] = uniq[c*(len(uniq)-1)/(k-1)]
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range values {
			best, bestDist := 0, math.Inf(1)
			for c, m := range centroids {
				if d := math.Abs(v - m); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		sum := make([]float64, k)
		n := make([]int, k)
		for i, v := range values {
			sum[assign[i]] += v
			n[assign[i]]++
		}
		for c := range centroids {
			if n[c] > 0 {
				centroids[c] = sum[c] / float64(n[c])
			}
		}
		if !changed && iter > 0 {
			break
		}
	}
	return centroids, assign
}
