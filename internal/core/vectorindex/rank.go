package vectorindex

import (
	"math"
	"sort"

	"github.com/markdave123-py/pdfchat/internal/models"
)

// Rank applies the dual cutoff to raw candidates:
//
//	cutoff = max(MinScoreCutoff, best*relative)
//
// Candidates under cutoff or under ScoreThreshold are dropped, the rest are
// sorted by score descending and truncated to TopK. NaN scores, produced by
// zero vectors, never match.
func Rank(cands []models.SearchResult, opts models.SearchOptions, relative float64) []models.SearchResult {
	valid := make([]models.SearchResult, 0, len(cands))
	best := math.Inf(-1)
	for _, c := range cands {
		score := c.Metadata.SimilarityScore
		if math.IsNaN(score) {
			continue
		}
		if score > best {
			best = score
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil
	}

	cutoff := math.Max(opts.MinScoreCutoff, best*relative)

	out := valid[:0]
	for _, c := range valid {
		score := c.Metadata.SimilarityScore
		if score < opts.ScoreThreshold || score < cutoff {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metadata.SimilarityScore > out[j].Metadata.SimilarityScore
	})
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
