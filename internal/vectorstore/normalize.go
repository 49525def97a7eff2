package vectorstore

import (
	"math"
	"sort"
)

// Normalize maps raw matches into SearchResults: scores are clamped to
// [0, 1], the stored text moves out of metadata into Text, and results are
// ordered by descending score (ties by id) and cut to limit. A limit of
// zero or less keeps everything.
func Normalize(matches []Match, limit int) []SearchResult {
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		meta := make(map[string]any, len(m.Metadata))
		var text string
		for k, v := range m.Metadata {
			if k == MetaText {
				if s, ok := v.(string); ok {
					text = s
					continue
				}
			}
			if k == payloadNamespace {
				continue
			}
			meta[k] = v
		}
		results = append(results, SearchResult{
			ID:       m.ID,
			Score:    clampScore(m.Score),
			Metadata: meta,
			Text:     text,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func clampScore(s float32) float32 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
