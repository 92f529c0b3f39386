package retrieval

import (
	"math"

	"github.com/combiphar/corpus/internal/vector"
)

// mmrSelect greedily picks up to limit candidates balancing relevance
// against similarity to what was already selected:
// score = λ·relevance − (1−λ)·maxSim·relevance. Text similarity uses token
// Jaccard as a proxy for embedding distance.
func mmrSelect(cands []*vector.Candidate, lambda float64, limit int) []*vector.Candidate {
	if limit <= 0 {
		return nil
	}
	if len(cands) <= 1 {
		return cands
	}

	tokens := make([][]string, len(cands))
	for i, c := range cands {
		tokens[i] = tokenize(c.Content)
	}

	selected := []*vector.Candidate{cands[0]}
	selectedTokens := [][]string{tokens[0]}
	remaining := make([]int, 0, len(cands)-1)
	for i := 1; i < len(cands); i++ {
		remaining = append(remaining, i)
	}

	for len(selected) < limit && len(remaining) > 0 {
		bestPos := -1
		bestScore := math.Inf(-1)

		for pos, idx := range remaining {
			relevance := cands[idx].Similarity

			maxSim := 0.0
			for _, sel := range selectedTokens {
				if sim := jaccard(tokens[idx], sel); sim > maxSim {
					maxSim = sim
				}
			}

			score := lambda*relevance - (1-lambda)*maxSim*relevance
			if score > bestScore {
				bestScore = score
				bestPos = pos
			}
		}

		if bestPos < 0 {
			break
		}
		idx := remaining[bestPos]
		selected = append(selected, cands[idx])
		selectedTokens = append(selectedTokens, tokens[idx])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	return selected
}
