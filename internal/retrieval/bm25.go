package retrieval

import "math"

// BM25 parameters, applied over the candidate set rather than the corpus.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// bm25Scores ranks candidate documents (as token lists) against query
// tokens. IDF uses add-one smoothing so terms present in every candidate
// still contribute. Scores come back raw; normalize with minMaxNormalize.
func bm25Scores(queryTokens []string, docs [][]string) []float64 {
	scores := make([]float64, len(docs))
	if len(docs) == 0 || len(queryTokens) == 0 {
		return scores
	}

	n := float64(len(docs))
	var totalLen float64
	docFreq := make(map[string]float64)
	termFreqs := make([]map[string]float64, len(docs))

	for i, doc := range docs {
		totalLen += float64(len(doc))
		tf := make(map[string]float64, len(doc))
		for _, t := range doc {
			tf[t]++
		}
		termFreqs[i] = tf
		for t := range tf {
			docFreq[t]++
		}
	}
	avgLen := totalLen / n
	if avgLen == 0 {
		return scores
	}

	for i, doc := range docs {
		docLen := float64(len(doc))
		for _, q := range queryTokens {
			tf := termFreqs[i][q]
			if tf == 0 {
				continue
			}
			df := docFreq[q]
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			denom := tf + bm25K1*(1-bm25B+bm25B*docLen/avgLen)
			scores[i] += idf * (tf * (bm25K1 + 1)) / denom
		}
	}
	return scores
}

// minMaxNormalize maps scores onto [0,1]. When every score is equal,
// positive scores map to 1.0 and the rest to 0.0, so a uniformly scored
// list is not zeroed out.
func minMaxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	if hi == lo {
		for i, s := range scores {
			if s > 0 {
				out[i] = 1.0
			}
		}
		return out
	}

	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}
