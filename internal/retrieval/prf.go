package retrieval

import (
	"sort"
	"strings"

	"github.com/combiphar/corpus/internal/vector"
)

// Pseudo-relevance feedback: expansion terms are mined from the top
// surviving candidates, no labeled relevance needed.
const (
	prfMaxDocs    = 12
	prfKeepTerms  = 6
	prfDigitBoost = 1.15
	maxHints      = 3
)

// minePRFTerms extracts up to prfKeepTerms expansion terms from the top
// candidates. Terms must be informative (length ≥ 3, no stopwords) and not
// already in the question. Scoring favors terms spread across documents:
// doc_freq_ratio × (1 + tf_normalized), with a boost for tokens carrying
// digits since codes and years anchor follow-up queries.
func minePRFTerms(question string, cands []*vector.Candidate) []string {
	docs := cands
	if len(docs) > prfMaxDocs {
		docs = docs[:prfMaxDocs]
	}
	if len(docs) == 0 {
		return nil
	}

	qSet := make(map[string]bool)
	for _, t := range tokenize(question) {
		qSet[t] = true
	}

	termFreq := make(map[string]float64)
	docFreq := make(map[string]float64)
	for _, cand := range docs {
		seen := make(map[string]bool)
		for _, t := range tokenize(cand.Content) {
			if stopwords[t] || qSet[t] || (!hasLetter(t) && !hasDigit(t)) {
				continue
			}
			termFreq[t]++
			if !seen[t] {
				seen[t] = true
				docFreq[t]++
			}
		}
	}
	if len(termFreq) == 0 {
		return nil
	}

	var maxTF float64
	for _, tf := range termFreq {
		if tf > maxTF {
			maxTF = tf
		}
	}

	type scoredTerm struct {
		term  string
		score float64
	}
	scored := make([]scoredTerm, 0, len(termFreq))
	nDocs := float64(len(docs))
	for term, tf := range termFreq {
		score := (docFreq[term] / nDocs) * (1 + tf/maxTF)
		if hasDigit(term) {
			score *= prfDigitBoost
		}
		scored = append(scored, scoredTerm{term, score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].term < scored[j].term
	})

	keep := prfKeepTerms
	if keep > len(scored) {
		keep = len(scored)
	}
	terms := make([]string, keep)
	for i := 0; i < keep; i++ {
		terms[i] = scored[i].term
	}
	return terms
}

// isFollowUp detects questions that lean on earlier context: they contain
// a pronoun (including the Indonesian -nya suffix) or are too short to
// stand alone.
func isFollowUp(question string) bool {
	for _, t := range tokenize(question) {
		if followUpPronouns[t] || strings.HasSuffix(t, "nya") {
			return true
		}
	}
	return len(contentTokens(question)) <= 3
}

// hintLabelKeys in priority order; the first present label names the
// document for refinement purposes.
var hintLabelKeys = []string{"title", "document_name", "original_filename", "subject", "heading"}

// docLabel picks the best human-readable label from document metadata,
// matching keys case-insensitively because portal metadata arrives
// TitleCased.
func docLabel(cand *vector.Candidate) string {
	for _, want := range hintLabelKeys {
		for _, meta := range []map[string]interface{}{cand.DocumentMetadata, cand.Metadata} {
			for k, v := range meta {
				if !strings.EqualFold(k, want) {
					continue
				}
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}

// refineQuestion builds the expanded follow-up query. Hints come from the
// top documents' labels first, then unused PRF terms, skipping anything
// already present in the question. Returns the refined question and the
// hints used, or "" when no refinement applies.
func refineQuestion(question string, cands []*vector.Candidate, prfTerms []string) (string, []string) {
	if !isFollowUp(question) {
		return "", nil
	}

	qLower := strings.ToLower(question)
	var hints []string
	seen := make(map[string]bool)

	addHint := func(h string) {
		h = strings.TrimSpace(h)
		if h == "" || len(hints) >= maxHints {
			return
		}
		key := strings.ToLower(h)
		if seen[key] || strings.Contains(qLower, key) {
			return
		}
		seen[key] = true
		hints = append(hints, h)
	}

	for _, cand := range cands {
		if len(hints) >= maxHints {
			break
		}
		addHint(docLabel(cand))
	}
	for _, term := range prfTerms {
		if len(hints) >= maxHints {
			break
		}
		addHint(term)
	}

	if len(hints) == 0 {
		return "", nil
	}

	stem := strings.TrimSpace(question)
	suffix := ""
	if strings.HasSuffix(stem, "?") {
		stem = strings.TrimSpace(strings.TrimRight(stem, "?"))
		suffix = "?"
	}
	return stem + " terkait " + strings.Join(hints, ", ") + suffix, hints
}
