package retrieval

import (
	"strings"

	"github.com/combiphar/corpus/internal/vector"
)

// Echo detection thresholds. A candidate whose content merely restates the
// user's question must not be returned as evidence.
const (
	echoSnippetLen   = 1024
	echoRatioHigh    = 0.92
	echoLenSlack     = 60
	echoCoverageHigh = 0.90
	echoTokenSlack   = 3
	echoCoverageMid  = 0.85
	echoLenFactor    = 1.2
)

// echoSegmentTags mark chunks that store a logged question rather than
// document content.
var echoSegmentTags = map[string]bool{
	"question":   true,
	"pertanyaan": true,
	"prompt":     true,
}

// isEcho decides whether one candidate restates the question.
func isEcho(question string, cand *vector.Candidate) bool {
	if taggedAsQuestion(cand.Metadata) {
		return true
	}

	qNorm := normalizeText(question)
	if qNorm == "" {
		return false
	}
	docNorm := normalizeText(cand.Content)
	if len(docNorm) > echoSnippetLen {
		docNorm = docNorm[:echoSnippetLen]
	}

	if len(docNorm) <= len(qNorm)+echoLenSlack &&
		sequenceRatio(qNorm, docNorm) >= echoRatioHigh {
		return true
	}

	qTokens := contentTokens(question)
	docTokens := contentTokens(docNorm)
	cov := coverage(docTokens, qTokens)

	if cov >= echoCoverageHigh && len(docTokens) <= len(qTokens)+echoTokenSlack {
		return true
	}
	if cov >= echoCoverageMid && float64(len(docNorm)) <= echoLenFactor*float64(len(qNorm)) {
		return true
	}
	return false
}

// taggedAsQuestion checks segment metadata for question markers.
func taggedAsQuestion(metadata map[string]interface{}) bool {
	for _, key := range []string{"segment", "segment_type", "type"} {
		if v, ok := metadata[key].(string); ok && echoSegmentTags[strings.ToLower(v)] {
			return true
		}
	}
	return false
}

// coverage is the fraction of doc tokens that also appear in the question.
func coverage(docTokens, questionTokens []string) float64 {
	if len(docTokens) == 0 {
		return 0
	}
	qSet := make(map[string]bool, len(questionTokens))
	for _, t := range questionTokens {
		qSet[t] = true
	}
	matched := 0
	for _, t := range docTokens {
		if qSet[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(docTokens))
}

// filterEchoes removes question echoes from the candidate list.
func filterEchoes(question string, cands []*vector.Candidate) []*vector.Candidate {
	out := cands[:0:0]
	for _, c := range cands {
		if !isEcho(question, c) {
			out = append(out, c)
		}
	}
	return out
}
