package retrieval

import (
	"strings"
	"unicode"
)

// stopwords covers the Indonesian and English function words that carry no
// retrieval signal. Queries arrive in both languages, often mixed.
var stopwords = map[string]bool{
	// Indonesian
	"yang": true, "dan": true, "di": true, "ke": true, "dari": true,
	"untuk": true, "pada": true, "dengan": true, "adalah": true,
	"ini": true, "itu": true, "atau": true, "juga": true, "akan": true,
	"ada": true, "tidak": true, "bisa": true, "dalam": true, "secara": true,
	"apa": true, "apakah": true, "bagaimana": true, "berapa": true,
	"kapan": true, "dimana": true, "siapa": true, "kenapa": true,
	"mengapa": true, "tolong": true, "mohon": true, "saya": true,
	"kami": true, "kita": true, "anda": true, "jelaskan": true,
	"sebutkan": true, "tentang": true, "terkait": true, "lebih": true,
	"lanjut": true,
	// English
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "of": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "and": true,
	"or": true, "with": true, "about": true, "what": true, "how": true,
	"where": true, "when": true, "who": true, "why": true, "which": true,
	"please": true, "explain": true, "tell": true, "me": true,
}

// pronouns that signal a follow-up question referencing earlier context.
var followUpPronouns = map[string]bool{
	"ini": true, "itu": true, "tersebut": true, "dia": true, "ia": true,
	"mereka": true, "beliau": true, "nya": true,
	"it": true, "this": true, "that": true, "these": true, "those": true,
	"they": true, "them": true, "he": true, "she": true,
}

// tokenize splits text into lowercase tokens of at least 3 characters with
// punctuation trimmed.
func tokenize(text string) []string {
	var tokens []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `"'.,;:!?()[]{}<>`)
		if len(w) >= 3 {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// contentTokens returns the informative tokens of a question: tokenized
// and with stopwords removed.
func contentTokens(text string) []string {
	var tokens []string
	for _, t := range tokenize(text) {
		if !stopwords[t] {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// normalizeText lowercases and collapses all whitespace runs to single
// spaces.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// jaccard computes set overlap between two token lists.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, w := range a {
		setA[w] = true
	}
	setB := make(map[string]bool, len(b))
	for _, w := range b {
		setB[w] = true
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// sequenceRatio measures string similarity as 2*matched/total, where
// matched sums the longest common blocks found recursively. Identical
// strings score 1.0, disjoint strings 0.0.
func sequenceRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matched := matchingChars(a, b)
	return 2 * float64(matched) / float64(len(a)+len(b))
}

// matchingChars finds the longest common substring, then recurses into the
// unmatched halves on each side.
func matchingChars(a, b string) int {
	aStart, bStart, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingChars(a[:aStart], b[:bStart])
	total += matchingChars(a[aStart+size:], b[bStart+size:])
	return total
}

func longestCommonBlock(a, b string) (aStart, bStart, size int) {
	// lengths[j] tracks the common suffix length ending at b[j-1] for the
	// previous row of a.
	lengths := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prev := 0
		for j := 1; j <= len(b); j++ {
			cur := lengths[j]
			if a[i-1] == b[j-1] {
				lengths[j] = prev + 1
				if lengths[j] > size {
					size = lengths[j]
					aStart = i - size
					bStart = j - size
				}
			} else {
				lengths[j] = 0
			}
			prev = cur
		}
	}
	return aStart, bStart, size
}

// hasDigit reports whether a token contains any digit.
func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// hasLetter reports whether a token contains any letter.
func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// looksLikeProductCode detects queries naming a product or document code:
// any token of length ≥ 3 mixing letters and digits.
func looksLikeProductCode(query string) bool {
	for _, t := range tokenize(query) {
		if hasDigit(t) && hasLetter(t) {
			return true
		}
	}
	return false
}
