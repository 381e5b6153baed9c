// Package similarity scores how closely free-text answers agree with one
// another. Scores are on a 0-100 scale.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-crowdcheck/internal/domain"
)

const (
	// StopwordLength is the rune length at or below which tokens are
	// dropped as stopword noise, measured on the lowercase token.
	StopwordLength = 2

	// GroupThreshold is the similarity at which MajorityAnswer places an
	// answer into an existing group.
	GroupThreshold = 70.0
)

// Tokens splits s on whitespace, drops tokens whose lowercase form has
// StopwordLength runes or fewer and case-folds the rest. The length check
// comes first because full folding can lengthen a token ("ß" folds to
// "ss"). The result is a set.
func Tokens(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(strings.ToLower(f)) <= StopwordLength {
			continue
		}
		set[fold(f)] = struct{}{}
	}
	return set
}

// Similarity returns the Jaccard similarity of the token sets of a and b,
// scaled to 0-100. If either set is empty the similarity is 0.
func Similarity(a, b string) float64 {
	return jaccard(Tokens(a), Tokens(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}

	intersection := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection

	return domain.ClampScore(float64(intersection) / float64(union) * 100)
}

// Consensus returns the mean similarity of answer against every member of
// pool. An empty pool yields 100: there is nothing to disagree with.
func Consensus(answer string, pool []string) float64 {
	if len(pool) == 0 {
		return domain.MaxScore
	}

	answerTokens := Tokens(answer)
	var sum float64
	for _, p := range pool {
		sum += jaccard(answerTokens, Tokens(p))
	}
	return domain.ClampScore(sum / float64(len(pool)))
}

// MajorityAnswer groups pool greedily and returns the representative text of
// the largest group. An answer joins the first group whose representative is
// at least GroupThreshold similar; otherwise it starts a new group. This is
// first-match grouping, not an optimal clustering. Ties between equally
// sized groups go to the group formed first. An empty pool returns "".
func MajorityAnswer(pool []string) string {
	type group struct {
		representative string
		tokens         map[string]struct{}
		size           int
	}

	var groups []*group
	for _, answer := range pool {
		tokens := Tokens(answer)
		placed := false
		for _, g := range groups {
			if jaccard(tokens, g.tokens) >= GroupThreshold {
				g.size++
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &group{representative: answer, tokens: tokens, size: 1})
		}
	}

	if len(groups) == 0 {
		return ""
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if g.size > best.size {
			best = g
		}
	}
	return best.representative
}

// EditSimilarity returns 100*(1 - distance/maxLen) using the Levenshtein
// distance between the case-folded, whitespace-normalized strings. Two empty
// strings are identical.
func EditSimilarity(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		return domain.MaxScore
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}

	distance := levenshtein.ComputeDistance(a, b)
	return domain.ClampScore((1 - float64(distance)/float64(maxLen)) * 100)
}

// NearDuplicate reports the highest EditSimilarity between answer and any
// member of pool, and whether it reaches threshold. A threshold of zero or
// less disables the check.
func NearDuplicate(answer string, pool []string, threshold float64) (float64, bool) {
	if threshold <= 0 || strings.TrimSpace(answer) == "" {
		return 0, false
	}

	var best float64
	for _, p := range pool {
		if s := EditSimilarity(answer, p); s > best {
			best = s
		}
	}
	return best, best >= threshold
}

func normalize(s string) string {
	return strings.Join(strings.Fields(fold(s)), " ")
}

// fold case-folds s. A Caser carries transform state, so each call gets its
// own.
func fold(s string) string {
	return cases.Fold().String(s)
}
