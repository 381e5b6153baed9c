// Package tally counts discrete votes for closed-form questions (ratings and
// multiple choice) and reports the majority value with its vote share.
//
// Ties between equally popular values always go to the value seen first in
// the input. Map iteration order is never consulted.
package tally

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/ahrav/go-crowdcheck/internal/domain"
)

// majorityConfidenceThreshold is the vote share below which a tally is too
// fragmented to trust.
const majorityConfidenceThreshold = 50.0

// MajorityConfidenceThreshold returns the minimum vote confidence (0-100) a
// tally needs before its majority is considered meaningful.
func MajorityConfidenceThreshold() float64 {
	return majorityConfidenceThreshold
}

// TallyRating buckets values by exact numeric value and returns the most
// common one. Non-finite values count as 0, the same as unparseable ratings.
// An empty slice yields a zero VoteResult.
func TallyRating(values []float64) domain.VoteResult {
	if len(values) == 0 {
		return domain.VoteResult{}
	}

	counts := make(map[float64]int, len(values))
	order := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}

	winner := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[winner] {
			winner = v
		}
	}

	return voteResult(FormatRating(winner), winner, counts[winner], len(values))
}

// TallyChoice counts values after trimming and case-folding them. The
// returned MajorityValue is the original text of the first occurrence of the
// winning value.
func TallyChoice(values []string) domain.VoteResult {
	if len(values) == 0 {
		return domain.VoteResult{}
	}

	type bucket struct {
		original string
		count    int
	}

	buckets := make(map[string]*bucket, len(values))
	order := make([]string, 0, len(values))
	for _, v := range values {
		key := normalizeChoice(v)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{original: v}
			buckets[key] = b
			order = append(order, key)
		}
		b.count++
	}

	winner := buckets[order[0]]
	for _, key := range order[1:] {
		if b := buckets[key]; b.count > winner.count {
			winner = b
		}
	}

	return voteResult(winner.original, 0, winner.count, len(values))
}

// InMajority reports whether value matches majority under the comparison
// rule for kind. Ratings compare numerically, with unparseable input read as
// 0. Multiple choice compares trimmed, case-folded text. Any other kind
// compares trimmed text exactly.
func InMajority(value, majority string, kind domain.QuestionKind) bool {
	switch kind {
	case domain.KindRating:
		v, _ := ParseRating(value)
		m, _ := ParseRating(majority)
		return v == m
	case domain.KindMultipleChoice:
		return normalizeChoice(value) == normalizeChoice(majority)
	default:
		return strings.TrimSpace(value) == strings.TrimSpace(majority)
	}
}

// ParseRating parses a serialized rating. Invalid input returns 0 along with
// an error wrapping domain.ErrInvalidInput; callers that want to keep
// validating use the 0.
func ParseRating(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: rating %q is not a number", domain.ErrInvalidInput, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: rating %q is not finite", domain.ErrInvalidInput, s)
	}
	return v, nil
}

// ParseRatings parses every value with ParseRating. Invalid values become 0
// and stay in the result so they count as disagreement; invalid reports how
// many there were.
func ParseRatings(values []string) (ratings []float64, invalid int) {
	ratings = make([]float64, len(values))
	for i, s := range values {
		v, err := ParseRating(s)
		if err != nil {
			invalid++
		}
		ratings[i] = v
	}
	return ratings, invalid
}

// FormatRating renders a rating the way it is stored in VoteResult.
func FormatRating(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func voteResult(value string, numeric float64, count, total int) domain.VoteResult {
	return domain.VoteResult{
		MajorityValue: value,
		NumericValue:  numeric,
		VoteCount:     count,
		TotalVotes:    total,
		Confidence:    domain.ClampScore(float64(count) / float64(total) * 100),
	}
}

func normalizeChoice(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
