// Package domain contains pure, dependency-free domain models and types
// for the answer validation engine.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// QuestionKind classifies how answers to a question are collected and,
// consequently, which validation layers apply to them.
type QuestionKind string

// Supported question kinds.
const (
	// KindRating answers carry a numeric value such as a 1-5 star rating.
	KindRating QuestionKind = "rating"

	// KindMultipleChoice answers carry one of a fixed set of option labels.
	KindMultipleChoice QuestionKind = "multiple_choice"

	// KindOpenText answers carry free text.
	KindOpenText QuestionKind = "open_text"

	// KindAudio answers carry a transcript or reference to a recording.
	KindAudio QuestionKind = "audio"

	// KindOther covers anything without a dedicated validation strategy.
	KindOther QuestionKind = "other"
)

// String returns the string representation of the kind.
func (k QuestionKind) String() string { return string(k) }

// IsClosed reports whether answers are drawn from a discrete value set
// and can be tallied by majority vote.
func (k QuestionKind) IsClosed() bool {
	return k == KindRating || k == KindMultipleChoice
}

// Valid reports whether k is one of the supported kinds.
func (k QuestionKind) Valid() bool {
	switch k {
	case KindRating, KindMultipleChoice, KindOpenText, KindAudio, KindOther:
		return true
	default:
		return false
	}
}

// ParseQuestionKind converts free-form input such as "Multiple-Choice" into
// a QuestionKind. It returns ErrUnknownQuestionKind for unsupported values.
func ParseQuestionKind(s string) (QuestionKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	kind := QuestionKind(normalized)
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownQuestionKind, s)
	}
	return kind, nil
}

// Question is the prompt contributors respond to. It is owned by the
// question store and treated as immutable once answers exist.
type Question struct {
	// ID uniquely identifies the question.
	ID string `json:"id"`

	// Content is the question text shown to contributors.
	Content string `json:"content"`

	// Kind determines which validation layers apply.
	Kind QuestionKind `json:"kind"`
}

// Answer is a single contributor's response to a question.
type Answer struct {
	// ID uniquely identifies this answer.
	ID string `json:"id"`

	// QuestionID references the question being answered.
	QuestionID string `json:"question_id"`

	// ContributorID identifies who submitted the answer.
	ContributorID string `json:"contributor_id"`

	// Value is either free text or a serialized rating or choice.
	Value string `json:"value"`

	// SubmittedAt records when the answer was received.
	SubmittedAt time.Time `json:"submitted_at"`
}

// AnswerPool returns the values of every answer in answers except the one
// identified by excludeID and any answer to a different question. Stores use
// it to build ValidationContext.OtherAnswers.
func AnswerPool(answers []Answer, questionID, excludeID string) []string {
	pool := make([]string, 0, len(answers))
	for _, a := range answers {
		if a.ID == excludeID || a.QuestionID != questionID {
			continue
		}
		pool = append(pool, a.Value)
	}
	return pool
}
