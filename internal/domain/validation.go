package domain

import (
	"time"
)

// VoteResult captures the outcome of a majority-vote tally over closed-form
// answers. It is produced fresh for every validation call.
type VoteResult struct {
	// MajorityValue is the winning value. Rating tallies store the
	// formatted number; choice tallies store the original contributor text.
	MajorityValue string `json:"majority_value"`

	// NumericValue holds the winning rating for rating tallies.
	NumericValue float64 `json:"numeric_value,omitempty"`

	// VoteCount is the number of votes the majority value received.
	VoteCount int `json:"vote_count"`

	// TotalVotes is the number of votes tallied.
	TotalVotes int `json:"total_votes"`

	// Confidence is VoteCount/TotalVotes scaled to 0-100.
	Confidence float64 `json:"confidence"`
}

// ConfidenceSignal is the plausibility score produced by a confidence
// scorer independently of the other answers.
type ConfidenceSignal struct {
	// Confidence is the 0-100 plausibility score.
	Confidence float64 `json:"confidence"`

	// Model identifies the scorer or model that produced the signal.
	Model string `json:"model"`

	// Metadata carries scorer-specific details such as reasoning text.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ScoreRequest is the input to a confidence scorer.
type ScoreRequest struct {
	AnswerText   string       `json:"answer_text"`
	QuestionText string       `json:"question_text"`
	Kind         QuestionKind `json:"kind"`
}

// ValidationContext carries everything the orchestrator needs to validate a
// single answer. OtherAnswers must already be scoped to the same question
// and must exclude the answer under evaluation.
type ValidationContext struct {
	AnswerText   string       `json:"answer_text"`
	QuestionText string       `json:"question_text"`
	QuestionKind QuestionKind `json:"question_kind"`
	OtherAnswers []string     `json:"other_answers"`

	// ContributorTrustScore is optional; nil means no trust data.
	ContributorTrustScore *float64 `json:"contributor_trust_score,omitempty"`
}

// ValidationDetails records the raw output of each layer that ran.
// A nil field means the layer did not run or its signal was unavailable.
type ValidationDetails struct {
	MajorityVoting *VoteResult       `json:"majority_voting,omitempty"`
	TextSimilarity *float64          `json:"text_similarity,omitempty"`
	MLConfidence   *ConfidenceSignal `json:"ml_confidence,omitempty"`
}

// ValidationResult is the sole output of a validation call. The core never
// persists it; the caller hands it to storage or a review queue.
type ValidationResult struct {
	// ID uniquely identifies this result (a UUID).
	ID string `json:"id"`

	// IsValid reports whether the answer agrees with the crowd strongly
	// enough to be accepted.
	IsValid bool `json:"is_valid"`

	// ConfidenceScore is the blended 0-100 score.
	ConfidenceScore float64 `json:"confidence_score"`

	// Details holds the per-layer signals.
	Details ValidationDetails `json:"details"`

	// ShouldFlag marks the answer for human review. It is orthogonal to
	// IsValid.
	ShouldFlag bool `json:"should_flag"`

	// FlagReason is the first reason detected. It is non-empty whenever
	// ShouldFlag is true.
	FlagReason string `json:"flag_reason,omitempty"`

	// FlagReasons lists every triggered reason in detection order.
	FlagReasons []string `json:"flag_reasons,omitempty"`

	// EvaluatedAt records when the result was produced.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Flag marks the result for review and records reason. The first recorded
// reason stays in FlagReason; later ones are appended to FlagReasons.
func (r *ValidationResult) Flag(reason string) {
	if reason == "" {
		return
	}
	r.ShouldFlag = true
	if r.FlagReason == "" {
		r.FlagReason = reason
	}
	r.FlagReasons = append(r.FlagReasons, reason)
}
