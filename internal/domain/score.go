package domain

import "math"

// Score bounds shared by every score in the model.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// ClampScore restricts s to [MinScore, MaxScore]. NaN maps to MinScore so a
// broken computation can never leak into a blended result.
func ClampScore(s float64) float64 {
	if math.IsNaN(s) || s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// LayerResult is the outcome of one validation layer: either a value or the
// error that made the signal unavailable.
type LayerResult[T any] struct {
	Value T
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) LayerResult[T] { return LayerResult[T]{Value: v} }

// Fail wraps an error.
func Fail[T any](err error) LayerResult[T] { return LayerResult[T]{Err: err} }

// Available reports whether the layer produced a value.
func (r LayerResult[T]) Available() bool { return r.Err == nil }
