package progress

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownContentType content type is not one of the supported variants
var ErrUnknownContentType = errors.New("unknown content type")

// ErrNoMeasure continuous content has no positive total measure
var ErrNoMeasure = errors.New("lesson has no measurable length")

// SignalKind engagement signal discriminator
type SignalKind string

// signal kinds
const (
	KindWatchTime    SignalKind = "watchTime"
	KindReadTime     SignalKind = "readTime"
	KindQuizResult   SignalKind = "quizResult"
	KindQuizPosition SignalKind = "quizPosition"
)

// Signal raw engagement signal recorded by a tracker
type Signal interface {
	Kind() SignalKind
	validate() error
}

// WatchTime video/audio playback signal
type WatchTime struct {
	ElapsedSeconds  float64
	PositionSeconds float64
}

// ReadTime text/reading/PDF reading signal
type ReadTime struct {
	ElapsedSeconds float64
	ScrollFraction float64
}

// QuizResult graded quiz attempt
type QuizResult struct {
	Score          float64
	Passed         bool
	QuestionIndex  int
	ElapsedSeconds float64
}

// QuizPosition the user moved to another question without finishing
type QuizPosition struct {
	QuestionIndex  int
	ElapsedSeconds float64
}

// InvalidSignalError malformed signal, the tracker is left untouched
type InvalidSignalError struct {
	Kind   SignalKind
	Field  string
	Reason string
}

func (e *InvalidSignalError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s signal: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s signal: %s %s", e.Kind, e.Field, e.Reason)
}

func invalid(kind SignalKind, field, reason string) *InvalidSignalError {
	return &InvalidSignalError{Kind: kind, Field: field, Reason: reason}
}

func checkElapsed(kind SignalKind, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(kind, "elapsedSeconds", "must be a finite number")
	}
	if v < 0 {
		return invalid(kind, "elapsedSeconds", "must be >= 0")
	}
	return nil
}

// Kind implements Signal
func (s WatchTime) Kind() SignalKind { return KindWatchTime }

func (s WatchTime) validate() error {
	if err := checkElapsed(KindWatchTime, s.ElapsedSeconds); err != nil {
		return err
	}
	if math.IsNaN(s.PositionSeconds) || math.IsInf(s.PositionSeconds, 0) || s.PositionSeconds < 0 {
		return invalid(KindWatchTime, "positionSeconds", "must be a finite number >= 0")
	}
	return nil
}

// Kind implements Signal
func (s ReadTime) Kind() SignalKind { return KindReadTime }

func (s ReadTime) validate() error {
	if err := checkElapsed(KindReadTime, s.ElapsedSeconds); err != nil {
		return err
	}
	if math.IsNaN(s.ScrollFraction) || s.ScrollFraction < 0 || s.ScrollFraction > 1 {
		return invalid(KindReadTime, "scrollFraction", "must be within [0,1]")
	}
	return nil
}

// Kind implements Signal
func (s QuizResult) Kind() SignalKind { return KindQuizResult }

func (s QuizResult) validate() error {
	if math.IsNaN(s.Score) || s.Score < 0 || s.Score > 100 {
		return invalid(KindQuizResult, "score", "must be within [0,100]")
	}
	if s.QuestionIndex < 0 {
		return invalid(KindQuizResult, "questionIndex", "must be >= 0")
	}
	return checkElapsed(KindQuizResult, s.ElapsedSeconds)
}

// Kind implements Signal
func (s QuizPosition) Kind() SignalKind { return KindQuizPosition }

func (s QuizPosition) validate() error {
	if s.QuestionIndex < 0 {
		return invalid(KindQuizPosition, "questionIndex", "must be >= 0")
	}
	return checkElapsed(KindQuizPosition, s.ElapsedSeconds)
}
