package progress

import (
	"fmt"
	"math"
	"strings"
)

// ContentType lesson content variant
type ContentType string

// supported content types
const (
	ContentVideo   ContentType = "VIDEO"
	ContentAudio   ContentType = "AUDIO"
	ContentText    ContentType = "TEXT"
	ContentReading ContentType = "READING"
	ContentPDF     ContentType = "PDF"
	ContentQuiz    ContentType = "QUIZ"
)

// CompletionThreshold percentage at which continuous content counts as done
const CompletionThreshold = 90.0

// thresholdEpsilon float drift tolerated when summing fractional deltas
const thresholdEpsilon = 1e-9

// ReachedThreshold whether pct counts as completion of continuous content
func ReachedThreshold(pct float64) bool {
	return pct >= CompletionThreshold-thresholdEpsilon
}

// Continuous whether ct completes by reaching CompletionThreshold, quizzes
// complete on a passing grade instead
func (ct ContentType) Continuous() bool {
	s, ok := strategies[ct]
	return ok && s.continuous()
}

// WordsPerMinute reading speed used to estimate reading time
const WordsPerMinute = 200

// ParseContentType parse content type case-insensitively
func ParseContentType(s string) (ContentType, error) {
	ct := ContentType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := strategies[ct]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownContentType, s)
	}
	return ct, nil
}

// LessonProgress progress record of one user on one lesson
type LessonProgress struct {
	LessonID            string      `json:"lesson_id" validate:"required"`
	CourseID            string      `json:"course_id"`
	ContentType         ContentType `json:"content_type" validate:"required,oneof=VIDEO AUDIO TEXT READING PDF QUIZ"`
	Percentage          float64     `json:"percentage" validate:"min=0,max=100"`
	TimeSpentSeconds    int         `json:"time_spent_seconds" validate:"min=0"`
	Completed           bool        `json:"completed"`
	LastPositionSeconds float64     `json:"last_position_seconds" validate:"min=0"`
	LastScrollFraction  float64     `json:"last_scroll_fraction" validate:"min=0,max=1"`
	LastQuestionIndex   int         `json:"last_question_index" validate:"min=0"`
	LastAccessedAt      int64       `json:"last_accessed_at"` // milliseconds
}

// AnchorKind kind of resume position
type AnchorKind string

// anchor kinds
const (
	AnchorNone      AnchorKind = ""
	AnchorTimestamp AnchorKind = "timestamp"
	AnchorScroll    AnchorKind = "scroll"
	AnchorQuestion  AnchorKind = "question"
)

// Anchor position to restore when returning to a lesson
type Anchor struct {
	Kind            AnchorKind `json:"kind"`
	PositionSeconds float64    `json:"position_seconds,omitempty"`
	ScrollFraction  float64    `json:"scroll_fraction,omitempty"`
	QuestionIndex   int        `json:"question_index,omitempty"`
}

// AnchorFor project the resume anchor of p according to content type
func AnchorFor(ct ContentType, p *LessonProgress) Anchor {
	s, ok := strategies[ct]
	if !ok || p == nil {
		return Anchor{}
	}
	return s.anchor(p)
}

// Snapshot versioned copy of a working progress record
type Snapshot struct {
	Progress LessonProgress
	Version  uint64
}

// EstimatedReadingSeconds reading time estimation, rounded up to whole minutes
func EstimatedReadingSeconds(wordCount int) float64 {
	if wordCount < 1 {
		wordCount = 1
	}
	minutes := math.Ceil(float64(wordCount) / WordsPerMinute)
	return minutes * 60
}

// CountWords count whitespace separated words
func CountWords(content string) int {
	return len(strings.Fields(content))
}

// Merge best-progress-wins merge of an incoming record onto a stored one.
//
// percentage, completion and time spent never regress; the anchor follows
// whichever record was accessed last.
func Merge(stored *LessonProgress, incoming LessonProgress) LessonProgress {
	if stored == nil {
		return incoming
	}
	out := incoming
	if stored.LastAccessedAt > incoming.LastAccessedAt {
		out.LastPositionSeconds = stored.LastPositionSeconds
		out.LastScrollFraction = stored.LastScrollFraction
		out.LastQuestionIndex = stored.LastQuestionIndex
		out.LastAccessedAt = stored.LastAccessedAt
	}
	out.Percentage = math.Max(stored.Percentage, incoming.Percentage)
	out.Completed = stored.Completed || incoming.Completed
	if stored.TimeSpentSeconds > out.TimeSpentSeconds {
		out.TimeSpentSeconds = stored.TimeSpentSeconds
	}
	if out.CourseID == "" {
		out.CourseID = stored.CourseID
	}
	if out.ContentType == "" {
		out.ContentType = stored.ContentType
	}
	return out
}
