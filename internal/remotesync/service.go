// Package remotesync is the boundary between a player session and the
// progress backend: the Service contract, its error kinds, and the flush
// pipeline that pushes tracker snapshots through it.
package remotesync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pot-code/elira-progress/internal/infrastructure/validate"
	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
)

// ErrNotFound course or lesson does not exist
var ErrNotFound = errors.New("not found")

// ErrAccessDenied user may not access the course
var ErrAccessDenied = errors.New("access denied")

// RetryableError transient failure, the same call may succeed later
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable: %s", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// ValidationError the backend rejected the payload, never retried
type ValidationError struct {
	Fields []*validate.FieldError
}

func (e *ValidationError) Error() string {
	reasons := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		reasons = append(reasons, fmt.Sprintf("%s: %s", f.Domain, f.Reason))
	}
	return "invalid progress payload: " + strings.Join(reasons, "; ")
}

// IsRetryable whether err is worth retrying
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// QuizResult one graded quiz attempt
type QuizResult struct {
	ID          string  `json:"id"`
	LessonID    string  `json:"lesson_id"`
	Answers     []bool  `json:"answers"`
	Score       float64 `json:"score"`
	Passed      bool    `json:"passed"`
	SubmittedAt int64   `json:"submitted_at"`
}

// Service remote data service consumed by player sessions and REST handlers
type Service interface {
	// FetchCourseTree course with the per-lesson completion of userID
	FetchCourseTree(ctx context.Context, userID, courseID string) (*navigator.CourseTree, error)
	// FetchLessonProgress returns nil, nil when the lesson was never started
	FetchLessonProgress(ctx context.Context, userID, lessonID string) (*progress.LessonProgress, error)
	// SubmitProgress returns the persisted record after best-progress-wins merge
	SubmitProgress(ctx context.Context, userID, lessonID string, p progress.LessonProgress) (*progress.LessonProgress, error)
	SubmitQuizResult(ctx context.Context, userID, lessonID string, result QuizResult) (*QuizResult, error)
}
