package lesson

import (
	"context"

	"github.com/pot-code/elira-progress/internal/progress"
	"github.com/pot-code/elira-progress/internal/remotesync"
	"github.com/pot-code/elira-progress/internal/resume"
)

// MergeFunc combine the stored record (nil when absent) with an incoming one
type MergeFunc func(stored *progress.LessonProgress, incoming progress.LessonProgress) progress.LessonProgress

// ProgressRepository progress persistence
type ProgressRepository interface {
	// FindProgress returns nil, nil when the lesson was never started
	FindProgress(ctx context.Context, userID, lessonID string) (*progress.LessonProgress, error)
	// UpsertProgress merge incoming into the stored record atomically and return the result
	UpsertProgress(ctx context.Context, userID string, incoming progress.LessonProgress, merge MergeFunc) (*progress.LessonProgress, error)
	InsertQuizResult(ctx context.Context, userID string, result *remotesync.QuizResult) error
	// HasPassedQuiz whether userID has a passing attempt stored for lessonID
	HasPassedQuiz(ctx context.Context, userID, lessonID string) (bool, error)
}

// QuizOutcome graded attempt and the progress it produced
type QuizOutcome struct {
	Result   *remotesync.QuizResult   `json:"result"`
	Grade    progress.QuizGrade       `json:"grade"`
	Progress *progress.LessonProgress `json:"progress"`
}

// ProgressUseCase progress backend
type ProgressUseCase interface {
	remotesync.Service
	// GradeAndSubmitQuiz store the graded attempt and fold it into lesson progress
	GradeAndSubmitQuiz(ctx context.Context, userID, lessonID string, answers []bool, elapsedSeconds float64) (*QuizOutcome, error)
	GetResumePrompt(ctx context.Context, userID, lessonID string) (*resume.Prompt, error)
}
