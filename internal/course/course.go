package course

import (
	"context"

	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
)

// LessonMeta what the progress backend needs to know about a lesson
type LessonMeta struct {
	ID           string
	CourseID     string
	ContentType  progress.ContentType
	PassingScore float64 // quiz only, zero means the default
}

// Repository course catalogue and enrollment
type Repository interface {
	// GetCourse returns nil, nil for an unknown course
	GetCourse(ctx context.Context, courseID string) (*navigator.CourseTree, error)
	// GetLesson returns nil, nil for an unknown lesson
	GetLesson(ctx context.Context, lessonID string) (*LessonMeta, error)
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	// LessonStates state of every lesson userID has a record for in courseID
	LessonStates(ctx context.Context, userID, courseID string) (map[string]navigator.LessonState, error)
}
