package navigator

import "github.com/pot-code/elira-progress/internal/progress"

// LessonState derived lesson state
type LessonState string

// lesson states
const (
	StateNotStarted LessonState = "NOT_STARTED"
	StateInProgress LessonState = "IN_PROGRESS"
	StateCompleted  LessonState = "COMPLETED"
)

// State derive the state of a lesson from its progress record, p may be nil
func State(p *progress.LessonProgress) LessonState {
	switch {
	case p == nil:
		return StateNotStarted
	case p.Completed:
		return StateCompleted
	case p.Percentage > 0:
		return StateInProgress
	}
	return StateNotStarted
}
