package lesson

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pot-code/elira-progress/internal/course"
	"github.com/pot-code/elira-progress/internal/infrastructure/driver"
	"github.com/pot-code/elira-progress/internal/infrastructure/uuid"
	"github.com/pot-code/elira-progress/internal/infrastructure/validate"
	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
	"github.com/pot-code/elira-progress/internal/remotesync"
	"github.com/pot-code/elira-progress/internal/resume"
	"go.elastic.co/apm"
)

// ProgressUseCaseImpl ...
type ProgressUseCaseImpl struct {
	CourseRepository   course.Repository
	ProgressRepository ProgressRepository
	Validator          validate.Validator
	UUIDGenerator      uuid.Generator
	now                func() time.Time
}

var _ ProgressUseCase = &ProgressUseCaseImpl{}

// NewProgressUseCase ...
func NewProgressUseCase(
	CourseRepository course.Repository,
	ProgressRepository ProgressRepository,
	Validator validate.Validator,
	UUIDGenerator uuid.Generator,
) *ProgressUseCaseImpl {
	return &ProgressUseCaseImpl{CourseRepository, ProgressRepository, Validator, UUIDGenerator, time.Now}
}

func (pu *ProgressUseCaseImpl) millis() int64 {
	return pu.now().UnixNano() / int64(time.Millisecond)
}

func retryable(op string, err error) error {
	return &remotesync.RetryableError{Op: op, Err: err}
}

func invalidField(domain, reason string) error {
	return &remotesync.ValidationError{Fields: []*validate.FieldError{validate.NewFieldError(domain, reason)}}
}

// authorize the lesson must exist and userID must be enrolled in its course
func (pu *ProgressUseCaseImpl) authorize(ctx context.Context, op, userID, lessonID string) (*course.LessonMeta, error) {
	meta, err := pu.CourseRepository.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, retryable(op, err)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: lesson %s", remotesync.ErrNotFound, lessonID)
	}
	enrolled, err := pu.CourseRepository.IsEnrolled(ctx, userID, meta.CourseID)
	if err != nil {
		return nil, retryable(op, err)
	}
	if !enrolled {
		return nil, fmt.Errorf("%w: course %s", remotesync.ErrAccessDenied, meta.CourseID)
	}
	return meta, nil
}

// FetchCourseTree course tree with the lesson states of userID
func (pu *ProgressUseCaseImpl) FetchCourseTree(ctx context.Context, userID, courseID string) (*navigator.CourseTree, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ProgressUseCaseImpl.FetchCourseTree", "service")
	defer apmSpan.End()

	const op = "fetch course tree"
	tree, err := pu.CourseRepository.GetCourse(ctx, courseID)
	if err != nil {
		return nil, retryable(op, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("%w: course %s", remotesync.ErrNotFound, courseID)
	}
	enrolled, err := pu.CourseRepository.IsEnrolled(ctx, userID, courseID)
	if err != nil {
		return nil, retryable(op, err)
	}
	if !enrolled {
		return nil, fmt.Errorf("%w: course %s", remotesync.ErrAccessDenied, courseID)
	}

	states, err := pu.CourseRepository.LessonStates(ctx, userID, courseID)
	if err != nil {
		return nil, retryable(op, err)
	}
	for i := range tree.Modules {
		lessons := tree.Modules[i].Lessons
		for j := range lessons {
			st, ok := states[lessons[j].ID]
			if !ok {
				st = navigator.StateNotStarted
			}
			lessons[j].State = st
			lessons[j].Completed = st == navigator.StateCompleted
		}
	}
	return tree, nil
}

// FetchLessonProgress stored progress, nil when the lesson was never started
func (pu *ProgressUseCaseImpl) FetchLessonProgress(ctx context.Context, userID, lessonID string) (*progress.LessonProgress, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ProgressUseCaseImpl.FetchLessonProgress", "service")
	defer apmSpan.End()

	const op = "fetch lesson progress"
	if _, err := pu.authorize(ctx, op, userID, lessonID); err != nil {
		return nil, err
	}
	p, err := pu.ProgressRepository.FindProgress(ctx, userID, lessonID)
	if err != nil {
		return nil, retryable(op, err)
	}
	return p, nil
}

// SubmitProgress persist p with best-progress-wins semantics
func (pu *ProgressUseCaseImpl) SubmitProgress(ctx context.Context, userID, lessonID string, p progress.LessonProgress) (*progress.LessonProgress, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ProgressUseCaseImpl.SubmitProgress", "service")
	defer apmSpan.End()

	const op = "submit progress"
	if p.LessonID == "" {
		p.LessonID = lessonID
	}
	if p.LessonID != lessonID {
		return nil, invalidField("lesson_id", fmt.Sprintf("lesson_id must be %s", lessonID))
	}
	if errs := pu.Validator.Struct(p); len(errs) > 0 {
		return nil, &remotesync.ValidationError{Fields: errs}
	}

	meta, err := pu.authorize(ctx, op, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if p.ContentType != meta.ContentType {
		return nil, invalidField("content_type", fmt.Sprintf("content_type must be %s", meta.ContentType))
	}
	p.CourseID = meta.CourseID
	if p.LastAccessedAt == 0 {
		p.LastAccessedAt = pu.millis()
	}

	quizPassed := false
	if meta.ContentType == progress.ContentQuiz && p.Completed {
		if quizPassed, err = pu.ProgressRepository.HasPassedQuiz(ctx, userID, lessonID); err != nil {
			return nil, retryable(op, err)
		}
	}

	persisted, err := pu.ProgressRepository.UpsertProgress(ctx, userID, p, completionGuard(meta.ContentType, quizPassed))
	if err != nil {
		if driver.IsDuplicateKey(err) {
			return nil, retryable(op, fmt.Errorf("concurrent first write: %w", err))
		}
		return nil, retryable(op, err)
	}
	return persisted, nil
}

// completionGuard max-wins merge that keeps only an earned completion:
// continuous content at the threshold, a quiz with a stored passing attempt
func completionGuard(ct progress.ContentType, quizPassed bool) MergeFunc {
	return func(stored *progress.LessonProgress, incoming progress.LessonProgress) progress.LessonProgress {
		merged := progress.Merge(stored, incoming)
		earned := stored != nil && stored.Completed
		if ct.Continuous() {
			earned = earned || progress.ReachedThreshold(merged.Percentage)
		} else {
			earned = earned || (incoming.Completed && quizPassed)
		}
		merged.Completed = earned
		return merged
	}
}

// SubmitQuizResult grade the submitted answers and store the attempt. Score
// and passed flag of result are recomputed.
func (pu *ProgressUseCaseImpl) SubmitQuizResult(ctx context.Context, userID, lessonID string, result remotesync.QuizResult) (*remotesync.QuizResult, error) {
	apmSpan, _ := apm.StartSpan(ctx, "ProgressUseCaseImpl.SubmitQuizResult", "service")
	defer apmSpan.End()

	stored, _, err := pu.storeQuizResult(ctx, userID, lessonID, result.Answers)
	return stored, err
}

func (pu *ProgressUseCaseImpl) storeQuizResult(ctx context.Context, userID, lessonID string, answers []bool) (*remotesync.QuizResult, progress.QuizGrade, error) {
	grade, err := pu.gradeQuiz(ctx, userID, lessonID, answers)
	if err != nil {
		return nil, grade, err
	}
	stored, err := pu.insertQuizResult(ctx, userID, lessonID, answers, grade)
	return stored, grade, err
}

func (pu *ProgressUseCaseImpl) gradeQuiz(ctx context.Context, userID, lessonID string, answers []bool) (progress.QuizGrade, error) {
	const op = "submit quiz result"
	var grade progress.QuizGrade
	if len(answers) == 0 {
		return grade, invalidField("answers", "answers must not be empty")
	}
	meta, err := pu.authorize(ctx, op, userID, lessonID)
	if err != nil {
		return grade, err
	}
	if meta.ContentType != progress.ContentQuiz {
		return grade, invalidField("lesson_id", fmt.Sprintf("lesson %s is not a quiz", lessonID))
	}
	return progress.GradeQuiz(answers, meta.PassingScore), nil
}

func (pu *ProgressUseCaseImpl) insertQuizResult(ctx context.Context, userID, lessonID string, answers []bool, grade progress.QuizGrade) (*remotesync.QuizResult, error) {
	id, err := pu.UUIDGenerator.Generate()
	if err != nil {
		return nil, err
	}
	stored := &remotesync.QuizResult{
		ID:          id,
		LessonID:    lessonID,
		Answers:     answers,
		Score:       grade.Score,
		Passed:      grade.Passed,
		SubmittedAt: pu.millis(),
	}
	if err := pu.ProgressRepository.InsertQuizResult(ctx, userID, stored); err != nil {
		return nil, retryable("submit quiz result", err)
	}
	return stored, nil
}

// GradeAndSubmitQuiz grade the attempt, fold the score into the lesson
// progress the same way a player session would, then store both
func (pu *ProgressUseCaseImpl) GradeAndSubmitQuiz(ctx context.Context, userID, lessonID string, answers []bool, elapsedSeconds float64) (*QuizOutcome, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "ProgressUseCaseImpl.GradeAndSubmitQuiz", "service")
	defer apmSpan.End()

	if math.IsNaN(elapsedSeconds) || math.IsInf(elapsedSeconds, 0) || elapsedSeconds < 0 {
		return nil, invalidField("elapsed_seconds", "elapsed_seconds must be a non-negative number")
	}
	grade, err := pu.gradeQuiz(ctx, userID, lessonID, answers)
	if err != nil {
		return nil, err
	}

	// the attempt is only stored once it folds into progress cleanly
	prior, err := pu.ProgressRepository.FindProgress(ctx, userID, lessonID)
	if err != nil {
		return nil, retryable("submit quiz result", err)
	}
	tracker, err := progress.NewTracker(progress.Lesson{
		ID:          lessonID,
		ContentType: progress.ContentQuiz,
	}, prior, progress.WithClock(pu.now))
	if err != nil {
		return nil, err
	}
	if _, err := tracker.RecordSignal(grade.Signal(elapsedSeconds)); err != nil {
		return nil, invalidField("elapsed_seconds", err.Error())
	}
	stored, err := pu.insertQuizResult(ctx, userID, lessonID, answers, grade)
	if err != nil {
		return nil, err
	}
	persisted, err := pu.SubmitProgress(ctx, userID, lessonID, tracker.Progress())
	if err != nil {
		return nil, err
	}
	return &QuizOutcome{Result: stored, Grade: grade, Progress: persisted}, nil
}

// GetResumePrompt resume decision against the stored record
func (pu *ProgressUseCaseImpl) GetResumePrompt(ctx context.Context, userID, lessonID string) (*resume.Prompt, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "ProgressUseCaseImpl.GetResumePrompt", "service")
	defer apmSpan.End()

	const op = "get resume prompt"
	meta, err := pu.authorize(ctx, op, userID, lessonID)
	if err != nil {
		return nil, err
	}
	prior, err := pu.ProgressRepository.FindProgress(ctx, userID, lessonID)
	if err != nil {
		return nil, retryable(op, err)
	}
	prompt := resume.Decide(prior, meta.ContentType)
	return &prompt, nil
}
