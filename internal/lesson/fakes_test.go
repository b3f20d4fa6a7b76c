package lesson

import (
	"context"
	"fmt"
	"sync"

	"github.com/pot-code/elira-progress/internal/course"
	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
	"github.com/pot-code/elira-progress/internal/remotesync"
)

func testTree() navigator.CourseTree {
	return navigator.CourseTree{
		CourseID:     "c1",
		Title:        "Go basics",
		AutoplayNext: true,
		Modules: []navigator.Module{
			{ID: "m1", Title: "Intro", Order: 1, Lessons: []navigator.Lesson{
				{ID: "video", Title: "Welcome", Order: 1, ContentType: progress.ContentVideo, DurationSeconds: 600},
				{ID: "reading", Title: "Notes", Order: 2, ContentType: progress.ContentReading, WordCount: 400},
			}},
			{ID: "m2", Title: "Check", Order: 2, Lessons: []navigator.Lesson{
				{ID: "quiz", Title: "Quiz", Order: 1, ContentType: progress.ContentQuiz, PassingScore: 60},
			}},
		},
	}
}

// memService in-memory remotesync.Service with max-wins persistence
type memService struct {
	mu        sync.Mutex
	tree      navigator.CourseTree
	denied    bool
	failWith  error
	records   map[string]progress.LessonProgress
	submits   int
	quizzes   []remotesync.QuizResult
	passScore float64
}

func newMemService() *memService {
	return &memService{tree: testTree(), records: make(map[string]progress.LessonProgress), passScore: 60}
}

func (s *memService) FetchCourseTree(ctx context.Context, userID, courseID string) (*navigator.CourseTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied {
		return nil, fmt.Errorf("%w: course %s", remotesync.ErrAccessDenied, courseID)
	}
	if courseID != s.tree.CourseID {
		return nil, fmt.Errorf("%w: course %s", remotesync.ErrNotFound, courseID)
	}
	tree := s.tree
	return &tree, nil
}

func (s *memService) FetchLessonProgress(ctx context.Context, userID, lessonID string) (*progress.LessonProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[lessonID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memService) SubmitProgress(ctx context.Context, userID, lessonID string, p progress.LessonProgress) (*progress.LessonProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	if s.failWith != nil {
		return nil, s.failWith
	}
	var stored *progress.LessonProgress
	if cur, ok := s.records[lessonID]; ok {
		stored = &cur
	}
	merged := progress.Merge(stored, p)
	s.records[lessonID] = merged
	return &merged, nil
}

func (s *memService) SubmitQuizResult(ctx context.Context, userID, lessonID string, result remotesync.QuizResult) (*remotesync.QuizResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grade := progress.GradeQuiz(result.Answers, s.passScore)
	result.ID = fmt.Sprintf("q%d", len(s.quizzes)+1)
	result.Score = grade.Score
	result.Passed = grade.Passed
	s.quizzes = append(s.quizzes, result)
	return &result, nil
}

func (s *memService) set(p progress.LessonProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.LessonID] = p
}

func (s *memService) record(lessonID string) (progress.LessonProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[lessonID]
	return p, ok
}

func (s *memService) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// memCourses course.Repository over a single tree
type memCourses struct {
	tree     navigator.CourseTree
	enrolled map[string]bool
	states   map[string]navigator.LessonState
	err      error
}

func newMemCourses() *memCourses {
	return &memCourses{tree: testTree(), enrolled: map[string]bool{"u1": true}, states: map[string]navigator.LessonState{}}
}

func (c *memCourses) GetCourse(ctx context.Context, courseID string) (*navigator.CourseTree, error) {
	if c.err != nil {
		return nil, c.err
	}
	if courseID != c.tree.CourseID {
		return nil, nil
	}
	tree := c.tree
	tree.Modules = make([]navigator.Module, len(c.tree.Modules))
	for i, m := range c.tree.Modules {
		m.Lessons = append([]navigator.Lesson(nil), m.Lessons...)
		tree.Modules[i] = m
	}
	return &tree, nil
}

func (c *memCourses) GetLesson(ctx context.Context, lessonID string) (*course.LessonMeta, error) {
	if c.err != nil {
		return nil, c.err
	}
	for _, l := range navigator.Flatten(c.tree) {
		if l.ID == lessonID {
			return &course.LessonMeta{ID: l.ID, CourseID: c.tree.CourseID, ContentType: l.ContentType, PassingScore: l.PassingScore}, nil
		}
	}
	return nil, nil
}

func (c *memCourses) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	return c.enrolled[userID] && courseID == c.tree.CourseID, nil
}

func (c *memCourses) LessonStates(ctx context.Context, userID, courseID string) (map[string]navigator.LessonState, error) {
	return c.states, nil
}

// memProgress ProgressRepository in memory
type memProgress struct {
	mu      sync.Mutex
	records map[string]progress.LessonProgress
	quizzes []*remotesync.QuizResult
	owners  []string // user of each quiz result
	err     error
}

func newMemProgress() *memProgress {
	return &memProgress{records: make(map[string]progress.LessonProgress)}
}

func (m *memProgress) FindProgress(ctx context.Context, userID, lessonID string) (*progress.LessonProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.records[userID+"/"+lessonID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memProgress) UpsertProgress(ctx context.Context, userID string, incoming progress.LessonProgress, merge MergeFunc) (*progress.LessonProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	key := userID + "/" + incoming.LessonID
	var stored *progress.LessonProgress
	if cur, ok := m.records[key]; ok {
		stored = &cur
	}
	merged := merge(stored, incoming)
	m.records[key] = merged
	return &merged, nil
}

func (m *memProgress) InsertQuizResult(ctx context.Context, userID string, result *remotesync.QuizResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.quizzes = append(m.quizzes, result)
	m.owners = append(m.owners, userID)
	return nil
}

func (m *memProgress) HasPassedQuiz(ctx context.Context, userID, lessonID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	for i, q := range m.quizzes {
		if m.owners[i] == userID && q.LessonID == lessonID && q.Passed {
			return true, nil
		}
	}
	return false, nil
}

type seqIDs struct{ n int }

func (g *seqIDs) Generate() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}
