package course

import (
	"context"
	"fmt"

	"github.com/pot-code/elira-progress/internal/infrastructure/driver"
	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
)

// RepositoryImpl Repository over mysql or postgres
type RepositoryImpl struct {
	Conn driver.ITransactionalDB `dep:""`
}

var _ Repository = &RepositoryImpl{}

// NewRepository .
func NewRepository(Conn driver.ITransactionalDB) *RepositoryImpl {
	return &RepositoryImpl{
		Conn: Conn,
	}
}

func (repo *RepositoryImpl) GetCourse(ctx context.Context, courseID string) (*navigator.CourseTree, error) {
	conn := repo.Conn
	rows, err := conn.QueryContext(ctx, `
SELECT
    c.id, c.title, c.autoplay_next
FROM
    course c
WHERE
    c.id = $1
	`, courseID)
	if err != nil {
		return nil, err
	}
	var tree *navigator.CourseTree
	for rows.Next() {
		tree = new(navigator.CourseTree)
		if err := rows.Scan(&tree.CourseID, &tree.Title, &tree.AutoplayNext); err != nil {
			rows.Close()
			return nil, err
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil || tree == nil {
		return nil, err
	}

	modules, err := repo.modules(ctx, courseID)
	if err != nil {
		return nil, err
	}
	lessons, err := repo.lessons(ctx, courseID)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(modules))
	for i, m := range modules {
		index[m.ID] = i
	}
	for _, l := range lessons {
		i, ok := index[l.ModuleID]
		if !ok {
			return nil, fmt.Errorf("lesson %s references unknown module %s", l.ID, l.ModuleID)
		}
		modules[i].Lessons = append(modules[i].Lessons, l)
	}
	tree.Modules = modules
	return tree, nil
}

func (repo *RepositoryImpl) modules(ctx context.Context, courseID string) ([]navigator.Module, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    m.id, m.title, m."order"
FROM
    course_module m
WHERE
    m.course_id = $1
ORDER BY m."order"
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []navigator.Module
	for rows.Next() {
		var m navigator.Module
		if err := rows.Scan(&m.ID, &m.Title, &m.Order); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (repo *RepositoryImpl) lessons(ctx context.Context, courseID string) ([]navigator.Lesson, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    l.id, l.module_id, l.title, l."order", l.content_type,
    COALESCE(l.duration_seconds, 0), COALESCE(l.word_count, 0), COALESCE(l.passing_score, 0)
FROM
    lesson l
WHERE
    l.course_id = $1
ORDER BY l."order"
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []navigator.Lesson
	for rows.Next() {
		var (
			l  navigator.Lesson
			ct string
		)
		if err := rows.Scan(&l.ID, &l.ModuleID, &l.Title, &l.Order, &ct,
			&l.DurationSeconds, &l.WordCount, &l.PassingScore); err != nil {
			return nil, err
		}
		if l.ContentType, err = progress.ParseContentType(ct); err != nil {
			return nil, fmt.Errorf("lesson %s: %w", l.ID, err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (repo *RepositoryImpl) GetLesson(ctx context.Context, lessonID string) (*LessonMeta, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    l.id, l.course_id, l.content_type, COALESCE(l.passing_score, 0)
FROM
    lesson l
WHERE
    l.id = $1
	`, lessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meta *LessonMeta
	for rows.Next() {
		var ct string
		meta = new(LessonMeta)
		if err := rows.Scan(&meta.ID, &meta.CourseID, &ct, &meta.PassingScore); err != nil {
			return nil, err
		}
		if meta.ContentType, err = progress.ParseContentType(ct); err != nil {
			return nil, fmt.Errorf("lesson %s: %w", meta.ID, err)
		}
	}
	return meta, rows.Err()
}

func (repo *RepositoryImpl) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT 1 FROM enrollment WHERE user_id = $1 AND course_id = $2
	`, userID, courseID)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	enrolled := rows.Next()
	return enrolled, rows.Err()
}

func (repo *RepositoryImpl) LessonStates(ctx context.Context, userID, courseID string) (map[string]navigator.LessonState, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    lp.lesson_id, lp.percentage, lp.completed
FROM
    lesson_progress lp
WHERE
    lp.user_id = $1 AND lp.course_id = $2
	`, userID, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]navigator.LessonState)
	for rows.Next() {
		var (
			id string
			p  progress.LessonProgress
		)
		if err := rows.Scan(&id, &p.Percentage, &p.Completed); err != nil {
			return nil, err
		}
		result[id] = navigator.State(&p)
	}
	return result, rows.Err()
}
