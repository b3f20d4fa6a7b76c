package lesson

import (
	"context"
	"encoding/json"

	"github.com/pot-code/elira-progress/internal/infrastructure/driver"
	"github.com/pot-code/elira-progress/internal/progress"
	"github.com/pot-code/elira-progress/internal/remotesync"
)

// ProgressRepositoryImpl ProgressRepository over mysql or postgres
type ProgressRepositoryImpl struct {
	Conn driver.ITransactionalDB `dep:""`
}

var _ ProgressRepository = &ProgressRepositoryImpl{}

// NewProgressRepository .
func NewProgressRepository(Conn driver.ITransactionalDB) *ProgressRepositoryImpl {
	return &ProgressRepositoryImpl{
		Conn: Conn,
	}
}

const selectProgress = `
SELECT
    lp.lesson_id, lp.course_id, lp.content_type, lp.percentage, lp.time_spent_seconds, lp.completed,
    lp.last_position_seconds, lp.last_scroll_fraction, lp.last_question_index, lp.last_accessed_at
FROM
    lesson_progress lp
WHERE
    lp.user_id = $1 AND lp.lesson_id = $2
`

func findProgress(ctx context.Context, conn driver.ITransactionalDB, userID, lessonID string, forUpdate bool) (*progress.LessonProgress, error) {
	query := selectProgress
	if forUpdate {
		query += "FOR UPDATE"
	}
	rows, err := conn.QueryContext(ctx, query, userID, lessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result *progress.LessonProgress
	for rows.Next() {
		var ct string
		p := new(progress.LessonProgress)
		err := rows.Scan(&p.LessonID, &p.CourseID, &ct, &p.Percentage, &p.TimeSpentSeconds, &p.Completed,
			&p.LastPositionSeconds, &p.LastScrollFraction, &p.LastQuestionIndex, &p.LastAccessedAt)
		if err != nil {
			return nil, err
		}
		p.ContentType = progress.ContentType(ct)
		result = p
	}
	return result, rows.Err()
}

func (repo *ProgressRepositoryImpl) FindProgress(ctx context.Context, userID, lessonID string) (*progress.LessonProgress, error) {
	return findProgress(ctx, repo.Conn, userID, lessonID, false)
}

// UpsertProgress the row is locked between read and write, a concurrent first
// insert surfaces as a duplicate key error
func (repo *ProgressRepositoryImpl) UpsertProgress(ctx context.Context, userID string, incoming progress.LessonProgress, merge MergeFunc) (*progress.LessonProgress, error) {
	var merged progress.LessonProgress
	err := driver.WithTx(ctx, repo.Conn, driver.ReadWriteTx, func(tx driver.ITransactionalDB) error {
		stored, err := findProgress(ctx, tx, userID, incoming.LessonID, true)
		if err != nil {
			return err
		}
		merged = merge(stored, incoming)
		p := &merged

		if stored == nil {
			_, err = tx.ExecContext(ctx, `
INSERT INTO lesson_progress
    (user_id, lesson_id, course_id, content_type, percentage, time_spent_seconds, completed,
    last_position_seconds, last_scroll_fraction, last_question_index, last_accessed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`, userID, p.LessonID, p.CourseID, string(p.ContentType), p.Percentage, p.TimeSpentSeconds, p.Completed,
				p.LastPositionSeconds, p.LastScrollFraction, p.LastQuestionIndex, p.LastAccessedAt)
			return err
		}
		_, err = tx.ExecContext(ctx, `
UPDATE lesson_progress
SET
    percentage = $1, time_spent_seconds = $2, completed = $3, last_position_seconds = $4,
    last_scroll_fraction = $5, last_question_index = $6, last_accessed_at = $7
WHERE
    user_id = $8 AND lesson_id = $9
		`, p.Percentage, p.TimeSpentSeconds, p.Completed, p.LastPositionSeconds,
			p.LastScrollFraction, p.LastQuestionIndex, p.LastAccessedAt,
			userID, p.LessonID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

func (repo *ProgressRepositoryImpl) InsertQuizResult(ctx context.Context, userID string, result *remotesync.QuizResult) error {
	answers, err := json.Marshal(result.Answers)
	if err != nil {
		return err
	}
	_, err = repo.Conn.ExecContext(ctx, `
INSERT INTO quiz_result
    (id, user_id, lesson_id, score, passed, answers, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, result.ID, userID, result.LessonID, result.Score, result.Passed, string(answers), result.SubmittedAt)
	return err
}

func (repo *ProgressRepositoryImpl) HasPassedQuiz(ctx context.Context, userID, lessonID string) (bool, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT 1 FROM quiz_result WHERE user_id = $1 AND lesson_id = $2 AND passed = $3 LIMIT 1
	`, userID, lessonID, true)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	passed := rows.Next()
	return passed, rows.Err()
}
