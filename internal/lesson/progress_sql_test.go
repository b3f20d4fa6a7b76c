package lesson

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pot-code/elira-progress/internal/infrastructure/driver/drivertest"
	"github.com/pot-code/elira-progress/internal/progress"
	"github.com/pot-code/elira-progress/internal/remotesync"
)

func storedRow(pct float64, spent int, completed bool, pos float64, at int64) []interface{} {
	return []interface{}{"video", "c1", "VIDEO", pct, spent, completed, pos, 0.0, 0, at}
}

func TestProgressRepository_FindProgress(t *testing.T) {
	db := drivertest.New().OnQuery("FROM lesson_progress lp", func(args []interface{}) ([][]interface{}, error) {
		if args[1] != "video" {
			return nil, nil
		}
		return [][]interface{}{storedRow(45, 270, false, 270, 1000)}, nil
	})
	repo := NewProgressRepository(db)

	p, err := repo.FindProgress(context.Background(), "u1", "video")
	if err != nil {
		t.Fatalf("FindProgress: %v", err)
	}
	if p == nil || p.Percentage != 45 || p.ContentType != progress.ContentVideo || p.LastAccessedAt != 1000 {
		t.Fatalf("unexpected record: %+v", p)
	}
	if p, err := repo.FindProgress(context.Background(), "u1", "other"); err != nil || p != nil {
		t.Fatalf("missing record: want=nil,nil got=%v,%v", p, err)
	}
	if strings.Contains(db.Statements()[0].SQL, "FOR UPDATE") {
		t.Fatal("plain read took a row lock")
	}
}

func TestProgressRepository_UpsertProgress_Insert(t *testing.T) {
	db := drivertest.New()
	repo := NewProgressRepository(db)

	in := progress.LessonProgress{LessonID: "video", CourseID: "c1", ContentType: progress.ContentVideo, Percentage: 30}
	got, err := repo.UpsertProgress(context.Background(), "u1", in, progress.Merge)
	if err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}
	if got.Percentage != 30 {
		t.Fatalf("merged: %+v", got)
	}
	if !db.Executed("INSERT INTO lesson_progress") || db.Executed("UPDATE lesson_progress") {
		t.Fatal("first write should insert")
	}
	for _, s := range db.Statements() {
		if !s.InTx {
			t.Fatalf("statement outside transaction: %s", s.SQL)
		}
	}
	if !strings.HasSuffix(db.Statements()[0].SQL, "FOR UPDATE") {
		t.Fatalf("read not locked: %s", db.Statements()[0].SQL)
	}
	if db.Commits() != 1 {
		t.Fatalf("commits: want=1 got=%d", db.Commits())
	}
}

func TestProgressRepository_UpsertProgress_MergesStored(t *testing.T) {
	var updateArgs []interface{}
	db := drivertest.New().
		OnQuery("FROM lesson_progress lp", func(args []interface{}) ([][]interface{}, error) {
			return [][]interface{}{storedRow(70, 420, false, 420, 2000)}, nil
		}).
		OnExec("UPDATE lesson_progress", func(args []interface{}) (int64, error) {
			updateArgs = args
			return 1, nil
		})
	repo := NewProgressRepository(db)

	stale := progress.LessonProgress{LessonID: "video", ContentType: progress.ContentVideo, Percentage: 30, TimeSpentSeconds: 180, LastPositionSeconds: 180, LastAccessedAt: 1000}
	got, err := repo.UpsertProgress(context.Background(), "u1", stale, progress.Merge)
	if err != nil {
		t.Fatalf("UpsertProgress: %v", err)
	}
	if got.Percentage != 70 || got.TimeSpentSeconds != 420 || got.LastPositionSeconds != 420 {
		t.Fatalf("stale write regressed: %+v", got)
	}
	if updateArgs == nil || updateArgs[0] != 70.0 || updateArgs[len(updateArgs)-2] != "u1" {
		t.Fatalf("update args: %v", updateArgs)
	}
}

func TestProgressRepository_UpsertProgress_RollsBack(t *testing.T) {
	boom := errors.New("lock wait timeout")
	db := drivertest.New().OnExec("INSERT INTO lesson_progress", func(args []interface{}) (int64, error) {
		return 0, boom
	})
	repo := NewProgressRepository(db)

	_, err := repo.UpsertProgress(context.Background(), "u1",
		progress.LessonProgress{LessonID: "video", ContentType: progress.ContentVideo}, progress.Merge)
	if !errors.Is(err, boom) {
		t.Fatalf("want %v got %v", boom, err)
	}
	if db.Rollbacks() != 1 || db.Commits() != 0 {
		t.Fatalf("rollbacks=%d commits=%d", db.Rollbacks(), db.Commits())
	}
}

func TestProgressRepository_InsertQuizResult(t *testing.T) {
	var args []interface{}
	db := drivertest.New().OnExec("INSERT INTO quiz_result", func(a []interface{}) (int64, error) {
		args = a
		return 1, nil
	})
	repo := NewProgressRepository(db)
	err := repo.InsertQuizResult(context.Background(), "u1", &remotesync.QuizResult{
		ID: "q1", LessonID: "quiz", Answers: []bool{true, false}, Score: 50, SubmittedAt: 1000,
	})
	if err != nil {
		t.Fatalf("InsertQuizResult: %v", err)
	}
	if len(args) != 7 || args[5] != "[true,false]" {
		t.Fatalf("insert args: %v", args)
	}
}

func TestProgressRepository_HasPassedQuiz(t *testing.T) {
	db := drivertest.New().OnQuery("FROM quiz_result", func(args []interface{}) ([][]interface{}, error) {
		if args[0] == "u1" && args[1] == "quiz" && args[2] == true {
			return [][]interface{}{{1}}, nil
		}
		return nil, nil
	})
	repo := NewProgressRepository(db)

	if passed, err := repo.HasPassedQuiz(context.Background(), "u1", "quiz"); err != nil || !passed {
		t.Fatalf("passed attempt: want=true,nil got=%v,%v", passed, err)
	}
	if passed, err := repo.HasPassedQuiz(context.Background(), "u2", "quiz"); err != nil || passed {
		t.Fatalf("no attempt: want=false,nil got=%v,%v", passed, err)
	}
}
