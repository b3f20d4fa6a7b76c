package course

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/pot-code/elira-progress/internal/infrastructure/driver/drivertest"
	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
)

func rows(data ...[]interface{}) drivertest.QueryFunc {
	return func(args []interface{}) ([][]interface{}, error) {
		return data, nil
	}
}

func seededCatalogue() *drivertest.DB {
	return drivertest.New().
		OnQuery("FROM course c", func(args []interface{}) ([][]interface{}, error) {
			if args[0] != "c1" {
				return nil, nil
			}
			return [][]interface{}{{"c1", "Go basics", true}}, nil
		}).
		OnQuery("FROM course_module m", rows(
			[]interface{}{"m1", "Intro", 1},
			[]interface{}{"m2", "Deeper", 2},
		)).
		OnQuery("FROM lesson l WHERE l.course_id", rows(
			[]interface{}{"l1", "m1", "Welcome", 1, "VIDEO", 600.0, 0, 0.0},
			[]interface{}{"l3", "m2", "Quiz", 1, "QUIZ", 0.0, 0, 70.0},
			[]interface{}{"l2", "m1", "Reading", 2, "reading", 0.0, 800, 0.0},
		))
}

func TestRepository_GetCourse(t *testing.T) {
	repo := NewRepository(seededCatalogue())
	tree, err := repo.GetCourse(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if tree == nil || tree.Title != "Go basics" || !tree.AutoplayNext {
		t.Fatalf("unexpected course: %+v", tree)
	}
	if len(tree.Modules) != 2 {
		t.Fatalf("modules: want=2 got=%d", len(tree.Modules))
	}
	intro := tree.Modules[0]
	if len(intro.Lessons) != 2 || intro.Lessons[0].ID != "l1" || intro.Lessons[1].ID != "l2" {
		t.Fatalf("intro lessons: %+v", intro.Lessons)
	}
	if intro.Lessons[1].ContentType != progress.ContentReading || intro.Lessons[1].WordCount != 800 {
		t.Fatalf("reading lesson: %+v", intro.Lessons[1])
	}
	if q := tree.Modules[1].Lessons[0]; q.PassingScore != 70 {
		t.Fatalf("passing score: want=70 got=%v", q.PassingScore)
	}
}

func TestRepository_GetCourse_Unknown(t *testing.T) {
	db := seededCatalogue()
	repo := NewRepository(db)
	tree, err := repo.GetCourse(context.Background(), "nope")
	if err != nil || tree != nil {
		t.Fatalf("unknown course: want=nil,nil got=%v,%v", tree, err)
	}
	if db.Executed("FROM course_module m") {
		t.Fatal("modules queried for an unknown course")
	}
}

func TestRepository_GetCourse_BadContentType(t *testing.T) {
	db := drivertest.New().
		OnQuery("FROM course c", rows([]interface{}{"c1", "Go", false})).
		OnQuery("FROM course_module m", rows([]interface{}{"m1", "Intro", 1})).
		OnQuery("FROM lesson l WHERE l.course_id", rows(
			[]interface{}{"l1", "m1", "Slides", 1, "SLIDES", 0.0, 0, 0.0},
		))
	_, err := NewRepository(db).GetCourse(context.Background(), "c1")
	if !errors.Is(err, progress.ErrUnknownContentType) {
		t.Fatalf("want ErrUnknownContentType, got %v", err)
	}
}

func TestRepository_GetLesson(t *testing.T) {
	db := drivertest.New().
		OnQuery("FROM lesson l WHERE l.id", func(args []interface{}) ([][]interface{}, error) {
			if args[0] != "l3" {
				return nil, nil
			}
			return [][]interface{}{{"l3", "c1", "QUIZ", 70.0}}, nil
		})
	repo := NewRepository(db)

	meta, err := repo.GetLesson(context.Background(), "l3")
	if err != nil {
		t.Fatalf("GetLesson: %v", err)
	}
	if meta.CourseID != "c1" || meta.ContentType != progress.ContentQuiz || meta.PassingScore != 70 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta, err := repo.GetLesson(context.Background(), "l9"); err != nil || meta != nil {
		t.Fatalf("unknown lesson: want=nil,nil got=%v,%v", meta, err)
	}
}

func TestRepository_Enrollment(t *testing.T) {
	db := drivertest.New().
		OnQuery("FROM enrollment", func(args []interface{}) ([][]interface{}, error) {
			if args[0] == "u1" && args[1] == "c1" {
				return [][]interface{}{{1}}, nil
			}
			return nil, nil
		}).
		OnQuery("FROM lesson_progress lp", rows(
			[]interface{}{"l1", 100.0, true},
			[]interface{}{"l2", 35.0, false},
			[]interface{}{"l3", 0.0, false},
		))
	repo := NewRepository(db)
	ctx := context.Background()

	if ok, err := repo.IsEnrolled(ctx, "u1", "c1"); err != nil || !ok {
		t.Fatalf("u1 enrolled: want=true got=%v (%v)", ok, err)
	}
	if ok, err := repo.IsEnrolled(ctx, "u2", "c1"); err != nil || ok {
		t.Fatalf("u2 enrolled: want=false got=%v (%v)", ok, err)
	}

	states, err := repo.LessonStates(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("LessonStates: %v", err)
	}
	want := map[string]navigator.LessonState{
		"l1": navigator.StateCompleted,
		"l2": navigator.StateInProgress,
		"l3": navigator.StateNotStarted,
	}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("states: want=%v got=%v", want, states)
	}
}
