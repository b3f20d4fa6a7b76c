package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	infra "github.com/pot-code/elira-progress/internal/infrastructure"
	"github.com/pot-code/elira-progress/internal/infrastructure/auth"
	"github.com/pot-code/elira-progress/internal/infrastructure/validate"
	"github.com/pot-code/elira-progress/internal/lesson"
	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
	"github.com/pot-code/elira-progress/internal/remotesync"
	"github.com/pot-code/elira-progress/internal/resume"
)

type fakeUseCase struct {
	mu      sync.Mutex
	err     error
	records map[string]progress.LessonProgress
}

var _ lesson.ProgressUseCase = &fakeUseCase{}

func newFakeUseCase() *fakeUseCase {
	return &fakeUseCase{records: make(map[string]progress.LessonProgress)}
}

func (f *fakeUseCase) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeUseCase) FetchCourseTree(ctx context.Context, userID, courseID string) (*navigator.CourseTree, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	if courseID != "c1" {
		return nil, fmt.Errorf("%w: course %s", remotesync.ErrNotFound, courseID)
	}
	return &navigator.CourseTree{CourseID: "c1", Title: "Go basics", AutoplayNext: true, Modules: []navigator.Module{
		{ID: "m1", Order: 1, Lessons: []navigator.Lesson{
			{ID: "video", Order: 1, ContentType: progress.ContentVideo, DurationSeconds: 600, Completed: true},
			{ID: "quiz", Order: 2, ContentType: progress.ContentQuiz},
		}},
	}}, nil
}

func (f *fakeUseCase) FetchLessonProgress(ctx context.Context, userID, lessonID string) (*progress.LessonProgress, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[lessonID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeUseCase) SubmitProgress(ctx context.Context, userID, lessonID string, p progress.LessonProgress) (*progress.LessonProgress, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var stored *progress.LessonProgress
	if cur, ok := f.records[lessonID]; ok {
		stored = &cur
	}
	merged := progress.Merge(stored, p)
	f.records[lessonID] = merged
	return &merged, nil
}

func (f *fakeUseCase) SubmitQuizResult(ctx context.Context, userID, lessonID string, result remotesync.QuizResult) (*remotesync.QuizResult, error) {
	grade := progress.GradeQuiz(result.Answers, 0)
	result.ID, result.Score, result.Passed = "q1", grade.Score, grade.Passed
	return &result, nil
}

func (f *fakeUseCase) GradeAndSubmitQuiz(ctx context.Context, userID, lessonID string, answers []bool, elapsedSeconds float64) (*lesson.QuizOutcome, error) {
	if err := f.failure(); err != nil {
		return nil, err
	}
	grade := progress.GradeQuiz(answers, 0)
	return &lesson.QuizOutcome{
		Result:   &remotesync.QuizResult{ID: "q1", LessonID: lessonID, Answers: answers, Score: grade.Score, Passed: grade.Passed},
		Grade:    grade,
		Progress: &progress.LessonProgress{LessonID: lessonID, ContentType: progress.ContentQuiz, Percentage: grade.Score, Completed: grade.Passed},
	}, nil
}

func (f *fakeUseCase) GetResumePrompt(ctx context.Context, userID, lessonID string) (*resume.Prompt, error) {
	p, err := f.FetchLessonProgress(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	prompt := resume.Decide(p, progress.ContentVideo)
	return &prompt, nil
}

func (f *fakeUseCase) record(lessonID string) (progress.LessonProgress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[lessonID]
	return p, ok
}

func (f *fakeUseCase) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestApp(uc *fakeUseCase, userID string) *echo.Echo {
	ju := auth.NewJWTUtil("HS256", "secret", "elira_token", time.Hour)
	v := validate.NewValidator("en")
	player := lesson.NewPlayer(uc, nil, nil, &lesson.PlayerOption{
		FlushInterval: time.Hour,
		AutoplayDelay: 10 * time.Millisecond,
		MaxAttempts:   1,
	})
	ph := NewProgressHandler(uc, ju, v)
	wh := NewPlayerHandler(player, infra.NewWebsocket(), ju, v)

	asUser := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID != "" {
				ju.SetContextToken(c, &auth.AppTokenClaims{UID: userID})
			}
			return next(c)
		}
	}
	app := echo.New()
	app.GET("/course/:courseId/outline", ph.HandleGetOutline, asUser)
	app.GET("/lesson/:lessonId/progress", ph.HandleGetProgress, asUser)
	app.PUT("/lesson/:lessonId/progress", ph.HandlePutProgress, asUser)
	app.POST("/lesson/:lessonId/quiz", ph.HandlePostQuiz, asUser)
	app.GET("/lesson/:lessonId/resume", ph.HandleGetResume, asUser)
	app.GET("/ws/player", wh.HandlePlayer, asUser)
	return app
}

func do(app *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func TestProgressHandler_GetProgress(t *testing.T) {
	uc := newFakeUseCase()
	app := newTestApp(uc, "u1")

	if rec := do(app, http.MethodGet, "/lesson/video/progress", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("never started: want=204 got=%d", rec.Code)
	}
	uc.records["video"] = progress.LessonProgress{LessonID: "video", ContentType: progress.ContentVideo, Percentage: 45}
	rec := do(app, http.MethodGet, "/lesson/video/progress", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want=200 got=%d", rec.Code)
	}
	var got progress.LessonProgress
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.Percentage != 45 {
		t.Fatalf("body: %s (%v)", rec.Body.String(), err)
	}
}

func TestProgressHandler_Unauthenticated(t *testing.T) {
	app := newTestApp(newFakeUseCase(), "")
	for _, target := range []string{"/lesson/video/progress", "/course/c1/outline", "/lesson/video/resume", "/ws/player?course=c1&lesson=video"} {
		if rec := do(app, http.MethodGet, target, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: want=401 got=%d", target, rec.Code)
		}
	}
}

func TestProgressHandler_PutProgress(t *testing.T) {
	uc := newFakeUseCase()
	app := newTestApp(uc, "u1")

	rec := do(app, http.MethodPut, "/lesson/video/progress", `{"content_type":"VIDEO","percentage":140}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid payload: want=400 got=%d", rec.Code)
	}
	var verr RESTValidationError
	if err := json.Unmarshal(rec.Body.Bytes(), &verr); err != nil || len(verr.InvalidParams) == 0 {
		t.Fatalf("validation body: %s", rec.Body.String())
	}
	if verr.InvalidParams[0].Domain != "percentage" {
		t.Fatalf("invalid param: want=percentage got=%s", verr.InvalidParams[0].Domain)
	}

	rec = do(app, http.MethodPut, "/lesson/video/progress", `{"content_type":"VIDEO","percentage":40,"time_spent_seconds":240}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid payload: want=200 got=%d %s", rec.Code, rec.Body.String())
	}
	if stored, ok := uc.record("video"); !ok || stored.Percentage != 40 || stored.LessonID != "video" {
		t.Fatalf("stored: %+v", stored)
	}

	if rec := do(app, http.MethodPut, "/lesson/video/progress", `{"content_type":`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("malformed body: want=422 got=%d", rec.Code)
	}
}

func TestProgressHandler_ServiceErrors(t *testing.T) {
	uc := newFakeUseCase()
	app := newTestApp(uc, "u1")
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: course c1", remotesync.ErrAccessDenied), http.StatusForbidden},
		{fmt.Errorf("%w: lesson video", remotesync.ErrNotFound), http.StatusNotFound},
		{&remotesync.RetryableError{Op: "submit progress", Err: fmt.Errorf("timeout")}, http.StatusServiceUnavailable},
		{&remotesync.ValidationError{Fields: []*validate.FieldError{validate.NewFieldError("content_type", "mismatch")}}, http.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		uc.fail(c.err)
		if rec := do(app, http.MethodGet, "/lesson/video/progress", ""); rec.Code != c.code {
			t.Errorf("%v: want=%d got=%d", c.err, c.code, rec.Code)
		}
	}
}

func TestProgressHandler_Outline(t *testing.T) {
	app := newTestApp(newFakeUseCase(), "u1")
	rec := do(app, http.MethodGet, "/course/c1/outline", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want=200 got=%d", rec.Code)
	}
	var outline navigator.Outline
	if err := json.Unmarshal(rec.Body.Bytes(), &outline); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(outline.Lessons) != 2 || outline.Course.Completed != 1 || outline.Course.Fraction != 0.5 {
		t.Fatalf("outline: %+v", outline)
	}
	if rec := do(app, http.MethodGet, "/course/c9/outline", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown course: want=404 got=%d", rec.Code)
	}
}

func TestProgressHandler_Quiz(t *testing.T) {
	app := newTestApp(newFakeUseCase(), "u1")
	if rec := do(app, http.MethodPost, "/lesson/quiz/quiz", `{"answers":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("no answers: want=400 got=%d", rec.Code)
	}
	rec := do(app, http.MethodPost, "/lesson/quiz/quiz", `{"answers":[true,true,true,true,false],"elapsed_seconds":30}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want=201 got=%d %s", rec.Code, rec.Body.String())
	}
	var out lesson.QuizOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || !out.Result.Passed || out.Result.Score != 80 {
		t.Fatalf("outcome: %s", rec.Body.String())
	}
}

func TestProgressHandler_Resume(t *testing.T) {
	uc := newFakeUseCase()
	uc.records["video"] = progress.LessonProgress{LessonID: "video", ContentType: progress.ContentVideo, Percentage: 45, LastPositionSeconds: 270}
	rec := do(newTestApp(uc, "u1"), http.MethodGet, "/lesson/video/resume", "")
	var prompt resume.Prompt
	if err := json.Unmarshal(rec.Body.Bytes(), &prompt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !prompt.ShouldShow || prompt.Anchor.PositionSeconds != 270 {
		t.Fatalf("prompt: %+v", prompt)
	}
}

func TestPlayerHandler_MissingParams(t *testing.T) {
	app := newTestApp(newFakeUseCase(), "u1")
	if rec := do(app, http.MethodGet, "/ws/player?course=c1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing lesson: want=400 got=%d", rec.Code)
	}
}

func dialPlayer(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/player?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, types ...string) map[string]ServerMessage {
	t.Helper()
	want := make(map[string]bool)
	for _, typ := range types {
		want[typ] = true
	}
	got := make(map[string]ServerMessage)
	for len(got) < len(want) {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %v, got %v: %v", types, got, err)
		}
		if want[msg.Type] {
			got[msg.Type] = msg
		}
	}
	return got
}

func TestPlayerHandler_Session(t *testing.T) {
	uc := newFakeUseCase()
	srv := httptest.NewServer(newTestApp(uc, "u1"))
	defer srv.Close()

	conn := dialPlayer(t, srv, "course=c1&lesson=video")
	opened := readUntil(t, conn, MessageOpened)[MessageOpened]
	if opened.Lesson == nil || opened.Lesson.ID != "video" || opened.Outline == nil || opened.Prompt == nil {
		t.Fatalf("opened message: %+v", opened)
	}
	if opened.Previous != nil || opened.Next == nil || opened.Next.ID != "quiz" {
		t.Fatalf("opened neighbours: previous=%+v next=%+v", opened.Previous, opened.Next)
	}
	states := make(map[string]navigator.LessonState)
	for _, l := range opened.Outline.Lessons {
		states[l.ID] = l.State
	}
	if states["video"] != navigator.StateCompleted || states["quiz"] != navigator.StateNotStarted {
		t.Fatalf("outline states: %v", states)
	}

	conn.WriteJSON(ClientMessage{Type: MessageSignal, Signal: &SignalPayload{Kind: progress.KindWatchTime, ElapsedSeconds: 540, PositionSeconds: 540}})
	msgs := readUntil(t, conn, MessageAck, string(lesson.EventCompleted), string(lesson.EventAdvance))
	if ack := msgs[MessageAck]; ack.Progress == nil || ack.Progress.Percentage != 90 {
		t.Fatalf("ack: %+v", ack)
	}
	if adv := msgs[string(lesson.EventAdvance)]; adv.Event == nil || adv.Event.Next == nil || adv.Event.Next.ID != "quiz" {
		t.Fatalf("advance: %+v", adv)
	}

	conn.WriteJSON(ClientMessage{Type: MessageRespond, Choice: "maybe"})
	if e := readUntil(t, conn, MessageError)[MessageError]; e.Error == nil || e.Error.Code != http.StatusBadRequest {
		t.Fatalf("bad choice: %+v", e)
	}
	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if e := readUntil(t, conn, MessageError)[MessageError]; e.Error == nil || e.Error.Code != http.StatusBadRequest {
		t.Fatalf("malformed message: %+v", e)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if stored, ok := uc.record("video"); ok && stored.Completed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("progress not persisted after disconnect")
}

func TestPlayerHandler_RejectsClientQuizScore(t *testing.T) {
	uc := newFakeUseCase()
	srv := httptest.NewServer(newTestApp(uc, "u1"))
	defer srv.Close()

	conn := dialPlayer(t, srv, "course=c1&lesson=quiz")
	defer conn.Close()
	opened := readUntil(t, conn, MessageOpened)[MessageOpened]
	if opened.Previous == nil || opened.Previous.ID != "video" || opened.Next != nil {
		t.Fatalf("opened neighbours: previous=%+v next=%+v", opened.Previous, opened.Next)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"signal","signal":{"kind":"quizResult","score":100,"passed":true,"elapsed_seconds":5}}`))
	if e := readUntil(t, conn, MessageError)[MessageError]; e.Error == nil || e.Error.Code != http.StatusBadRequest {
		t.Fatalf("client quiz score: %+v", e)
	}
	conn.WriteJSON(ClientMessage{Type: MessageFlush})
	ack := readUntil(t, conn, MessageAck)[MessageAck]
	if ack.Progress == nil || ack.Progress.Completed || ack.Progress.Percentage != 0 {
		t.Fatalf("client quiz score applied: %+v", ack.Progress)
	}
}

func TestPlayerHandler_OpenDenied(t *testing.T) {
	uc := newFakeUseCase()
	uc.fail(fmt.Errorf("%w: course c1", remotesync.ErrAccessDenied))
	srv := httptest.NewServer(newTestApp(uc, "u1"))
	defer srv.Close()

	conn := dialPlayer(t, srv, "course=c1&lesson=video")
	defer conn.Close()
	e := readUntil(t, conn, MessageError)[MessageError]
	if e.Error == nil || e.Error.Code != http.StatusForbidden {
		t.Fatalf("denied: %+v", e)
	}
	var msg ServerMessage
	err := conn.ReadJSON(&msg)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("want policy violation close, got %v", err)
	}
}
