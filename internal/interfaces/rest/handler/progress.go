package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/elira-progress/internal/infrastructure/auth"
	"github.com/pot-code/elira-progress/internal/infrastructure/validate"
	"github.com/pot-code/elira-progress/internal/lesson"
	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
)

// ProgressHandler course outline and lesson progress endpoints
type ProgressHandler struct {
	progressUseCase lesson.ProgressUseCase
	validator       validate.Validator
	jwtUtil         *auth.JWTUtil
}

// NewProgressHandler .
func NewProgressHandler(
	ProgressUseCase lesson.ProgressUseCase,
	JWTUtil *auth.JWTUtil,
	Validator validate.Validator,
) *ProgressHandler {
	return &ProgressHandler{ProgressUseCase, Validator, JWTUtil}
}

// QuizSubmission per-question correctness of one attempt
type QuizSubmission struct {
	Answers        []bool  `json:"answers" validate:"required,min=1"`
	ElapsedSeconds float64 `json:"elapsed_seconds" validate:"min=0"`
}

func bindFailed(c echo.Context, err error) error {
	detail := err.Error()
	if he, ok := err.(*echo.HTTPError); ok && he.Internal != nil {
		detail = he.Internal.Error()
	}
	return c.JSON(http.StatusUnprocessableEntity,
		NewRESTStandardError(http.StatusUnprocessableEntity, detail).SetTraceID(traceID(c)))
}

func (ph *ProgressHandler) userID(c echo.Context) (string, bool) {
	return ph.jwtUtil.UserID(c)
}

// HandleGetOutline GET /course/:courseId/outline
func (ph *ProgressHandler) HandleGetOutline(c echo.Context) error {
	uid, ok := ph.userID(c)
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}
	tree, err := ph.progressUseCase.FetchCourseTree(c.Request().Context(), uid, c.Param("courseId"))
	if err != nil {
		return renderServiceError(c, err)
	}
	return c.JSON(http.StatusOK, navigator.New(*tree).Outline())
}

// HandleGetProgress GET /lesson/:lessonId/progress
func (ph *ProgressHandler) HandleGetProgress(c echo.Context) error {
	uid, ok := ph.userID(c)
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}
	p, err := ph.progressUseCase.FetchLessonProgress(c.Request().Context(), uid, c.Param("lessonId"))
	if err != nil {
		return renderServiceError(c, err)
	}
	if p == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, p)
}

// HandlePutProgress PUT /lesson/:lessonId/progress
func (ph *ProgressHandler) HandlePutProgress(c echo.Context) error {
	uid, ok := ph.userID(c)
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}
	lessonID := c.Param("lessonId")

	payload := new(progress.LessonProgress)
	if err := c.Bind(payload); err != nil {
		return bindFailed(c, err)
	}
	if payload.LessonID == "" {
		payload.LessonID = lessonID
	}
	if errs := ph.validator.Struct(payload); len(errs) > 0 {
		return validationFailed(c, errs)
	}

	persisted, err := ph.progressUseCase.SubmitProgress(c.Request().Context(), uid, lessonID, *payload)
	if err != nil {
		return renderServiceError(c, err)
	}
	return c.JSON(http.StatusOK, persisted)
}

// HandlePostQuiz POST /lesson/:lessonId/quiz
func (ph *ProgressHandler) HandlePostQuiz(c echo.Context) error {
	uid, ok := ph.userID(c)
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}

	payload := new(QuizSubmission)
	if err := c.Bind(payload); err != nil {
		return bindFailed(c, err)
	}
	if errs := ph.validator.Struct(payload); len(errs) > 0 {
		return validationFailed(c, errs)
	}

	outcome, err := ph.progressUseCase.GradeAndSubmitQuiz(c.Request().Context(), uid, c.Param("lessonId"),
		payload.Answers, payload.ElapsedSeconds)
	if err != nil {
		return renderServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, outcome)
}

// HandleGetResume GET /lesson/:lessonId/resume
func (ph *ProgressHandler) HandleGetResume(c echo.Context) error {
	uid, ok := ph.userID(c)
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}
	prompt, err := ph.progressUseCase.GetResumePrompt(c.Request().Context(), uid, c.Param("lessonId"))
	if err != nil {
		return renderServiceError(c, err)
	}
	return c.JSON(http.StatusOK, prompt)
}
