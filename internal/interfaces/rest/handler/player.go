package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	infra "github.com/pot-code/elira-progress/internal/infrastructure"
	"github.com/pot-code/elira-progress/internal/infrastructure/auth"
	"github.com/pot-code/elira-progress/internal/infrastructure/logging"
	"github.com/pot-code/elira-progress/internal/infrastructure/validate"
	"github.com/pot-code/elira-progress/internal/lesson"
	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
	"github.com/pot-code/elira-progress/internal/remotesync"
	"github.com/pot-code/elira-progress/internal/resume"
	"go.uber.org/zap"
)

// client message types
const (
	MessageSignal  = "signal"
	MessageRespond = "respond"
	MessageRefresh = "refresh"
	MessageFlush   = "flush"
	MessageQuiz    = "quiz"
)

// server message types, view events use their own kind
const (
	MessageOpened = "opened"
	MessageError  = "error"
	MessageAck    = "ack"
)

// ErrBadMessage client message could not be understood
var ErrBadMessage = errors.New("malformed player message")

// SignalPayload wire form of an engagement signal. Quiz scores are only
// accepted as answers through MessageQuiz.
type SignalPayload struct {
	Kind            progress.SignalKind `json:"kind"`
	ElapsedSeconds  float64             `json:"elapsed_seconds"`
	PositionSeconds float64             `json:"position_seconds,omitempty"`
	ScrollFraction  float64             `json:"scroll_fraction,omitempty"`
	QuestionIndex   int                 `json:"question_index,omitempty"`
}

// Signal decode into a tracker signal
func (sp *SignalPayload) Signal() (progress.Signal, error) {
	switch sp.Kind {
	case progress.KindWatchTime:
		return progress.WatchTime{ElapsedSeconds: sp.ElapsedSeconds, PositionSeconds: sp.PositionSeconds}, nil
	case progress.KindReadTime:
		return progress.ReadTime{ElapsedSeconds: sp.ElapsedSeconds, ScrollFraction: sp.ScrollFraction}, nil
	case progress.KindQuizResult:
		return nil, fmt.Errorf("%w: quiz results are graded from a %q message", ErrBadMessage, MessageQuiz)
	case progress.KindQuizPosition:
		return progress.QuizPosition{QuestionIndex: sp.QuestionIndex, ElapsedSeconds: sp.ElapsedSeconds}, nil
	}
	return nil, fmt.Errorf("%w: unknown signal kind %q", ErrBadMessage, sp.Kind)
}

// ClientMessage message sent by the player UI
type ClientMessage struct {
	Type           string         `json:"type"`
	Signal         *SignalPayload `json:"signal,omitempty"`
	Choice         string         `json:"choice,omitempty"`
	Answers        []bool         `json:"answers,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds,omitempty"`
}

// ServerMessage message pushed to the player UI
type ServerMessage struct {
	Type     string                   `json:"type"`
	Ack      string                   `json:"ack,omitempty"`
	Lesson   *navigator.Lesson        `json:"lesson,omitempty"`
	Outline  *navigator.Outline       `json:"outline,omitempty"`
	Previous *navigator.Lesson        `json:"previous,omitempty"`
	Next     *navigator.Lesson        `json:"next,omitempty"`
	Prompt   *resume.Prompt           `json:"prompt,omitempty"`
	Anchor   *progress.Anchor         `json:"anchor,omitempty"`
	Progress *progress.LessonProgress `json:"progress,omitempty"`
	Event    *lesson.Event            `json:"event,omitempty"`
	Quiz     *remotesync.QuizResult   `json:"quiz,omitempty"`
	Error    *RESTStandardError       `json:"error,omitempty"`
}

// PlayerHandler websocket player sessions
type PlayerHandler struct {
	player    *lesson.Player
	websocket *infra.Websocket
	validator validate.Validator
	jwtUtil   *auth.JWTUtil

	mu       sync.Mutex
	sessions map[*infra.Conn]struct{}
	wg       sync.WaitGroup
	draining bool
}

// NewPlayerHandler .
func NewPlayerHandler(
	Player *lesson.Player,
	Websocket *infra.Websocket,
	JWTUtil *auth.JWTUtil,
	Validator validate.Validator,
) *PlayerHandler {
	return &PlayerHandler{
		player:    Player,
		websocket: Websocket,
		validator: Validator,
		jwtUtil:   JWTUtil,
		sessions:  make(map[*infra.Conn]struct{}),
	}
}

func (ph *PlayerHandler) track(conn *infra.Conn) bool {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	if ph.draining {
		return false
	}
	ph.sessions[conn] = struct{}{}
	ph.wg.Add(1)
	return true
}

func (ph *PlayerHandler) untrack(conn *infra.Conn) {
	ph.mu.Lock()
	delete(ph.sessions, conn)
	ph.mu.Unlock()
	ph.wg.Done()
}

// Drain close every open session and wait for their final flush. Hijacked
// connections are not covered by the http server shutdown.
func (ph *PlayerHandler) Drain(ctx context.Context) error {
	ph.mu.Lock()
	ph.draining = true
	for conn := range ph.sessions {
		conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
	ph.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ph.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandlePlayer GET /ws/player?course=&lesson=
func (ph *PlayerHandler) HandlePlayer(c echo.Context) error {
	uid, ok := ph.jwtUtil.UserID(c)
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}
	courseID, lessonID := c.QueryParam("course"), c.QueryParam("lesson")
	var errs []*validate.FieldError
	errs = append(errs, ph.validator.Empty("course", courseID)...)
	errs = append(errs, ph.validator.Empty("lesson", lessonID)...)
	if len(errs) > 0 {
		return validationFailed(c, errs)
	}

	return ph.websocket.WithHeartbeat(func(c echo.Context, conn *infra.Conn) error {
		if !ph.track(conn) {
			conn.CloseWith(websocket.CloseTryAgainLater, "server shutting down")
			return nil
		}
		defer ph.untrack(conn)
		return ph.serve(c, conn, uid, courseID, lessonID)
	})(c)
}

func wsError(err error) ServerMessage {
	status := serviceErrorStatus(err)
	if status == http.StatusInternalServerError {
		var se *progress.InvalidSignalError
		if errors.As(err, &se) || errors.Is(err, resume.ErrUnknownChoice) || errors.Is(err, lesson.ErrNotQuiz) || errors.Is(err, ErrBadMessage) {
			status = http.StatusBadRequest
		}
	}
	return ServerMessage{Type: MessageError, Error: NewRESTStandardError(status, err.Error())}
}

func malformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// fatal the view can not continue after err
func fatal(err error) bool {
	return errors.Is(err, remotesync.ErrNotFound) || errors.Is(err, remotesync.ErrAccessDenied)
}

func closeCode(err error) int {
	if errors.Is(err, remotesync.ErrAccessDenied) {
		return websocket.ClosePolicyViolation
	}
	return websocket.CloseNormalClosure
}

func (ph *PlayerHandler) serve(c echo.Context, conn *infra.Conn, uid, courseID, lessonID string) error {
	ctx := c.Request().Context()
	logger := logging.ExtractLoggerFromContext(ctx).With(logging.LessonFields(uid, lessonID)...)

	view, err := ph.player.Open(ctx, uid, courseID, lessonID)
	if err != nil {
		conn.WriteJSON(wsError(err))
		conn.CloseWith(closeCode(err), err.Error())
		if !fatal(err) {
			logger.Error("failed to open lesson view", zap.Error(err))
		}
		return nil
	}

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for e := range view.Events() {
			e := e
			if err := conn.WriteJSON(ServerMessage{Type: string(e.Kind), Event: &e}); err != nil {
				logger.Debug("event not delivered", zap.Error(err))
			}
		}
	}()
	defer func() {
		// the request context ends with the connection, the final flush gets its own
		if err := view.Close(context.Background()); err != nil {
			logger.Warn("final flush incomplete", zap.Error(err))
		}
		<-forwarded
	}()

	l := view.Lesson()
	outline := view.Outline()
	prompt := view.Prompt()
	current := view.Progress()
	opened := ServerMessage{Type: MessageOpened, Lesson: &l, Outline: &outline, Prompt: &prompt, Progress: &current}
	if prev, ok := view.Previous(); ok {
		opened.Previous = &prev
	}
	if next, ok := view.Next(); ok {
		opened.Next = &next
	}
	if err := conn.WriteJSON(opened); err != nil {
		return nil
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if malformed(err) {
				conn.WriteJSON(wsError(fmt.Errorf("%w: %s", ErrBadMessage, err)))
				continue
			}
			if !infra.IsClosed(err) {
				logger.Debug("player connection lost", zap.Error(err))
			}
			return nil
		}
		reply, err := ph.dispatch(ctx, view, &msg)
		if err != nil {
			conn.WriteJSON(wsError(err))
			if fatal(err) {
				conn.CloseWith(closeCode(err), err.Error())
				return nil
			}
			continue
		}
		if err := conn.WriteJSON(reply); err != nil {
			return nil
		}
	}
}

func (ph *PlayerHandler) dispatch(ctx context.Context, view *lesson.View, msg *ClientMessage) (ServerMessage, error) {
	reply := ServerMessage{Type: MessageAck, Ack: msg.Type}
	switch msg.Type {
	case MessageSignal:
		if msg.Signal == nil {
			return reply, fmt.Errorf("%w: signal message without signal", ErrBadMessage)
		}
		sig, err := msg.Signal.Signal()
		if err != nil {
			return reply, err
		}
		if _, err := view.Record(sig); err != nil {
			return reply, err
		}
	case MessageRespond:
		anchor, err := view.Respond(msg.Choice)
		if err != nil {
			return reply, err
		}
		reply.Anchor = &anchor
	case MessageRefresh:
		prompt, err := view.Refresh(ctx)
		if err != nil {
			return reply, err
		}
		reply.Prompt = &prompt
	case MessageFlush:
		view.Flush()
	case MessageQuiz:
		result, err := view.SubmitQuiz(ctx, msg.Answers, msg.ElapsedSeconds)
		if err != nil {
			return reply, err
		}
		reply.Quiz = result
	default:
		return reply, fmt.Errorf("%w: unknown message type %q", ErrBadMessage, msg.Type)
	}
	current := view.Progress()
	reply.Progress = &current
	return reply, nil
}
