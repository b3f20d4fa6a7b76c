package lesson

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pot-code/elira-progress/internal/infrastructure/logging"
	"github.com/pot-code/elira-progress/internal/navigator"
	"github.com/pot-code/elira-progress/internal/progress"
	"github.com/pot-code/elira-progress/internal/remotesync"
	"github.com/pot-code/elira-progress/internal/resume"
	"go.uber.org/zap"
)

// PlayerOption options for player sessions
type PlayerOption struct {
	FlushInterval time.Duration // periodic flush of a dirty tracker
	FlushGrace    time.Duration // final flush budget on Close
	AutoplayDelay time.Duration
	// submit retry
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// EventKind kind of a view notification
type EventKind string

// view notifications
const (
	EventCompleted  EventKind = "completed"
	EventAdvance    EventKind = "advance"
	EventReconciled EventKind = "reconciled"
)

// Event notification pushed to the view's consumer
type Event struct {
	Kind       EventKind                 `json:"kind"`
	LessonID   string                    `json:"lesson_id"`
	Completion *progress.CompletionEvent `json:"completion,omitempty"`
	Next       *navigator.Lesson         `json:"next,omitempty"`
	Progress   *progress.LessonProgress  `json:"progress,omitempty"`
}

const eventBuffer = 16

// Player opens lesson views against a remote service
type Player struct {
	svc    remotesync.Service
	beacon remotesync.Beacon
	logger *zap.Logger
	option PlayerOption
}

// NewPlayer create a player, beacon may be nil
func NewPlayer(svc remotesync.Service, beacon remotesync.Beacon, logger *zap.Logger, options ...*PlayerOption) *Player {
	option := PlayerOption{
		FlushInterval: 10 * time.Second,
		FlushGrace:    3 * time.Second,
		AutoplayDelay: navigator.DefaultAdvanceDelay,
	}
	if len(options) > 0 {
		custom := options[0]
		if custom.FlushInterval > 0 {
			option.FlushInterval = custom.FlushInterval
		}
		if custom.FlushGrace > 0 {
			option.FlushGrace = custom.FlushGrace
		}
		if custom.AutoplayDelay > 0 {
			option.AutoplayDelay = custom.AutoplayDelay
		}
		option.MaxAttempts = custom.MaxAttempts
		option.InitialInterval = custom.InitialInterval
		option.MaxInterval = custom.MaxInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Player{svc: svc, beacon: beacon, logger: logger, option: option}
}

// View one active lesson of one user
type View struct {
	userID   string
	lesson   navigator.Lesson
	logger   *zap.Logger
	svc      remotesync.Service
	nav      *navigator.Navigator
	tracker  *progress.Tracker
	prompt   *resume.Session
	syncer   *remotesync.Syncer
	advancer *navigator.Advancer

	mu     sync.Mutex
	events chan Event
	closed bool

	stop      chan struct{}
	flushDone chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open fetch the course and prior progress of lessonID and start its session
func (p *Player) Open(ctx context.Context, userID, courseID, lessonID string) (*View, error) {
	logger := p.logger.With(logging.LessonFields(userID, lessonID)...)

	tree, err := p.svc.FetchCourseTree(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	nav := navigator.New(*tree)
	l, err := nav.Lesson(lessonID)
	if err != nil {
		return nil, fmt.Errorf("%w: lesson %s in course %s", remotesync.ErrNotFound, lessonID, courseID)
	}

	p.replayBeacon(ctx, logger, userID, lessonID)

	prior, err := p.svc.FetchLessonProgress(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	tracker, err := progress.NewTracker(progress.Lesson{
		ID:              l.ID,
		CourseID:        courseID,
		ContentType:     l.ContentType,
		DurationSeconds: l.DurationSeconds,
		WordCount:       l.WordCount,
	}, prior)
	if err != nil {
		return nil, err
	}

	if prior != nil {
		nav.Observe(l.ID, *prior)
	}

	v := &View{
		userID:    userID,
		lesson:    l,
		logger:    logger,
		svc:       p.svc,
		nav:       nav,
		tracker:   tracker,
		prompt:    resume.NewSession(prior, l.ContentType),
		advancer:  navigator.NewAdvancer(nav, p.option.AutoplayDelay),
		events:    make(chan Event, eventBuffer),
		stop:      make(chan struct{}),
		flushDone: make(chan struct{}),
	}
	v.syncer = remotesync.NewSyncer(p.svc, userID, p.beacon, logger, &remotesync.SyncOption{
		MaxAttempts:     p.option.MaxAttempts,
		InitialInterval: p.option.InitialInterval,
		MaxInterval:     p.option.MaxInterval,
		Grace:           p.option.FlushGrace,
		OnPersisted:     v.onPersisted,
	})
	v.syncer.Start()
	go v.flushRoutine(p.option.FlushInterval)

	logger.Debug("lesson view opened",
		zap.String("lesson.content_type", string(l.ContentType)),
		zap.Bool("resume.prompt", v.prompt.Prompt().ShouldShow))
	return v, nil
}

// replayBeacon submit a snapshot an earlier session left behind, a transient
// failure puts it back
func (p *Player) replayBeacon(ctx context.Context, logger *zap.Logger, userID, lessonID string) {
	if p.beacon == nil {
		return
	}
	snap, err := p.beacon.Take(userID, lessonID)
	if err != nil {
		logger.Warn("failed to read progress beacon", zap.Error(err))
		return
	}
	if snap == nil {
		return
	}
	if _, err := p.svc.SubmitProgress(ctx, userID, lessonID, snap.Progress); err != nil {
		if remotesync.IsRetryable(err) {
			if err := p.beacon.Save(userID, *snap); err != nil {
				logger.Error("failed to restore progress beacon", zap.Error(err))
			}
			return
		}
		logger.Warn("dropped progress beacon", zap.Error(err))
		return
	}
	logger.Info("progress beacon replayed", zap.Float64("progress.percentage", snap.Progress.Percentage))
}

func (v *View) flushRoutine(interval time.Duration) {
	defer close(v.flushDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-v.stop:
			return
		case <-ticker.C:
			v.push()
		}
	}
}

// push hand the current snapshot to the syncer if anything changed since the
// session began
func (v *View) push() bool {
	snap := v.tracker.Flush()
	if snap.Version == 0 {
		return false
	}
	return v.syncer.Push(snap)
}

func (v *View) onPersisted(lessonID string, persisted *progress.LessonProgress) {
	if lessonID != v.lesson.ID {
		return
	}
	v.reconcile(persisted)
}

func (v *View) reconcile(remote *progress.LessonProgress) bool {
	if !v.tracker.Reconcile(remote) {
		return false
	}
	current := v.tracker.Progress()
	v.nav.Observe(v.lesson.ID, current)
	v.emit(Event{Kind: EventReconciled, LessonID: v.lesson.ID, Progress: &current})
	return true
}

func (v *View) emit(e Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	select {
	case v.events <- e:
	default:
		v.logger.Warn("view event dropped", zap.String("event.kind", string(e.Kind)))
	}
}

// Lesson lesson being viewed
func (v *View) Lesson() navigator.Lesson {
	return v.lesson
}

// Previous lesson before this one in course order
func (v *View) Previous() (navigator.Lesson, bool) {
	return v.nav.Previous(v.lesson.ID)
}

// Next lesson after this one in course order
func (v *View) Next() (navigator.Lesson, bool) {
	return v.nav.Next(v.lesson.ID)
}

// Progress working progress record
func (v *View) Progress() progress.LessonProgress {
	return v.tracker.Progress()
}

// Record apply an engagement signal. Invalid signals are logged and dropped,
// the returned error only informs the caller.
func (v *View) Record(s progress.Signal) (*progress.CompletionEvent, error) {
	ev, err := v.tracker.RecordSignal(s)
	if err != nil {
		v.logger.Debug("signal dropped", zap.Error(err))
		return nil, err
	}
	v.nav.Observe(v.lesson.ID, v.tracker.Progress())
	if ev == nil {
		return nil, nil
	}

	v.nav.MarkCompleted(v.lesson.ID)
	v.emit(Event{Kind: EventCompleted, LessonID: v.lesson.ID, Completion: ev})
	v.push()
	v.advancer.Arm(v.lesson.ID, func(next navigator.Lesson) {
		v.emit(Event{Kind: EventAdvance, LessonID: v.lesson.ID, Next: &next})
	})
	return ev, nil
}

// ErrNotQuiz quiz answers submitted to another content type
var ErrNotQuiz = errors.New("lesson is not a quiz")

// SubmitQuiz grade per-question answers remotely and record the result
func (v *View) SubmitQuiz(ctx context.Context, answers []bool, elapsedSeconds float64) (*remotesync.QuizResult, error) {
	if v.lesson.ContentType != progress.ContentQuiz {
		return nil, ErrNotQuiz
	}
	result, err := v.svc.SubmitQuizResult(ctx, v.userID, v.lesson.ID, remotesync.QuizResult{
		LessonID: v.lesson.ID,
		Answers:  answers,
	})
	if err != nil {
		return nil, err
	}
	idx := len(answers) - 1
	if idx < 0 {
		idx = 0
	}
	if _, err := v.Record(progress.QuizResult{
		Score:          result.Score,
		Passed:         result.Passed,
		QuestionIndex:  idx,
		ElapsedSeconds: elapsedSeconds,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Prompt resume prompt of this view
func (v *View) Prompt() resume.Prompt {
	return v.prompt.Prompt()
}

// Respond answer the resume prompt, returns the anchor to seek to
func (v *View) Respond(choice string) (progress.Anchor, error) {
	c, err := resume.ParseChoice(choice)
	if err != nil {
		return progress.Anchor{}, err
	}
	return v.prompt.Respond(c)
}

// Refresh pull the remote record, reconcile with it and re-evaluate the prompt
func (v *View) Refresh(ctx context.Context) (resume.Prompt, error) {
	remote, err := v.svc.FetchLessonProgress(ctx, v.userID, v.lesson.ID)
	if err != nil {
		return v.prompt.Prompt(), err
	}
	v.reconcile(remote)
	return v.prompt.Reevaluate(remote), nil
}

// Flush queue the current snapshot for sync
func (v *View) Flush() progress.Snapshot {
	v.push()
	return v.tracker.Flush()
}

// Outline flattened lessons and roll-ups
func (v *View) Outline() navigator.Outline {
	return v.nav.Outline()
}

// Events completion, advance and reconcile notifications, closed by Close
func (v *View) Events() <-chan Event {
	return v.events
}

// Close stop the session and run the final flush
func (v *View) Close(ctx context.Context) error {
	v.closeOnce.Do(func() {
		close(v.stop)
		<-v.flushDone
		v.advancer.Cancel()

		var final []progress.Snapshot
		if snap := v.tracker.Flush(); snap.Version > 0 {
			final = append(final, snap)
		}
		v.closeErr = v.syncer.Close(ctx, final...)

		v.mu.Lock()
		v.closed = true
		close(v.events)
		v.mu.Unlock()
		v.logger.Debug("lesson view closed", zap.Error(v.closeErr))
	})
	return v.closeErr
}
