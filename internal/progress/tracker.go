package progress

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Lesson what a tracker needs to know about the lesson being tracked
type Lesson struct {
	ID              string
	CourseID        string
	ContentType     ContentType
	DurationSeconds float64 // media duration, video/audio only
	WordCount       int     // text/reading/PDF only
}

// CompletionEvent emitted once when a lesson becomes completed
type CompletionEvent struct {
	LessonID    string
	CourseID    string
	Percentage  float64
	CompletedAt int64
}

// Tracker accumulates engagement signals for one active lesson
type Tracker struct {
	mu       sync.Mutex
	lesson   Lesson
	strategy strategy
	total    float64
	working  LessonProgress
	spent    float64 // engaged seconds, fractional part kept across signals
	version  uint64
	fired    bool
	now      func() time.Time
}

// TrackerOption tracker option
type TrackerOption func(t *Tracker)

// WithClock replace the wall clock used for LastAccessedAt
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker create a tracker seeded with prior progress, prior may be nil
func NewTracker(lesson Lesson, prior *LessonProgress, options ...TrackerOption) (*Tracker, error) {
	s, ok := strategies[lesson.ContentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContentType, lesson.ContentType)
	}

	var total float64
	if s.continuous() {
		switch lesson.ContentType {
		case ContentVideo, ContentAudio:
			total = lesson.DurationSeconds
		default:
			total = EstimatedReadingSeconds(lesson.WordCount)
		}
		if math.IsNaN(total) || total <= 0 {
			return nil, fmt.Errorf("%w: lesson %s", ErrNoMeasure, lesson.ID)
		}
	}

	t := &Tracker{
		lesson:   lesson,
		strategy: s,
		total:    total,
		now:      time.Now,
		working: LessonProgress{
			LessonID:    lesson.ID,
			CourseID:    lesson.CourseID,
			ContentType: lesson.ContentType,
		},
	}
	for _, option := range options {
		option(t)
	}
	if prior != nil {
		t.working = *prior
		t.working.LessonID = lesson.ID
		t.working.ContentType = lesson.ContentType
		if t.working.CourseID == "" {
			t.working.CourseID = lesson.CourseID
		}
		t.spent = float64(prior.TimeSpentSeconds)
	}
	return t, nil
}

// TotalSeconds measure the percentage is computed against, zero for quizzes
func (t *Tracker) TotalSeconds() float64 {
	return t.total
}

// RecordSignal apply one signal, returns a completion event on the first
// transition to completed
func (t *Tracker) RecordSignal(s Signal) (*CompletionEvent, error) {
	if s == nil {
		return nil, invalid("", "", "signal is nil")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	if !t.strategy.accepts(s.Kind()) {
		return nil, invalid(s.Kind(), "", fmt.Sprintf("not accepted by %s lesson", t.lesson.ContentType))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.strategy.apply(&t.working, t.spent, t.total, s)
	t.spent += st.elapsed
	t.working.TimeSpentSeconds = int(t.spent)
	if st.scored {
		t.working.Percentage = math.Max(t.working.Percentage, st.percent)
	}
	complete := st.complete
	if t.strategy.continuous() {
		complete = ReachedThreshold(t.working.Percentage)
		if complete && t.working.Percentage < CompletionThreshold {
			t.working.Percentage = CompletionThreshold
		}
	}
	now := t.now().UnixNano() / int64(time.Millisecond)
	t.working.LastAccessedAt = now
	t.version++

	if !complete || t.working.Completed {
		return nil, nil
	}
	t.working.Completed = true
	if t.fired {
		return nil, nil
	}
	t.fired = true
	return &CompletionEvent{
		LessonID:    t.working.LessonID,
		CourseID:    t.working.CourseID,
		Percentage:  t.working.Percentage,
		CompletedAt: now,
	}, nil
}

// Flush snapshot the working copy
func (t *Tracker) Flush() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Progress: t.working, Version: t.version}
}

// Progress copy of the working record
func (t *Tracker) Progress() LessonProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.working
}

// Version current mutation counter
func (t *Tracker) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Reconcile advance the working copy to a remote record without ever
// regressing, returns whether anything changed. No completion event is
// produced for a completion that happened elsewhere.
func (t *Tracker) Reconcile(remote *LessonProgress) bool {
	if remote == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	if remote.Percentage > t.working.Percentage {
		t.working.Percentage = math.Min(100, remote.Percentage)
		changed = true
	}
	if remote.Completed && !t.working.Completed {
		t.working.Completed = true
		changed = true
	}
	if float64(remote.TimeSpentSeconds) > t.spent {
		t.spent = float64(remote.TimeSpentSeconds)
		t.working.TimeSpentSeconds = remote.TimeSpentSeconds
		changed = true
	}
	// progress made elsewhere crossed the threshold, complete silently
	if t.strategy.continuous() && !t.working.Completed && ReachedThreshold(t.working.Percentage) {
		t.working.Completed = true
		changed = true
	}
	if changed {
		t.version++
	}
	return changed
}
