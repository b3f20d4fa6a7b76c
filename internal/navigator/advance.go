package navigator

import (
	"sync"
	"time"
)

// DefaultAdvanceDelay delay between a completion and moving to the next lesson
const DefaultAdvanceDelay = 2 * time.Second

// Advancer schedules auto-advance after a completion
type Advancer struct {
	mu      sync.Mutex
	nav     *Navigator
	delay   time.Duration
	timer   *time.Timer
	armedOn string
	closed  bool
}

// NewAdvancer create an advancer, delay <= 0 uses DefaultAdvanceDelay
func NewAdvancer(nav *Navigator, delay time.Duration) *Advancer {
	if delay <= 0 {
		delay = DefaultAdvanceDelay
	}
	return &Advancer{nav: nav, delay: delay}
}

// Arm schedule fn with the next lesson after completedID. Only call it right
// after a completion event fired. Returns false when autoplay is off, there
// is no next lesson, or the advancer was cancelled.
func (a *Advancer) Arm(completedID string, fn func(next Lesson)) bool {
	if !a.nav.AutoplayNext() {
		return false
	}
	next, ok := a.nav.Next(completedID)
	if !ok {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.armedOn == completedID {
		return false
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.armedOn = completedID
	a.timer = time.AfterFunc(a.delay, func() {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return
		}
		a.timer = nil
		a.mu.Unlock()
		fn(next)
	})
	return true
}

// Pending whether an advance is scheduled
func (a *Advancer) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// Cancel stop any scheduled advance, Arm is a no-op afterwards
func (a *Advancer) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
