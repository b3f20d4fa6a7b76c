// Package resume decides whether a returning learner is offered to continue
// from where they left off.
package resume

import (
	"errors"
	"sync"

	"github.com/pot-code/elira-progress/internal/progress"
)

// MinPercentage prior progress at or below this value is not worth resuming
const MinPercentage = 2.0

// Prompt ephemeral resume prompt, never persisted
type Prompt struct {
	ShouldShow      bool            `json:"should_show"`
	Anchor          progress.Anchor `json:"anchor"`
	PriorPercentage float64         `json:"prior_percentage"`
}

// Decide compute the prompt for a lesson from its stored progress, prior may be nil
func Decide(prior *progress.LessonProgress, ct progress.ContentType) Prompt {
	if prior == nil {
		return Prompt{}
	}
	p := Prompt{PriorPercentage: prior.Percentage}
	if prior.Completed || prior.Percentage <= MinPercentage || prior.Percentage >= 100 {
		return p
	}
	p.ShouldShow = true
	p.Anchor = progress.AnchorFor(ct, prior)
	return p
}

// Choice user's answer to a prompt
type Choice string

// choices
const (
	ChoiceResume  Choice = "resume"
	ChoiceRestart Choice = "restart"
)

// ErrUnknownChoice choice is neither resume nor restart
var ErrUnknownChoice = errors.New("unknown resume choice")

// ParseChoice parse user input
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case ChoiceResume, ChoiceRestart:
		return Choice(s), nil
	}
	return "", ErrUnknownChoice
}

// Session prompt state of one lesson view. A new Session is built every time
// a view initialises.
type Session struct {
	mu       sync.Mutex
	ct       progress.ContentType
	prompt   Prompt
	answered bool
	restart  bool
}

// NewSession decide the prompt for a fresh view
func NewSession(prior *progress.LessonProgress, ct progress.ContentType) *Session {
	return &Session{ct: ct, prompt: Decide(prior, ct)}
}

// Prompt current prompt, hidden once answered
func (s *Session) Prompt() Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prompt
	if s.answered {
		p.ShouldShow = false
	}
	return p
}

// Respond answer the prompt. Resume returns the anchor to seek to, restart
// returns the zero anchor and leaves the stored percentage alone.
func (s *Session) Respond(c Choice) (progress.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c {
	case ChoiceResume:
		s.answered = true
		return s.prompt.Anchor, nil
	case ChoiceRestart:
		s.answered = true
		s.restart = true
		s.prompt.Anchor = progress.Anchor{}
		return progress.Anchor{}, nil
	}
	return progress.Anchor{}, ErrUnknownChoice
}

// Reevaluate recompute the prompt against fresher remote progress. An
// answered prompt stays hidden for the rest of the session.
func (s *Session) Reevaluate(prior *progress.LessonProgress) Prompt {
	s.mu.Lock()
	if !s.answered {
		s.prompt = Decide(prior, s.ct)
	}
	s.mu.Unlock()
	return s.Prompt()
}

// Restarted whether the user chose to start over
func (s *Session) Restarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restart
}
