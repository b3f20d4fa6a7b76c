package progress

import "math"

// step outcome of applying one signal
type step struct {
	elapsed  float64 // seconds added to time spent
	scored   bool    // percentage carries a new reading
	percent  float64
	complete bool // completion condition reported by the variant
}

// strategy progress computation of one content variant
type strategy interface {
	accepts(kind SignalKind) bool
	// apply computes the step and moves the anchor of w, spent is the
	// engaged time before this signal
	apply(w *LessonProgress, spent, total float64, s Signal) step
	anchor(p *LessonProgress) Anchor
	continuous() bool
}

var strategies = map[ContentType]strategy{
	ContentVideo:   mediaStrategy{},
	ContentAudio:   mediaStrategy{},
	ContentText:    readingStrategy{},
	ContentReading: readingStrategy{},
	ContentPDF:     readingStrategy{},
	ContentQuiz:    quizStrategy{},
}

func ratio(spent, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(100, 100*spent/total)
}

type mediaStrategy struct{}

func (mediaStrategy) accepts(kind SignalKind) bool { return kind == KindWatchTime }

func (mediaStrategy) continuous() bool { return true }

func (mediaStrategy) apply(w *LessonProgress, spent, total float64, s Signal) step {
	sig := s.(WatchTime)
	w.LastPositionSeconds = sig.PositionSeconds
	pct := ratio(spent+sig.ElapsedSeconds, total)
	return step{elapsed: sig.ElapsedSeconds, scored: true, percent: pct}
}

func (mediaStrategy) anchor(p *LessonProgress) Anchor {
	return Anchor{Kind: AnchorTimestamp, PositionSeconds: p.LastPositionSeconds}
}

type readingStrategy struct{}

func (readingStrategy) accepts(kind SignalKind) bool { return kind == KindReadTime }

func (readingStrategy) continuous() bool { return true }

func (readingStrategy) apply(w *LessonProgress, spent, total float64, s Signal) step {
	sig := s.(ReadTime)
	w.LastScrollFraction = sig.ScrollFraction
	pct := ratio(spent+sig.ElapsedSeconds, total)
	return step{elapsed: sig.ElapsedSeconds, scored: true, percent: pct}
}

func (readingStrategy) anchor(p *LessonProgress) Anchor {
	return Anchor{Kind: AnchorScroll, ScrollFraction: p.LastScrollFraction}
}

// quizStrategy percentage and completion are tracked independently: a high
// score may still be a failed attempt under the quiz's own passing rule
type quizStrategy struct{}

func (quizStrategy) accepts(kind SignalKind) bool {
	return kind == KindQuizResult || kind == KindQuizPosition
}

func (quizStrategy) continuous() bool { return false }

func (quizStrategy) apply(w *LessonProgress, spent, total float64, s Signal) step {
	switch sig := s.(type) {
	case QuizResult:
		w.LastQuestionIndex = sig.QuestionIndex
		return step{elapsed: sig.ElapsedSeconds, scored: true, percent: sig.Score, complete: sig.Passed}
	case QuizPosition:
		w.LastQuestionIndex = sig.QuestionIndex
		return step{elapsed: sig.ElapsedSeconds}
	}
	return step{}
}

func (quizStrategy) anchor(p *LessonProgress) Anchor {
	return Anchor{Kind: AnchorQuestion, QuestionIndex: p.LastQuestionIndex}
}
