package navigator

import (
	"errors"
	"sort"
	"sync"

	"github.com/pot-code/elira-progress/internal/progress"
)

// ErrLessonNotFound lesson is not part of the course tree
var ErrLessonNotFound = errors.New("lesson not found in course")

// Lesson node of a course tree
type Lesson struct {
	ID              string               `json:"id"`
	ModuleID        string               `json:"module_id"`
	Title           string               `json:"title"`
	Order           int                  `json:"order"`
	ContentType     progress.ContentType `json:"content_type"`
	DurationSeconds float64              `json:"duration_seconds,omitempty"`
	WordCount       int                  `json:"word_count,omitempty"`
	PassingScore    float64              `json:"passing_score,omitempty"` // quiz only
	Completed       bool                 `json:"completed"`
	State           LessonState          `json:"state"`
}

// Module ordered group of lessons
type Module struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Order   int      `json:"order"`
	Lessons []Lesson `json:"lessons"`
}

// CourseTree course as fetched from the backend
type CourseTree struct {
	CourseID     string   `json:"course_id"`
	Title        string   `json:"title"`
	AutoplayNext bool     `json:"autoplay_next"`
	Modules      []Module `json:"modules"`
}

// Rollup completion fraction of a group of lessons
type Rollup struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
}

func rollup(completed, total int) Rollup {
	r := Rollup{Completed: completed, Total: total}
	if total > 0 {
		r.Fraction = float64(completed) / float64(total)
	}
	return r
}

// Flatten order modules then lessons by their order field and concatenate.
// Equal orders keep their fetched relative position.
func Flatten(tree CourseTree) []Lesson {
	modules := make([]Module, len(tree.Modules))
	copy(modules, tree.Modules)
	sort.SliceStable(modules, func(i, j int) bool {
		return modules[i].Order < modules[j].Order
	})

	var out []Lesson
	for _, m := range modules {
		lessons := make([]Lesson, len(m.Lessons))
		copy(lessons, m.Lessons)
		sort.SliceStable(lessons, func(i, j int) bool {
			return lessons[i].Order < lessons[j].Order
		})
		for _, l := range lessons {
			if l.ModuleID == "" {
				l.ModuleID = m.ID
			}
			out = append(out, l)
		}
	}
	return out
}

// Navigator ordered view over one course tree
type Navigator struct {
	mu       sync.RWMutex
	tree     CourseTree
	moduleOf map[string]string
	order    []string // module ids, sorted
	flat     []Lesson
	index    map[string]int
}

// New build a navigator over tree
func New(tree CourseTree) *Navigator {
	n := &Navigator{tree: tree, index: make(map[string]int), moduleOf: make(map[string]string)}
	n.flat = Flatten(tree)
	for i, l := range n.flat {
		switch {
		case l.Completed:
			n.flat[i].State = StateCompleted
		case l.State == "":
			n.flat[i].State = StateNotStarted
		}
		n.index[l.ID] = i
		n.moduleOf[l.ID] = l.ModuleID
	}
	seen := make(map[string]bool)
	for _, l := range n.flat {
		if !seen[l.ModuleID] {
			seen[l.ModuleID] = true
			n.order = append(n.order, l.ModuleID)
		}
	}
	return n
}

// CourseID course of the tree
func (n *Navigator) CourseID() string {
	return n.tree.CourseID
}

// AutoplayNext course level autoplay flag
func (n *Navigator) AutoplayNext() bool {
	return n.tree.AutoplayNext
}

// Lessons flattened lessons, a copy
func (n *Navigator) Lessons() []Lesson {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Lesson, len(n.flat))
	copy(out, n.flat)
	return out
}

// Lesson lookup by id
func (n *Navigator) Lesson(id string) (Lesson, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	i, ok := n.index[id]
	if !ok {
		return Lesson{}, ErrLessonNotFound
	}
	return n.flat[i], nil
}

// Previous lesson before id, ok is false at the first lesson
func (n *Navigator) Previous(id string) (Lesson, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	i, ok := n.index[id]
	if !ok || i == 0 {
		return Lesson{}, false
	}
	return n.flat[i-1], true
}

// Next lesson after id, ok is false at the last lesson
func (n *Navigator) Next(id string) (Lesson, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	i, ok := n.index[id]
	if !ok || i == len(n.flat)-1 {
		return Lesson{}, false
	}
	return n.flat[i+1], true
}

// MarkCompleted flag lesson id as completed, roll-ups computed afterwards reflect it
func (n *Navigator) MarkCompleted(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	i, ok := n.index[id]
	if !ok {
		return ErrLessonNotFound
	}
	n.flat[i].Completed = true
	n.flat[i].State = StateCompleted
	return nil
}

// Observe update the state of lesson id from its working record, a completed
// lesson stays completed
func (n *Navigator) Observe(id string, p progress.LessonProgress) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	i, ok := n.index[id]
	if !ok {
		return ErrLessonNotFound
	}
	if n.flat[i].Completed {
		return nil
	}
	n.flat[i].State = State(&p)
	n.flat[i].Completed = p.Completed
	return nil
}

// ModuleRollup completion of one module
func (n *Navigator) ModuleRollup(moduleID string) Rollup {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var done, total int
	for _, l := range n.flat {
		if l.ModuleID != moduleID {
			continue
		}
		total++
		if l.Completed {
			done++
		}
	}
	return rollup(done, total)
}

// ModuleRollups completion of every module in order
func (n *Navigator) ModuleRollups() map[string]Rollup {
	out := make(map[string]Rollup, len(n.order))
	for _, id := range n.order {
		out[id] = n.ModuleRollup(id)
	}
	return out
}

// CourseRollup completion over all lessons
func (n *Navigator) CourseRollup() Rollup {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var done int
	for _, l := range n.flat {
		if l.Completed {
			done++
		}
	}
	return rollup(done, len(n.flat))
}

// Outline ordered lessons plus roll-ups
type Outline struct {
	CourseID string            `json:"course_id"`
	Title    string            `json:"title"`
	Lessons  []Lesson          `json:"lessons"`
	Modules  map[string]Rollup `json:"modules"`
	Course   Rollup            `json:"course"`
}

// Outline snapshot of lessons and roll-ups
func (n *Navigator) Outline() Outline {
	return Outline{
		CourseID: n.tree.CourseID,
		Title:    n.tree.Title,
		Lessons:  n.Lessons(),
		Modules:  n.ModuleRollups(),
		Course:   n.CourseRollup(),
	}
}
