package progress

// DefaultPassingScore passing score of a quiz that does not define one
const DefaultPassingScore = 80.0

// QuizGrade graded quiz attempt
type QuizGrade struct {
	Correct      []bool  `json:"correct"`
	CorrectCount int     `json:"correct_count"`
	Score        float64 `json:"score"`
	PassingScore float64 `json:"passing_score"`
	Passed       bool    `json:"passed"`
}

// GradeQuiz grade per-question correctness. passingScore <= 0 means default.
func GradeQuiz(correct []bool, passingScore float64) QuizGrade {
	if passingScore <= 0 {
		passingScore = DefaultPassingScore
	}
	g := QuizGrade{Correct: correct, PassingScore: passingScore}
	if len(correct) == 0 {
		return g
	}
	for _, c := range correct {
		if c {
			g.CorrectCount++
		}
	}
	g.Score = 100 * float64(g.CorrectCount) / float64(len(correct))
	g.Passed = g.Score >= passingScore
	return g
}

// Signal result signal for a tracker, the anchor lands on the last question
func (g QuizGrade) Signal(elapsedSeconds float64) QuizResult {
	idx := len(g.Correct) - 1
	if idx < 0 {
		idx = 0
	}
	return QuizResult{
		Score:          g.Score,
		Passed:         g.Passed,
		QuestionIndex:  idx,
		ElapsedSeconds: elapsedSeconds,
	}
}
