package grading

import (
	"math"

	"github.com/mind-engage/certprep-core/internal/exam"
)

// Answer is the recorded selection for one question.
type Answer struct {
	QuestionID int64
	Selection  *exam.Selection
}

// Result is the outcome of scoring a finalized answer set.
type Result struct {
	CorrectAnswers int
	PerQuestion    map[int64]bool
}

// Strategy decides correctness of one question's selection.
type Strategy interface {
	Correct(q exam.Question, s *exam.Selection) bool
}

// Scorer routes by question type to the correct Strategy. It holds no state
// beyond the routing table, so Score is a pure function of its inputs.
type Scorer struct {
	strategies map[exam.QuestionType]Strategy
}

func NewScorer() *Scorer {
	return &Scorer{
		strategies: map[exam.QuestionType]Strategy{
			exam.SingleChoice:   choiceStrategy{},
			exam.MultiChoice:    choiceStrategy{},
			exam.YesNoMatrix:    groupStrategy{},
			exam.HotspotMatrix:  groupStrategy{},
			exam.DragToSlot:     groupStrategy{},
			exam.FillInCodeSlot: groupStrategy{allowText: true},
		},
	}
}

// Score marks every question in questions. Unanswered questions and
// questions of an unknown type are incorrect; answers to questions outside
// the list are ignored.
func (sc *Scorer) Score(questions []exam.Question, answers []Answer) Result {
	byQ := make(map[int64]*exam.Selection, len(answers))
	for _, a := range answers {
		byQ[a.QuestionID] = a.Selection
	}
	res := Result{PerQuestion: make(map[int64]bool, len(questions))}
	for _, q := range questions {
		ok := false
		if sel := byQ[q.ID]; sel != nil {
			if st, found := sc.strategies[q.Type]; found {
				ok = st.Correct(q, sel)
			}
		}
		res.PerQuestion[q.ID] = ok
		if ok {
			res.CorrectAnswers++
		}
	}
	return res
}

// Percent is round(100 * correct / total), 0 for an empty attempt.
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}

// --- Strategies ---

// choiceStrategy: the selected option set must equal the correct set exactly.
type choiceStrategy struct{}

func (choiceStrategy) Correct(q exam.Question, s *exam.Selection) bool {
	var picked []int64
	switch s.Kind {
	case exam.KindScalar:
		picked = []int64{s.OptionID}
	case exam.KindMulti:
		picked = s.OptionIDs
	default:
		return false
	}
	return setEqual(toSet(picked), toSet(q.CorrectOptionIDs()))
}

// groupStrategy: all-or-nothing over every group of the question.
type groupStrategy struct{ allowText bool }

func (g groupStrategy) Correct(q exam.Question, s *exam.Selection) bool {
	if s.Kind != exam.KindGroups {
		return false
	}
	correct := q.CorrectByGroup()
	for _, grp := range q.Groups {
		want, ok := correct[grp.ID]
		if !ok {
			return false
		}
		got, answered := s.Groups[grp.ID]
		if !answered {
			return false
		}
		if got.Text != "" {
			if !g.allowText || !sameText(got.Text, want.Label) {
				return false
			}
			continue
		}
		if got.OptionID != want.ID {
			return false
		}
	}
	return true
}

// helpers

func toSet(arr []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(arr))
	for _, v := range arr {
		m[v] = struct{}{}
	}
	return m
}

func setEqual(a, b map[int64]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
