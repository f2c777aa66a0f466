package exam

import (
	"fmt"

	"github.com/mind-engage/certprep-core/internal/apperr"
)

type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultiChoice    QuestionType = "multi_choice"
	YesNoMatrix    QuestionType = "yes_no_matrix"
	HotspotMatrix  QuestionType = "hotspot_matrix"
	DragToSlot     QuestionType = "drag_to_slot"
	FillInCodeSlot QuestionType = "fill_in_code_slot"
)

func (t QuestionType) Valid() bool {
	switch t {
	case SingleChoice, MultiChoice, YesNoMatrix, HotspotMatrix, DragToSlot, FillInCodeSlot:
		return true
	default:
		return false
	}
}

// Grouped reports whether answers are given per option group (matrix and slot types).
func (t QuestionType) Grouped() bool {
	switch t {
	case YesNoMatrix, HotspotMatrix, DragToSlot, FillInCodeSlot:
		return true
	default:
		return false
	}
}

// Exam is read-only reference data owned by administration.
type Exam struct {
	ID                   int64  `json:"id"`
	Code                 string `json:"code"`
	Title                string `json:"title"`
	QuestionBankSize     int    `json:"question_bank_size"`
	TimeLimitMinutes     int    `json:"time_limit_minutes"`
	PassingScore         int    `json:"passing_score"`
	QuestionsPerMockTest int    `json:"questions_per_mock_test"`
}

// Validate rejects exams an attempt could not be taken against: a time
// limit must leave the attempt open, and QuestionsPerMockTest 0 means the
// whole bank.
func (e Exam) Validate() error {
	switch {
	case e.ID <= 0:
		return fmt.Errorf("exam id must be positive: %w", apperr.ErrInvalidInput)
	case e.TimeLimitMinutes <= 0:
		return fmt.Errorf("exam %d: time limit must be positive, got %d: %w", e.ID, e.TimeLimitMinutes, apperr.ErrInvalidInput)
	case e.QuestionsPerMockTest < 0:
		return fmt.Errorf("exam %d: questions per mock test must not be negative: %w", e.ID, apperr.ErrInvalidInput)
	case e.PassingScore < 0 || e.PassingScore > 100:
		return fmt.Errorf("exam %d: passing score %d out of 0..100: %w", e.ID, e.PassingScore, apperr.ErrInvalidInput)
	}
	return nil
}

type Option struct {
	ID        int64  `json:"id"`
	GroupID   *int64 `json:"group_id,omitempty"`
	Label     string `json:"label"`
	IsCorrect bool   `json:"is_correct"`
	Position  int    `json:"position"`
}

type Group struct {
	ID       int64  `json:"id"`
	Label    string `json:"label"`
	Position int    `json:"position"`
}

type Question struct {
	ID        int64        `json:"id"`
	ExamID    int64        `json:"exam_id"`
	Type      QuestionType `json:"type"`
	Position  int          `json:"position"`
	Published bool         `json:"published"`
	Options   []Option     `json:"options"`
	Groups    []Group      `json:"groups,omitempty"`
}

// Validate checks the correctness invariant: each group of a grouped type has
// exactly one correct option, ungrouped types have at least one.
func (q Question) Validate() error {
	if !q.Type.Valid() {
		return fmt.Errorf("question %d: unknown type %q: %w", q.ID, q.Type, apperr.ErrInvalidInput)
	}
	if !q.Type.Grouped() {
		correct := 0
		for _, o := range q.Options {
			if o.GroupID != nil {
				return fmt.Errorf("question %d: option %d has a group on ungrouped type: %w", q.ID, o.ID, apperr.ErrInvalidInput)
			}
			if o.IsCorrect {
				correct++
			}
		}
		if correct == 0 {
			return fmt.Errorf("question %d: no correct option: %w", q.ID, apperr.ErrInvalidInput)
		}
		return nil
	}
	if len(q.Groups) == 0 {
		return fmt.Errorf("question %d: grouped type without groups: %w", q.ID, apperr.ErrInvalidInput)
	}
	perGroup := make(map[int64]int, len(q.Groups))
	for _, g := range q.Groups {
		perGroup[g.ID] = 0
	}
	for _, o := range q.Options {
		if o.GroupID == nil {
			return fmt.Errorf("question %d: option %d has no group: %w", q.ID, o.ID, apperr.ErrInvalidInput)
		}
		n, ok := perGroup[*o.GroupID]
		if !ok {
			return fmt.Errorf("question %d: option %d references unknown group %d: %w", q.ID, o.ID, *o.GroupID, apperr.ErrInvalidInput)
		}
		if o.IsCorrect {
			perGroup[*o.GroupID] = n + 1
		}
	}
	for gid, n := range perGroup {
		if n != 1 {
			return fmt.Errorf("question %d: group %d has %d correct options: %w", q.ID, gid, n, apperr.ErrInvalidInput)
		}
	}
	return nil
}

// Option returns the option with the given id.
func (q Question) Option(id int64) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

func (q Question) hasGroup(id int64) bool {
	for _, g := range q.Groups {
		if g.ID == id {
			return true
		}
	}
	return false
}

// CorrectOptionIDs returns the ids of options flagged correct, in option order.
func (q Question) CorrectOptionIDs() []int64 {
	out := make([]int64, 0, 1)
	for _, o := range q.Options {
		if o.IsCorrect {
			out = append(out, o.ID)
		}
	}
	return out
}

// CorrectByGroup maps each group to its single correct option.
func (q Question) CorrectByGroup() map[int64]Option {
	out := make(map[int64]Option, len(q.Groups))
	for _, o := range q.Options {
		if o.IsCorrect && o.GroupID != nil {
			out[*o.GroupID] = o
		}
	}
	return out
}
