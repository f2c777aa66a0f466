package exam

import (
	"fmt"

	"github.com/mind-engage/certprep-core/internal/apperr"
)

type SelectionKind string

const (
	KindScalar SelectionKind = "scalar"
	KindMulti  SelectionKind = "multi"
	KindGroups SelectionKind = "groups"
)

// Selection is the answer a user gives to one question. Exactly one of the
// payload fields is used, picked by Kind.
type Selection struct {
	Kind      SelectionKind         `json:"kind"`
	OptionID  int64                 `json:"option_id,omitempty"`
	OptionIDs []int64               `json:"option_ids,omitempty"`
	Groups    map[int64]GroupAnswer `json:"groups,omitempty"`
}

// GroupAnswer is either an option pick or, for code slots, free text.
type GroupAnswer struct {
	OptionID int64  `json:"option_id,omitempty"`
	Text     string `json:"text,omitempty"`
}

func Scalar(optionID int64) *Selection {
	return &Selection{Kind: KindScalar, OptionID: optionID}
}

func Multi(optionIDs ...int64) *Selection {
	return &Selection{Kind: KindMulti, OptionIDs: optionIDs}
}

func GroupMap(groups map[int64]GroupAnswer) *Selection {
	return &Selection{Kind: KindGroups, Groups: groups}
}

// ExpectedKind is the selection shape a question type accepts.
func (t QuestionType) ExpectedKind() SelectionKind {
	switch t {
	case SingleChoice:
		return KindScalar
	case MultiChoice:
		return KindMulti
	default:
		return KindGroups
	}
}

// CheckSelection validates the shape of s against q. A nil selection is an
// unanswered question and always passes.
func (q Question) CheckSelection(s *Selection) error {
	if s == nil {
		return nil
	}
	want := q.Type.ExpectedKind()
	if s.Kind != want {
		return shapeErr(q, "want %s selection, got %q", want, s.Kind)
	}
	switch s.Kind {
	case KindScalar:
		if len(s.OptionIDs) > 0 || len(s.Groups) > 0 {
			return shapeErr(q, "scalar selection carries set or group payload")
		}
		if _, ok := q.Option(s.OptionID); !ok {
			return shapeErr(q, "unknown option %d", s.OptionID)
		}
	case KindMulti:
		if s.OptionID != 0 || len(s.Groups) > 0 {
			return shapeErr(q, "set selection carries scalar or group payload")
		}
		seen := make(map[int64]struct{}, len(s.OptionIDs))
		for _, id := range s.OptionIDs {
			if _, ok := q.Option(id); !ok {
				return shapeErr(q, "unknown option %d", id)
			}
			if _, dup := seen[id]; dup {
				return shapeErr(q, "option %d selected twice", id)
			}
			seen[id] = struct{}{}
		}
	case KindGroups:
		if s.OptionID != 0 || len(s.OptionIDs) > 0 {
			return shapeErr(q, "group selection carries scalar or set payload")
		}
		for gid, ga := range s.Groups {
			if !q.hasGroup(gid) {
				return shapeErr(q, "unknown group %d", gid)
			}
			if ga.Text != "" {
				if q.Type != FillInCodeSlot {
					return shapeErr(q, "free text is only accepted for code slots")
				}
				if ga.OptionID != 0 {
					return shapeErr(q, "group %d has both text and option", gid)
				}
				continue
			}
			o, ok := q.Option(ga.OptionID)
			if !ok || o.GroupID == nil || *o.GroupID != gid {
				return shapeErr(q, "option %d does not belong to group %d", ga.OptionID, gid)
			}
		}
	}
	return nil
}

func shapeErr(q Question, format string, args ...any) error {
	return fmt.Errorf("question %d: %s: %w", q.ID, fmt.Sprintf(format, args...), apperr.ErrInvalidAnswerShape)
}
