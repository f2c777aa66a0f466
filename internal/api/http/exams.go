package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/certprep-core/internal/auth/middleware"
	"github.com/mind-engage/certprep-core/internal/exam"
	"github.com/mind-engage/certprep-core/internal/license"
	"github.com/mind-engage/certprep-core/internal/paywall"
)

// questionView never carries correctness flags. Options are present only
// when the paywall lets the viewer see the question.
type questionView struct {
	ID       int64             `json:"id"`
	Position int               `json:"position"`
	Type     exam.QuestionType `json:"type,omitempty"`
	Locked   bool              `json:"locked"`
	Options  []optionView      `json:"options,omitempty"`
	Groups   []exam.Group      `json:"groups,omitempty"`
}

type optionView struct {
	ID      int64  `json:"id"`
	GroupID *int64 `json:"group_id,omitempty"`
	Label   string `json:"label"`
}

// GET /exams/{examID}  exam metadata and the bank in order, gated by the paywall
func GetExamHandler(bank exam.Bank, guard *license.Guard, gate paywall.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID, ok := parseID(chi.URLParam(r, "examID"))
		if !ok {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: "bad exam id"})
			return
		}
		ex, err := bank.GetExam(r.Context(), examID)
		if err != nil {
			respondError(w, err)
			return
		}
		active, err := guard.ActiveFor(r.Context(), auth.SubjectFromContext(r.Context()), examID)
		if err != nil {
			respondError(w, err)
			return
		}
		ids, err := bank.PublishedQuestionIDs(r.Context(), examID)
		if err != nil {
			respondError(w, err)
			return
		}

		through := gate.VisibleThrough(active, len(ids))
		visible, err := bank.Questions(r.Context(), ids[:through])
		if err != nil {
			respondError(w, err)
			return
		}
		out := make([]questionView, len(ids))
		for i, id := range ids {
			out[i] = questionView{ID: id, Position: i + 1, Locked: !gate.Visible(active, i+1)}
			if i < len(visible) && !out[i].Locked {
				q := visible[i]
				out[i].Type = q.Type
				out[i].Groups = q.Groups
				for _, o := range q.Options {
					out[i].Options = append(out[i].Options, optionView{ID: o.ID, GroupID: o.GroupID, Label: o.Label})
				}
			}
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"exam":               ex,
			"entitlement_active": active,
			"free_limit":         gate.FreeLimit,
			"questions":          out,
		})
	}
}

// GET /exams/{examID}/paywall?position=N
func PaywallHandler(guard *license.Guard, gate paywall.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID, ok := parseID(chi.URLParam(r, "examID"))
		if !ok {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: "bad exam id"})
			return
		}
		pos, err := strconv.Atoi(r.URL.Query().Get("position"))
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: "position required"})
			return
		}
		active, err := guard.ActiveFor(r.Context(), auth.SubjectFromContext(r.Context()), examID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"visible":            gate.Visible(active, pos),
			"entitlement_active": active,
			"free_limit":         gate.FreeLimit,
			"position":           pos,
		})
	}
}
