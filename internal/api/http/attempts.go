package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/certprep-core/internal/attempt"
	auth "github.com/mind-engage/certprep-core/internal/auth/middleware"
	"github.com/mind-engage/certprep-core/internal/exam"
)

// DeviceHeader may carry the fingerprint when the body does not.
const DeviceHeader = "X-Device-Fingerprint"

// POST /exams/{examID}/attempts  { "device_fingerprint": "..." }
func StartAttemptHandler(engine *attempt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID, ok := parseID(chi.URLParam(r, "examID"))
		if !ok {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: "bad exam id"})
			return
		}
		var req struct {
			DeviceFingerprint string `json:"device_fingerprint" validate:"max=512"`
		}
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.DeviceFingerprint) == "" {
			req.DeviceFingerprint = r.Header.Get(DeviceHeader)
		}

		a, err := engine.StartAttempt(r.Context(), attempt.StartInput{
			UserID:            auth.SubjectFromContext(r.Context()),
			ExamID:            examID,
			DeviceFingerprint: req.DeviceFingerprint,
			IPAddress:         clientIP(r),
			UserAgent:         r.UserAgent(),
		})
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, a)
	}
}

// GET /attempts?exam_id=...  (own history, newest first)
func ListAttemptsHandler(engine *attempt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var examID int64
		if s := strings.TrimSpace(r.URL.Query().Get("exam_id")); s != "" {
			id, ok := parseID(s)
			if !ok {
				respondJSON(w, http.StatusBadRequest, errorBody{Error: "bad exam_id"})
				return
			}
			examID = id
		}
		list, err := engine.List(r.Context(), auth.SubjectFromContext(r.Context()), examID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(engine *attempt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := engine.Get(r.Context(), chi.URLParam(r, "attemptID"), auth.SubjectFromContext(r.Context()))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}

// PUT /attempts/{attemptID}/answers/{questionID}
//
//	{ "selected_answer": {"kind":"scalar","option_id":11}, "is_marked_for_review": false, "time_spent_seconds": 40 }
func RecordAnswerHandler(engine *attempt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		questionID, ok := parseID(chi.URLParam(r, "questionID"))
		if !ok {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: "bad question id"})
			return
		}
		var req struct {
			SelectedAnswer    *exam.Selection `json:"selected_answer"`
			IsMarkedForReview bool            `json:"is_marked_for_review"`
			TimeSpentSeconds  *int            `json:"time_spent_seconds" validate:"omitempty,min=0"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		ans, err := engine.RecordAnswer(r.Context(), attempt.AnswerInput{
			AttemptID:         chi.URLParam(r, "attemptID"),
			UserID:            auth.SubjectFromContext(r.Context()),
			QuestionID:        questionID,
			Selected:          req.SelectedAnswer,
			IsMarkedForReview: req.IsMarkedForReview,
			TimeSpentSeconds:  req.TimeSpentSeconds,
		})
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, ans)
	}
}

// POST /attempts/{attemptID}/submit  (repeat calls answer 200 with the stored result)
func SubmitAttemptHandler(engine *attempt.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := engine.Submit(r.Context(), chi.URLParam(r, "attemptID"), auth.SubjectFromContext(r.Context()))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, a)
	}
}

// clientIP prefers what middleware.RealIP resolved into RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
