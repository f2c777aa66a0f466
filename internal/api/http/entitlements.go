package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/certprep-core/internal/auth/middleware"
	"github.com/mind-engage/certprep-core/internal/license"
	syncx "github.com/mind-engage/certprep-core/internal/sync"
)

// POST /admin/entitlements  { "user_id": "...", "exam_id": 42, "expires_at": "2027-01-01T00:00:00Z" }
// Called by the purchase flow; the entitlement starts unbound.
func CreateEntitlementHandler(guard *license.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID    string    `json:"user_id" validate:"required,max=128"`
			ExamID    int64     `json:"exam_id" validate:"required,gt=0"`
			ExpiresAt time.Time `json:"expires_at" validate:"required"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		e, err := guard.Issue(r.Context(), req.UserID, req.ExamID, req.ExpiresAt)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, e)
	}
}

// POST /admin/entitlements/{entitlementID}/unlock  { "reason": "..." }
// The admin identity is the authenticated subject.
func UnlockEntitlementHandler(guard *license.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason" validate:"max=500"`
		}
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		e, err := guard.Unlock(r.Context(), chi.URLParam(r, "entitlementID"),
			auth.SubjectFromContext(r.Context()), req.Reason)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, e)
	}
}

// GET /admin/entitlements/{entitlementID}/lock-status
func LockStatusHandler(guard *license.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := guard.LockStatus(r.Context(), chi.URLParam(r, "entitlementID"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, info)
	}
}

// GET /admin/entitlements/{entitlementID}/events
func EntitlementEventsHandler(guard *license.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evs, err := guard.Events(r.Context(), chi.URLParam(r, "entitlementID"))
		if err != nil {
			respondError(w, err)
			return
		}
		if evs == nil {
			evs = []license.AccessEvent{}
		}
		respondJSON(w, http.StatusOK, evs)
	}
}

// GET /admin/events?after=0&limit=100  attempt lifecycle log in sequence order
func EventLogHandler(events syncx.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after := parseIntDefault(r.URL.Query().Get("after"), 0)
		limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
		list, err := events.Since(r.Context(), int64(after), limit)
		if err != nil {
			respondError(w, err)
			return
		}
		if list == nil {
			list = []syncx.Event{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}
