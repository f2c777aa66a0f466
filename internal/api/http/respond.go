package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/certprep-core/internal/apperr"
	"github.com/mind-engage/certprep-core/internal/license"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Error         string            `json:"error"`
	Reason        string            `json:"reason,omitempty"`
	EntitlementID string            `json:"entitlement_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError maps an error kind to its status. Access denials carry the
// reason so clients can tell a lock from an expiry from a missing purchase.
func respondError(w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	body := errorBody{Error: err.Error()}
	var denied *license.DeniedError
	if errors.As(err, &denied) {
		body.Error = "access denied"
		body.Reason = string(denied.Reason)
		body.EntitlementID = denied.EntitlementID
	}
	if status == http.StatusInternalServerError {
		log.Printf("[API] internal error: %v", err)
		body.Error = "internal error"
	}
	respondJSON(w, status, body)
}

// decodeJSON reads the body into dst and runs struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "bad json"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve))
			for _, fe := range ve {
				fields[fe.Field()] = fe.Tag()
			}
			respondJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fields})
			return false
		}
		respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}

func parseID(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil && v > 0
}
