package license

import (
	"time"

	"github.com/mind-engage/certprep-core/internal/apperr"
)

type Status string

const (
	StatusActive Status = "active"
	StatusLocked Status = "locked"
)

type Action string

const (
	ActionBound    Action = "bound"
	ActionGranted  Action = "granted"
	ActionLocked   Action = "locked"
	ActionUnlocked Action = "unlocked"
	ActionDenied   Action = "denied"
)

// Reason explains a denied access. The text is shown to users, so locked,
// expired and never-purchased stay distinguishable.
type Reason string

const (
	ReasonLocked       Reason = "account locked"
	ReasonExpired      Reason = "entitlement expired"
	ReasonMultiDevice  Reason = "multi-device access detected"
	ReasonNotPurchased Reason = "no entitlement for exam"
	ReasonNoDevice     Reason = "device fingerprint required"
)

// Entitlement is a purchased license for one (user, exam) pair, bound to at
// most one device. Rows are never deleted.
type Entitlement struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	ExamID            int64      `json:"exam_id"`
	DeviceFingerprint *string    `json:"device_fingerprint"`
	Status            Status     `json:"status"`
	LockReason        *string    `json:"lock_reason"`
	LockedAt          *time.Time `json:"locked_at,omitempty"`
	ExpiresAt         time.Time  `json:"expires_at"`
	CreatedAt         time.Time  `json:"created_at"`
	LastAccessedAt    *time.Time `json:"last_accessed_at,omitempty"`
}

// ActiveAt reports whether the entitlement gives access at now.
func (e Entitlement) ActiveAt(now time.Time) bool {
	return e.Status == StatusActive && !now.After(e.ExpiresAt)
}

// AccessEvent is an append-only audit record of one guard decision.
type AccessEvent struct {
	ID                string    `json:"id"`
	EntitlementID     string    `json:"entitlement_id"`
	Action            Action    `json:"action"`
	AdminIdentity     *string   `json:"admin_identity"`
	Reason            *string   `json:"reason"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	IPAddress         string    `json:"ip_address"`
	UserAgent         string    `json:"user_agent"`
	CreatedAt         time.Time `json:"created_at"`
}

// Device is what a client presents when asking for access.
type Device struct {
	Fingerprint string
	IPAddress   string
	UserAgent   string
}

// Decision is the guard's verdict for one access.
type Decision struct {
	Granted     bool        `json:"granted"`
	Action      Action      `json:"action,omitempty"`
	Reason      Reason      `json:"reason,omitempty"`
	Entitlement Entitlement `json:"entitlement"`
}

// Err returns nil for a granted decision and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Granted {
		return nil
	}
	return &DeniedError{Reason: d.Reason, EntitlementID: d.Entitlement.ID}
}

type DeniedError struct {
	Reason        Reason
	EntitlementID string
}

func (e *DeniedError) Error() string { return "access denied: " + string(e.Reason) }

func (e *DeniedError) Unwrap() error { return apperr.ErrAccessDenied }

// LockInfo reports auto-unlock eligibility. It is advisory: only Unlock
// changes state.
type LockInfo struct {
	EntitlementID  string     `json:"entitlement_id"`
	Locked         bool       `json:"locked"`
	LockReason     *string    `json:"lock_reason,omitempty"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	EligibleAt     *time.Time `json:"eligible_at,omitempty"`
	Eligible       bool       `json:"eligible"`
	HoursRemaining int        `json:"hours_remaining"`
}
