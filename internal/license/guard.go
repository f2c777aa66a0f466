package license

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/certprep-core/internal/apperr"
)

// DefaultAutoUnlockWindow is how long a lock lasts before it becomes
// eligible for automatic unlock.
const DefaultAutoUnlockWindow = 48 * time.Hour

// errNoChange aborts an Apply without writing anything.
var errNoChange = errors.New("no change")

// Guard enforces the single-device policy. All entitlement mutations go
// through it.
type Guard struct {
	store  Store
	window time.Duration
	Now    func() time.Time
}

func NewGuard(store Store, autoUnlockWindow time.Duration) *Guard {
	if autoUnlockWindow <= 0 {
		autoUnlockWindow = DefaultAutoUnlockWindow
	}
	return &Guard{store: store, window: autoUnlockWindow, Now: time.Now}
}

func (g *Guard) now() time.Time {
	return g.Now().UTC().Truncate(time.Second)
}

// Issue records a new entitlement for the purchase collaborator. It always
// starts active and unbound.
func (g *Guard) Issue(ctx context.Context, userID string, examID int64, expiresAt time.Time) (Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || examID <= 0 || expiresAt.IsZero() {
		return Entitlement{}, fmt.Errorf("user, exam and expiry are required: %w", apperr.ErrInvalidInput)
	}
	e := Entitlement{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExamID:    examID,
		Status:    StatusActive,
		ExpiresAt: expiresAt.UTC().Truncate(time.Second),
		CreatedAt: g.now(),
	}
	return g.store.Create(ctx, e)
}

func (g *Guard) Get(ctx context.Context, id string) (Entitlement, error) {
	return g.store.Get(ctx, id)
}

// EvaluateFor resolves the governing entitlement of (user, exam) and
// evaluates it. A missing entitlement is a denied decision, not an error.
func (g *Guard) EvaluateFor(ctx context.Context, userID string, examID int64, dev Device) (Decision, error) {
	ent, err := g.store.ForUserExam(ctx, userID, examID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Decision{Reason: ReasonNotPurchased, Action: ActionDenied}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	return g.Evaluate(ctx, ent.ID, dev)
}

// Evaluate applies the access rules in order and appends exactly one access
// event. The whole read-decide-write runs under the store's exclusive access,
// so two devices racing on an unbound entitlement cannot both bind.
func (g *Guard) Evaluate(ctx context.Context, entitlementID string, dev Device) (Decision, error) {
	dev.Fingerprint = strings.TrimSpace(dev.Fingerprint)
	var dec Decision
	ent, err := g.store.Apply(ctx, entitlementID, func(cur Entitlement) (Entitlement, AccessEvent, error) {
		now := g.now()
		next := cur
		ev := g.event(cur.ID, dev, now)

		switch {
		case cur.Status == StatusLocked:
			dec = Decision{Action: ActionDenied, Reason: ReasonLocked}
		case now.After(cur.ExpiresAt):
			dec = Decision{Action: ActionDenied, Reason: ReasonExpired}
		case dev.Fingerprint == "":
			dec = Decision{Action: ActionDenied, Reason: ReasonNoDevice}
		case cur.DeviceFingerprint == nil:
			fp := dev.Fingerprint
			next.DeviceFingerprint = &fp
			next.LastAccessedAt = &now
			dec = Decision{Granted: true, Action: ActionBound}
		case *cur.DeviceFingerprint == dev.Fingerprint:
			next.LastAccessedAt = &now
			dec = Decision{Granted: true, Action: ActionGranted}
		default:
			reason := string(ReasonMultiDevice)
			next.Status = StatusLocked
			next.LockReason = &reason
			next.LockedAt = &now
			dec = Decision{Action: ActionLocked, Reason: ReasonMultiDevice}
			log.Printf("[AccessGuard] entitlement=%s locked: second device presented (ip=%s)", cur.ID, dev.IPAddress)
		}

		ev.Action = dec.Action
		if dec.Reason != "" {
			r := string(dec.Reason)
			ev.Reason = &r
		}
		return next, ev, nil
	})
	if err != nil {
		return Decision{}, err
	}
	dec.Entitlement = ent
	return dec, nil
}

// Unlock restores access and clears the bound device so the next access
// binds fresh. Who may call it is decided by the caller.
func (g *Guard) Unlock(ctx context.Context, entitlementID, adminIdentity, reason string) (Entitlement, error) {
	return g.unlock(ctx, entitlementID, adminIdentity, reason, nil)
}

func (g *Guard) unlock(ctx context.Context, entitlementID, adminIdentity, reason string, cond func(Entitlement, time.Time) bool) (Entitlement, error) {
	adminIdentity = strings.TrimSpace(adminIdentity)
	if adminIdentity == "" {
		return Entitlement{}, fmt.Errorf("admin identity is required: %w", apperr.ErrInvalidInput)
	}
	return g.store.Apply(ctx, entitlementID, func(cur Entitlement) (Entitlement, AccessEvent, error) {
		now := g.now()
		if cond != nil && !cond(cur, now) {
			return Entitlement{}, AccessEvent{}, errNoChange
		}
		next := cur
		next.Status = StatusActive
		next.DeviceFingerprint = nil
		next.LockReason = nil
		next.LockedAt = nil

		ev := AccessEvent{
			ID:            uuid.NewString(),
			EntitlementID: cur.ID,
			Action:        ActionUnlocked,
			AdminIdentity: &adminIdentity,
			CreatedAt:     now,
		}
		if cur.DeviceFingerprint != nil {
			ev.DeviceFingerprint = *cur.DeviceFingerprint
		}
		if r := strings.TrimSpace(reason); r != "" {
			ev.Reason = &r
		}
		log.Printf("[AccessGuard] entitlement=%s unlocked by %s", cur.ID, adminIdentity)
		return next, ev, nil
	})
}

// LockStatus computes auto-unlock eligibility for reporting.
func (g *Guard) LockStatus(ctx context.Context, entitlementID string) (LockInfo, error) {
	e, err := g.store.Get(ctx, entitlementID)
	if err != nil {
		return LockInfo{}, err
	}
	return g.lockInfo(e, g.now()), nil
}

func (g *Guard) lockInfo(e Entitlement, now time.Time) LockInfo {
	info := LockInfo{EntitlementID: e.ID}
	if e.Status != StatusLocked {
		return info
	}
	info.Locked = true
	info.LockReason = e.LockReason
	if e.LockedAt == nil {
		// locked without a timestamp: never auto-eligible
		return info
	}
	lockedAt := *e.LockedAt
	eligibleAt := lockedAt.Add(g.window)
	info.LockedAt = &lockedAt
	info.EligibleAt = &eligibleAt
	if !now.Before(eligibleAt) {
		info.Eligible = true
		return info
	}
	info.HoursRemaining = int(math.Ceil(eligibleAt.Sub(now).Hours()))
	return info
}

// ActiveFor reports whether the user holds an active, unexpired entitlement
// for the exam. It does not evaluate or bind a device.
func (g *Guard) ActiveFor(ctx context.Context, userID string, examID int64) (bool, error) {
	e, err := g.store.ForUserExam(ctx, userID, examID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.ActiveAt(g.now()), nil
}

// Events returns the access history of an entitlement, oldest first.
func (g *Guard) Events(ctx context.Context, entitlementID string) ([]AccessEvent, error) {
	return g.store.Events(ctx, entitlementID)
}

func (g *Guard) event(entitlementID string, dev Device, now time.Time) AccessEvent {
	return AccessEvent{
		ID:                uuid.NewString(),
		EntitlementID:     entitlementID,
		DeviceFingerprint: dev.Fingerprint,
		IPAddress:         dev.IPAddress,
		UserAgent:         dev.UserAgent,
		CreatedAt:         now,
	}
}
