package attempt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/certprep-core/internal/apperr"
)

// ErrActiveExists is returned by Create when the user already has an
// in-progress attempt for the exam.
var ErrActiveExists = errors.New("active attempt exists")

// FinalizeFunc turns an in-progress attempt into a terminal one. It returns
// the finalized attempt and per-question correctness for the answer rows.
type FinalizeFunc func(cur Attempt, answers []Answer) (Attempt, map[int64]bool, error)

type Store interface {
	Create(ctx context.Context, a Attempt) error
	Get(ctx context.Context, id string) (Attempt, error)
	// Active returns every in-progress attempt of the pair. More than one is
	// a broken invariant the caller must report.
	Active(ctx context.Context, userID string, examID int64) ([]Attempt, error)
	// List returns the user's attempts newest first; examID 0 means all exams.
	List(ctx context.Context, userID string, examID int64) ([]Attempt, error)
	// UpsertAnswer writes the answer keyed by (attempt, question) only while
	// the attempt is in progress and now is before its deadline, checked in
	// the same transaction as the write.
	UpsertAnswer(ctx context.Context, ans Answer, now time.Time) (Answer, error)
	Answers(ctx context.Context, attemptID string) ([]Answer, error)
	// Finalize runs fn under exclusive access when the attempt is still in
	// progress. A terminal attempt is returned unchanged with changed=false.
	Finalize(ctx context.Context, id string, fn FinalizeFunc) (a Attempt, changed bool, err error)
}

type memoryStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
	answers  map[string]map[int64]Answer
}

func NewInMemoryStore() Store {
	return &memoryStore{
		attempts: map[string]Attempt{},
		answers:  map[string]map[int64]Answer{},
	}
}

func (m *memoryStore) Create(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Status == StatusInProgress {
		for _, cur := range m.attempts {
			if cur.UserID == a.UserID && cur.ExamID == a.ExamID && cur.Status == StatusInProgress {
				return ErrActiveExists
			}
		}
	}
	a.QuestionIDs = append([]int64(nil), a.QuestionIDs...)
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, fmt.Errorf("attempt %s: %w", id, apperr.ErrNotFound)
	}
	return a, nil
}

func (m *memoryStore) Active(_ context.Context, userID string, examID int64) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.UserID == userID && a.ExamID == examID && a.Status == StatusInProgress {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryStore) List(_ context.Context, userID string, examID int64) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.UserID == userID && (examID == 0 || a.ExamID == examID) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memoryStore) UpsertAnswer(_ context.Context, ans Answer, now time.Time) (Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[ans.AttemptID]
	if !ok {
		return Answer{}, fmt.Errorf("attempt %s: %w", ans.AttemptID, apperr.ErrNotFound)
	}
	if !a.OpenAt(now) {
		return Answer{}, fmt.Errorf("attempt %s is %s: %w", a.ID, a.Status, apperr.ErrAttemptNotActive)
	}
	byQ := m.answers[a.ID]
	if byQ == nil {
		byQ = map[int64]Answer{}
		m.answers[a.ID] = byQ
	}
	if prev, ok := byQ[ans.QuestionID]; ok {
		ans.ID = prev.ID
		if ans.TimeSpentSeconds == nil {
			ans.TimeSpentSeconds = prev.TimeSpentSeconds
		}
	} else if ans.ID == "" {
		ans.ID = uuid.NewString()
	}
	ans.IsCorrect = nil
	ans.UpdatedAt = now
	byQ[ans.QuestionID] = ans
	return ans, nil
}

func (m *memoryStore) Answers(_ context.Context, attemptID string) ([]Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[attemptID]; !ok {
		return nil, fmt.Errorf("attempt %s: %w", attemptID, apperr.ErrNotFound)
	}
	return m.answerList(attemptID), nil
}

func (m *memoryStore) answerList(attemptID string) []Answer {
	out := make([]Answer, 0, len(m.answers[attemptID]))
	for _, a := range m.answers[attemptID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (m *memoryStore) Finalize(_ context.Context, id string, fn FinalizeFunc) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.attempts[id]
	if !ok {
		return Attempt{}, false, fmt.Errorf("attempt %s: %w", id, apperr.ErrNotFound)
	}
	if cur.Status.Terminal() {
		return cur, false, nil
	}
	next, correct, err := fn(cur, m.answerList(id))
	if err != nil {
		return Attempt{}, false, err
	}
	for qid, ans := range m.answers[id] {
		ok := correct[qid]
		ans.IsCorrect = &ok
		m.answers[id][qid] = ans
	}
	m.attempts[id] = next
	return next, true, nil
}
