package attempt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/certprep-core/internal/apperr"
	"github.com/mind-engage/certprep-core/internal/exam"
	"github.com/mind-engage/certprep-core/internal/grading"
	"github.com/mind-engage/certprep-core/internal/license"
	syncx "github.com/mind-engage/certprep-core/internal/sync"
)

// Engine owns the attempt state machine: in_progress -> submitted | expired.
type Engine struct {
	store  Store
	bank   exam.Bank
	guard  *license.Guard
	scorer *grading.Scorer
	events syncx.Log

	Now func() time.Time
	// Seed returns the per-attempt draw seed.
	Seed func() int64
}

func NewEngine(store Store, bank exam.Bank, guard *license.Guard, events syncx.Log) *Engine {
	return &Engine{
		store:  store,
		bank:   bank,
		guard:  guard,
		scorer: grading.NewScorer(),
		events: events,
		Now:    time.Now,
		Seed:   rand.Int64,
	}
}

func (e *Engine) now() time.Time {
	return e.Now().UTC().Truncate(time.Second)
}

// StartAttempt resumes the caller's open attempt or creates a new one. The
// device is checked by the access guard first; a denial creates nothing.
func (e *Engine) StartAttempt(ctx context.Context, in StartInput) (Attempt, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return Attempt{}, fmt.Errorf("user id is required: %w", apperr.ErrInvalidInput)
	}
	ex, err := e.bank.GetExam(ctx, in.ExamID)
	if err != nil {
		return Attempt{}, err
	}

	dec, err := e.guard.EvaluateFor(ctx, in.UserID, in.ExamID, license.Device{
		Fingerprint: in.DeviceFingerprint,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
	})
	if err != nil {
		return Attempt{}, err
	}
	if err := dec.Err(); err != nil {
		log.Printf("[AttemptEngine] start denied user=%s exam=%d: %s", in.UserID, in.ExamID, dec.Reason)
		return Attempt{}, err
	}

	if a, ok, err := e.resume(ctx, in.UserID, in.ExamID); err != nil || ok {
		return a, err
	}

	ids, err := e.bank.PublishedQuestionIDs(ctx, in.ExamID)
	if err != nil {
		return Attempt{}, err
	}
	if len(ids) == 0 {
		return Attempt{}, fmt.Errorf("exam %d has no published questions: %w", in.ExamID, apperr.ErrInvalidInput)
	}
	seed := e.Seed()
	drawn := Draw(ids, ex.QuestionsPerMockTest, seed)

	now := e.now()
	a := Attempt{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		ExamID:         in.ExamID,
		QuestionIDs:    drawn,
		TotalQuestions: len(drawn),
		Status:         StatusInProgress,
		StartedAt:      now,
		ExpiresAt:      now.Add(time.Duration(ex.TimeLimitMinutes) * time.Minute),
		DrawSeed:       seed,
	}
	if err := e.store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrActiveExists) {
			// a concurrent start won; hand back its attempt
			if won, ok, rerr := e.resume(ctx, in.UserID, in.ExamID); rerr != nil || ok {
				return won, rerr
			}
		}
		return Attempt{}, err
	}

	log.Printf("[AttemptEngine] started attempt=%s user=%s exam=%d questions=%d", a.ID, a.UserID, a.ExamID, a.TotalQuestions)
	e.emit(ctx, syncx.TypeAttemptStarted, a)
	return a, nil
}

// resume returns the open attempt of the pair when there is one. An
// in-progress attempt past its deadline is finalized as expired first.
func (e *Engine) resume(ctx context.Context, userID string, examID int64) (Attempt, bool, error) {
	active, err := e.store.Active(ctx, userID, examID)
	if err != nil {
		return Attempt{}, false, err
	}
	switch {
	case len(active) > 1:
		ids := make([]string, len(active))
		for i, a := range active {
			ids[i] = a.ID
		}
		log.Printf("[AttemptEngine] INVARIANT VIOLATION: %d in-progress attempts for user=%s exam=%d: %v",
			len(active), userID, examID, ids)
		return Attempt{}, false, fmt.Errorf("%d in-progress attempts for user %s exam %d: %w",
			len(active), userID, examID, apperr.ErrInvariant)
	case len(active) == 0:
		return Attempt{}, false, nil
	}
	a := active[0]
	if a.OpenAt(e.now()) {
		return a, true, nil
	}
	if _, err := e.finalize(ctx, a); err != nil {
		return Attempt{}, false, err
	}
	return Attempt{}, false, nil
}

// Draw picks n ids uniformly without replacement using a partial
// Fisher-Yates shuffle seeded by seed. The same inputs give the same draw.
// When n is not positive or exceeds the bank, the whole bank is shuffled.
func Draw(bank []int64, n int, seed int64) []int64 {
	pool := append([]int64(nil), bank...)
	if n <= 0 || n > len(pool) {
		n = len(pool)
	}
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	for i := 0; i < n; i++ {
		j := i + r.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

// RecordAnswer upserts the caller's answer to one question of an open attempt.
func (e *Engine) RecordAnswer(ctx context.Context, in AnswerInput) (Answer, error) {
	a, err := e.owned(ctx, in.AttemptID, in.UserID)
	if err != nil {
		return Answer{}, err
	}
	if !a.OpenAt(e.now()) {
		return Answer{}, fmt.Errorf("attempt %s is %s: %w", a.ID, e.statusAt(a), apperr.ErrAttemptNotActive)
	}
	if !a.HasQuestion(in.QuestionID) {
		return Answer{}, fmt.Errorf("question %d not in attempt %s: %w", in.QuestionID, a.ID, apperr.ErrNotFound)
	}
	qs, err := e.bank.Questions(ctx, []int64{in.QuestionID})
	if err != nil {
		return Answer{}, err
	}
	if err := qs[0].CheckSelection(in.Selected); err != nil {
		return Answer{}, err
	}
	if in.TimeSpentSeconds != nil && *in.TimeSpentSeconds < 0 {
		return Answer{}, fmt.Errorf("time spent must not be negative: %w", apperr.ErrInvalidInput)
	}

	// the store re-checks status and deadline atomically with the write
	return e.store.UpsertAnswer(ctx, Answer{
		AttemptID:         a.ID,
		QuestionID:        in.QuestionID,
		Selected:          in.Selected,
		IsMarkedForReview: in.IsMarkedForReview,
		TimeSpentSeconds:  in.TimeSpentSeconds,
	}, e.now())
}

// Submit finalizes the attempt. Calling it on a terminal attempt returns the
// stored result unchanged.
func (e *Engine) Submit(ctx context.Context, attemptID, userID string) (Attempt, error) {
	a, err := e.owned(ctx, attemptID, userID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status.Terminal() {
		return a, nil
	}
	return e.finalize(ctx, a)
}

func (e *Engine) finalize(ctx context.Context, a Attempt) (Attempt, error) {
	questions, err := e.bank.Questions(ctx, a.QuestionIDs)
	if err != nil {
		return Attempt{}, err
	}
	out, changed, err := e.store.Finalize(ctx, a.ID, func(cur Attempt, answers []Answer) (Attempt, map[int64]bool, error) {
		now := e.now()
		graded := make([]grading.Answer, len(answers))
		for i, ans := range answers {
			graded[i] = grading.Answer{QuestionID: ans.QuestionID, Selection: ans.Selected}
		}
		res := e.scorer.Score(questions, graded)
		score := grading.Percent(res.CorrectAnswers, cur.TotalQuestions)
		correct := res.CorrectAnswers

		cur.Status = StatusSubmitted
		if !now.Before(cur.ExpiresAt) {
			cur.Status = StatusExpired
		}
		cur.CorrectAnswers = &correct
		cur.Score = &score
		cur.CompletedAt = &now
		return cur, res.PerQuestion, nil
	})
	if err != nil {
		return Attempt{}, err
	}
	if changed {
		typ := syncx.TypeAttemptSubmitted
		if out.Status == StatusExpired {
			typ = syncx.TypeAttemptExpired
		}
		log.Printf("[AttemptEngine] attempt=%s %s score=%d (%d/%d)",
			out.ID, out.Status, *out.Score, *out.CorrectAnswers, out.TotalQuestions)
		e.emit(ctx, typ, out)
	}
	return out, nil
}

// Get returns the caller's attempt with its answers and remaining time.
func (e *Engine) Get(ctx context.Context, attemptID, userID string) (View, error) {
	a, err := e.owned(ctx, attemptID, userID)
	if err != nil {
		return View{}, err
	}
	answers, err := e.store.Answers(ctx, a.ID)
	if err != nil {
		return View{}, err
	}
	if answers == nil {
		answers = []Answer{}
	}
	return View{Attempt: a, RemainingSeconds: a.RemainingSeconds(e.now()), Answers: answers}, nil
}

// Answers lists the caller's recorded answers for an attempt.
func (e *Engine) Answers(ctx context.Context, attemptID, userID string) ([]Answer, error) {
	if _, err := e.owned(ctx, attemptID, userID); err != nil {
		return nil, err
	}
	return e.store.Answers(ctx, attemptID)
}

// Remaining is the number of seconds left before the attempt's deadline.
func (e *Engine) Remaining(ctx context.Context, attemptID, userID string) (int64, error) {
	a, err := e.owned(ctx, attemptID, userID)
	if err != nil {
		return 0, err
	}
	return a.RemainingSeconds(e.now()), nil
}

// List returns the caller's attempt history, newest first. examID 0 lists
// every exam.
func (e *Engine) List(ctx context.Context, userID string, examID int64) ([]Attempt, error) {
	out, err := e.store.List(ctx, userID, examID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Attempt{}
	}
	return out, nil
}

func (e *Engine) owned(ctx context.Context, attemptID, userID string) (Attempt, error) {
	a, err := e.store.Get(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != userID {
		return Attempt{}, fmt.Errorf("attempt %s: %w", attemptID, apperr.ErrForbidden)
	}
	return a, nil
}

func (e *Engine) statusAt(a Attempt) string {
	if a.Status == StatusInProgress {
		return "past its deadline"
	}
	return string(a.Status)
}

func (e *Engine) emit(ctx context.Context, typ string, a Attempt) {
	if e.events == nil {
		return
	}
	ev, err := syncx.NewEvent(typ, a.ID, a)
	if err == nil {
		err = e.events.Append(ctx, ev)
	}
	if err != nil {
		log.Printf("[AttemptEngine] event %s for attempt=%s not recorded: %v", typ, a.ID, err)
	}
}
