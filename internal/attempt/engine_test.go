package attempt_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/certprep-core/internal/apperr"
	"github.com/mind-engage/certprep-core/internal/attempt"
	"github.com/mind-engage/certprep-core/internal/db"
	"github.com/mind-engage/certprep-core/internal/exam"
	"github.com/mind-engage/certprep-core/internal/license"
	syncx "github.com/mind-engage/certprep-core/internal/sync"
)

const examID = 42

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine *attempt.Engine
	guard  *license.Guard
	store  attempt.Store
	events *syncx.MemoryLog
	clock  *clock
}

// four single-choice questions; the correct option of question n is n*10+1
func seedExam(t *testing.T, bank exam.Bank) {
	t.Helper()
	var qs []exam.Question
	for n := int64(1); n <= 4; n++ {
		qs = append(qs, exam.Question{
			ID: n, Type: exam.SingleChoice, Position: int(n), Published: true,
			Options: []exam.Option{
				{ID: n*10 + 1, Label: "right", IsCorrect: true},
				{ID: n*10 + 2, Label: "wrong"},
			},
		})
	}
	ex := exam.Exam{ID: examID, Code: "AZ-900", Title: "Azure Fundamentals", TimeLimitMinutes: 60, QuestionsPerMockTest: 4}
	if err := bank.PutExam(context.Background(), ex, qs); err != nil {
		t.Fatalf("seed exam: %v", err)
	}
}

func newFixture(t *testing.T, bank exam.Bank, ls license.Store, as attempt.Store) *fixture {
	t.Helper()
	seedExam(t, bank)
	c := &clock{now: t0}
	g := license.NewGuard(ls, 0)
	g.Now = c.Now
	if _, err := g.Issue(context.Background(), "u1", examID, t0.Add(90*24*time.Hour)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	log := syncx.NewMemoryLog()
	e := attempt.NewEngine(as, bank, g, log)
	e.Now = c.Now
	e.Seed = func() int64 { return 7 }
	return &fixture{engine: e, guard: g, store: as, events: log, clock: c}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newFixture(t, exam.NewInMemoryBank(), license.NewInMemoryStore(), attempt.NewInMemoryStore()))
	})
	t.Run("sqlite", func(t *testing.T) {
		h, err := db.Open(context.Background(), db.DriverSQLite, filepath.Join(t.TempDir(), "attempts.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = h.Close() })
		fn(t, newFixture(t, exam.NewSQLBank(h),
			license.NewSQLStore(h, db.DriverSQLite),
			attempt.NewSQLStore(h, db.DriverSQLite)))
	})
}

func start(t *testing.T, f *fixture, user, fp string) attempt.Attempt {
	t.Helper()
	a, err := f.engine.StartAttempt(context.Background(), attempt.StartInput{
		UserID: user, ExamID: examID, DeviceFingerprint: fp, IPAddress: "10.0.0.1", UserAgent: "test",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return a
}

func answer(f *fixture, a attempt.Attempt, qid int64, sel *exam.Selection) (attempt.Answer, error) {
	return f.engine.RecordAnswer(context.Background(), attempt.AnswerInput{
		AttemptID: a.ID, UserID: a.UserID, QuestionID: qid, Selected: sel,
	})
}

func TestSubmitScoresThreeOfFour(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		a := start(t, f, "u1", "A")
		if a.TotalQuestions != 4 || !a.ExpiresAt.Equal(t0.Add(time.Hour)) || a.Status != attempt.StatusInProgress {
			t.Fatalf("unexpected attempt %+v", a)
		}
		for _, qid := range a.QuestionIDs {
			pick := qid*10 + 1
			if qid == 4 {
				pick = qid*10 + 2
			}
			if _, err := answer(f, a, qid, exam.Scalar(pick)); err != nil {
				t.Fatalf("answer %d: %v", qid, err)
			}
		}

		f.clock.Advance(20 * time.Minute)
		done, err := f.engine.Submit(context.Background(), a.ID, "u1")
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if done.Status != attempt.StatusSubmitted || *done.CorrectAnswers != 3 || *done.Score != 75 {
			t.Fatalf("status=%s correct=%d score=%d", done.Status, *done.CorrectAnswers, *done.Score)
		}
		if done.CompletedAt == nil || !done.CompletedAt.Equal(t0.Add(20*time.Minute)) {
			t.Fatalf("completed_at=%v", done.CompletedAt)
		}

		v, err := f.engine.Get(context.Background(), a.ID, "u1")
		if err != nil {
			t.Fatal(err)
		}
		for _, ans := range v.Answers {
			if ans.IsCorrect == nil || *ans.IsCorrect != (ans.QuestionID != 4) {
				t.Fatalf("answer %d is_correct=%v", ans.QuestionID, ans.IsCorrect)
			}
		}
		if v.RemainingSeconds != 0 {
			t.Fatalf("terminal attempt has remaining=%d", v.RemainingSeconds)
		}
	})
}

func TestStartTwiceResumesSameAttempt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		first := start(t, f, "u1", "A")
		f.clock.Advance(5 * time.Minute)
		second := start(t, f, "u1", "A")
		if first.ID != second.ID {
			t.Fatalf("resume created a new attempt: %s vs %s", first.ID, second.ID)
		}
		if fmt.Sprint(first.QuestionIDs) != fmt.Sprint(second.QuestionIDs) {
			t.Fatalf("question set changed on resume")
		}
		v, _ := f.engine.Get(context.Background(), first.ID, "u1")
		if v.RemainingSeconds != 55*60 {
			t.Fatalf("remaining=%d", v.RemainingSeconds)
		}
	})
}

func TestStartDeniedCreatesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		_, err := f.engine.StartAttempt(ctx, attempt.StartInput{UserID: "stranger", ExamID: examID, DeviceFingerprint: "A"})
		var denied *license.DeniedError
		if !errors.As(err, &denied) || denied.Reason != license.ReasonNotPurchased {
			t.Fatalf("want not-purchased denial, got %v", err)
		}
		if !errors.Is(err, apperr.ErrAccessDenied) {
			t.Fatalf("denial must be ErrAccessDenied")
		}

		start(t, f, "u1", "A")
		_, err = f.engine.StartAttempt(ctx, attempt.StartInput{UserID: "u1", ExamID: examID, DeviceFingerprint: "B"})
		if !errors.As(err, &denied) || denied.Reason != license.ReasonMultiDevice {
			t.Fatalf("want multi-device denial, got %v", err)
		}
		_, err = f.engine.StartAttempt(ctx, attempt.StartInput{UserID: "u1", ExamID: examID, DeviceFingerprint: "A"})
		if !errors.As(err, &denied) || denied.Reason != license.ReasonLocked {
			t.Fatalf("want locked denial, got %v", err)
		}

		list, _ := f.engine.List(ctx, "stranger", 0)
		if len(list) != 0 {
			t.Fatalf("denied start created %d attempts", len(list))
		}
	})
}

func TestRecordAnswerUpsertsInPlace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		a := start(t, f, "u1", "A")
		first, err := answer(f, a, 2, exam.Scalar(21))
		if err != nil {
			t.Fatal(err)
		}
		spent := 30
		second, err := f.engine.RecordAnswer(context.Background(), attempt.AnswerInput{
			AttemptID: a.ID, UserID: "u1", QuestionID: 2, Selected: exam.Scalar(22),
			IsMarkedForReview: true, TimeSpentSeconds: &spent,
		})
		if err != nil {
			t.Fatal(err)
		}
		if first.ID != second.ID {
			t.Fatalf("upsert changed the row id")
		}

		answers, _ := f.engine.Answers(context.Background(), a.ID, "u1")
		if len(answers) != 1 {
			t.Fatalf("want one row, got %d", len(answers))
		}
		got := answers[0]
		if got.Selected == nil || got.Selected.OptionID != 22 || !got.IsMarkedForReview || got.IsCorrect != nil {
			t.Fatalf("row=%+v", got)
		}
		if got.TimeSpentSeconds == nil || *got.TimeSpentSeconds != 30 {
			t.Fatalf("time spent=%v", got.TimeSpentSeconds)
		}
	})
}

func TestRecordAnswerRejections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		a := start(t, f, "u1", "A")
		ctx := context.Background()

		_, err := f.engine.RecordAnswer(ctx, attempt.AnswerInput{AttemptID: a.ID, UserID: "u2", QuestionID: 1, Selected: exam.Scalar(11)})
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("other user: %v", err)
		}
		if _, err := answer(f, a, 1, exam.Multi(11)); !errors.Is(err, apperr.ErrInvalidAnswerShape) {
			t.Fatalf("set on single choice: %v", err)
		}
		if _, err := answer(f, a, 99, exam.Scalar(1)); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("question outside attempt: %v", err)
		}
		neg := -1
		_, err = f.engine.RecordAnswer(ctx, attempt.AnswerInput{AttemptID: a.ID, UserID: "u1", QuestionID: 1, TimeSpentSeconds: &neg})
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("negative time: %v", err)
		}
		if _, err := f.engine.Submit(ctx, a.ID, "u2"); !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("submit by other user: %v", err)
		}
		if _, err := f.engine.Get(ctx, "nope", "u1"); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("unknown attempt: %v", err)
		}
	})
}

func TestLateSubmitIsExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		a := start(t, f, "u1", "A")
		if _, err := answer(f, a, 1, exam.Scalar(11)); err != nil {
			t.Fatal(err)
		}

		f.clock.Advance(time.Hour)
		if _, err := answer(f, a, 2, exam.Scalar(21)); !errors.Is(err, apperr.ErrAttemptNotActive) {
			t.Fatalf("write at the deadline: %v", err)
		}

		done, err := f.engine.Submit(context.Background(), a.ID, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if done.Status != attempt.StatusExpired {
			t.Fatalf("late submit status=%s", done.Status)
		}
		if *done.CorrectAnswers != 1 || *done.Score != 25 {
			t.Fatalf("correct=%d score=%d", *done.CorrectAnswers, *done.Score)
		}
	})
}

func TestSubmitIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a := start(t, f, "u1", "A")
		_, _ = answer(f, a, 1, exam.Scalar(11))

		first, err := f.engine.Submit(ctx, a.ID, "u1")
		if err != nil {
			t.Fatal(err)
		}
		f.clock.Advance(2 * time.Hour)
		second, err := f.engine.Submit(ctx, a.ID, "u1")
		if err != nil {
			t.Fatalf("repeat submit must succeed: %v", err)
		}
		if second.Status != attempt.StatusSubmitted || *second.Score != *first.Score || !second.CompletedAt.Equal(*first.CompletedAt) {
			t.Fatalf("repeat submit changed the result: %+v vs %+v", second, first)
		}
		if _, err := answer(f, a, 2, exam.Scalar(21)); !errors.Is(err, apperr.ErrAttemptNotActive) {
			t.Fatalf("write after submit: %v", err)
		}

		evs, _ := f.events.Since(ctx, 0, 0)
		if len(evs) != 2 || evs[0].Type != syncx.TypeAttemptStarted || evs[1].Type != syncx.TypeAttemptSubmitted {
			t.Fatalf("lifecycle events=%+v", evs)
		}
	})
}

func TestExpiredAttemptIsReplacedOnStart(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		old := start(t, f, "u1", "A")
		f.clock.Advance(61 * time.Minute)

		fresh := start(t, f, "u1", "A")
		if fresh.ID == old.ID {
			t.Fatalf("expired attempt was resumed")
		}
		prev, _ := f.engine.Get(ctx, old.ID, "u1")
		if prev.Status != attempt.StatusExpired || prev.Score == nil || *prev.Score != 0 {
			t.Fatalf("old attempt not finalized: %+v", prev.Attempt)
		}
		hist, _ := f.engine.List(ctx, "u1", examID)
		if len(hist) != 2 || hist[0].ID != fresh.ID {
			t.Fatalf("history=%+v", hist)
		}
	})
}

func TestConcurrentStartsShareOneAttempt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		const n = 8
		ids := make([]string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, err := f.engine.StartAttempt(context.Background(), attempt.StartInput{
					UserID: "u1", ExamID: examID, DeviceFingerprint: "A",
				})
				if err != nil {
					t.Errorf("start %d: %v", i, err)
					return
				}
				ids[i] = a.ID
			}(i)
		}
		wg.Wait()
		for i := 1; i < n; i++ {
			if ids[i] != ids[0] {
				t.Fatalf("concurrent starts produced different attempts: %v", ids)
			}
		}
		active, _ := f.store.Active(context.Background(), "u1", examID)
		if len(active) != 1 {
			t.Fatalf("active attempts=%d", len(active))
		}
	})
}

func TestAnswersRacingSubmitAreScoredOrRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a := start(t, f, "u1", "A")

		var wg sync.WaitGroup
		for _, qid := range a.QuestionIDs {
			wg.Add(1)
			go func(qid int64) {
				defer wg.Done()
				_, err := answer(f, a, qid, exam.Scalar(qid*10+1))
				if err != nil && !errors.Is(err, apperr.ErrAttemptNotActive) {
					t.Errorf("answer %d: %v", qid, err)
				}
			}(qid)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Submit(ctx, a.ID, "u1"); err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
		wg.Wait()

		done, _ := f.engine.Get(ctx, a.ID, "u1")
		for _, ans := range done.Answers {
			if ans.IsCorrect == nil {
				t.Fatalf("answer %d was written after finalization", ans.QuestionID)
			}
		}
		if *done.CorrectAnswers != len(done.Answers) {
			t.Fatalf("correct=%d stored answers=%d", *done.CorrectAnswers, len(done.Answers))
		}
	})
}

type doubledStore struct {
	attempt.Store
}

func (d doubledStore) Active(ctx context.Context, userID string, examID int64) ([]attempt.Attempt, error) {
	return []attempt.Attempt{{ID: "a1", Status: attempt.StatusInProgress}, {ID: "a2", Status: attempt.StatusInProgress}}, nil
}

func TestTwoActiveAttemptsIsReportedNotPatched(t *testing.T) {
	f := newFixture(t, exam.NewInMemoryBank(), license.NewInMemoryStore(), doubledStore{attempt.NewInMemoryStore()})
	_, err := f.engine.StartAttempt(context.Background(), attempt.StartInput{UserID: "u1", ExamID: examID, DeviceFingerprint: "A"})
	if !errors.Is(err, apperr.ErrInvariant) {
		t.Fatalf("want ErrInvariant, got %v", err)
	}
}

func TestDraw(t *testing.T) {
	bank := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	a := attempt.Draw(bank, 4, 99)
	b := attempt.Draw(bank, 4, 99)
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Fatalf("same seed gave %v and %v", a, b)
	}
	seen := map[int64]bool{}
	for _, id := range a {
		if seen[id] {
			t.Fatalf("draw repeated %d: %v", id, a)
		}
		seen[id] = true
	}
	if len(a) != 4 {
		t.Fatalf("len=%d", len(a))
	}
	if all := attempt.Draw(bank[:3], 10, 1); len(all) != 3 {
		t.Fatalf("small bank should be taken whole, got %v", all)
	}
	if fmt.Sprint(bank) != "[1 2 3 4 5 6 7 8 9 10]" {
		t.Fatalf("draw mutated the bank: %v", bank)
	}
}
