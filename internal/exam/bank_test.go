package exam

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mind-engage/certprep-core/internal/apperr"
	"github.com/mind-engage/certprep-core/internal/db"
)

func TestExamValidate(t *testing.T) {
	ok := Exam{ID: 1, Code: "AZ-900", TimeLimitMinutes: 45, PassingScore: 70, QuestionsPerMockTest: 40}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid exam: %v", err)
	}
	wholeBank := ok
	wholeBank.QuestionsPerMockTest = 0
	if err := wholeBank.Validate(); err != nil {
		t.Fatalf("zero questions per mock test draws the whole bank: %v", err)
	}

	cases := map[string]func(e *Exam){
		"zero time limit":     func(e *Exam) { e.TimeLimitMinutes = 0 },
		"negative time limit": func(e *Exam) { e.TimeLimitMinutes = -5 },
		"negative draw":       func(e *Exam) { e.QuestionsPerMockTest = -1 },
		"passing over 100":    func(e *Exam) { e.PassingScore = 101 },
		"missing id":          func(e *Exam) { e.ID = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := ok
			mutate(&e)
			if err := e.Validate(); !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("want invalid input, got %v", err)
			}
		})
	}
}

func TestPutExamRejectsUntakeableExam(t *testing.T) {
	ctx := context.Background()
	h, err := db.Open(ctx, db.DriverSQLite, filepath.Join(t.TempDir(), "bank.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })

	q := Question{ID: 1, Type: SingleChoice, Position: 1, Published: true,
		Options: []Option{{ID: 11, Label: "a", IsCorrect: true}}}
	for name, bank := range map[string]Bank{"memory": NewInMemoryBank(), "sqlite": NewSQLBank(h)} {
		t.Run(name, func(t *testing.T) {
			dead := Exam{ID: 9, Code: "X", TimeLimitMinutes: 0}
			if err := bank.PutExam(ctx, dead, []Question{q}); !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("zero time limit accepted: %v", err)
			}
			if _, err := bank.GetExam(ctx, 9); !errors.Is(err, apperr.ErrNotFound) {
				t.Fatalf("rejected exam was stored: %v", err)
			}

			dead.TimeLimitMinutes = 30
			if err := bank.PutExam(ctx, dead, []Question{q}); err != nil {
				t.Fatalf("fixed exam: %v", err)
			}
		})
	}
}
