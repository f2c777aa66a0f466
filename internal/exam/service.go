package exam

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mind-engage/certprep-core/internal/apperr"
)

// Bank is the question-bank collaborator. Exams and questions are immutable
// to the exam core; PutExam exists for seeding.
type Bank interface {
	PutExam(ctx context.Context, e Exam, questions []Question) error
	GetExam(ctx context.Context, id int64) (Exam, error)
	// PublishedQuestionIDs lists the exam's published questions by position.
	PublishedQuestionIDs(ctx context.Context, examID int64) ([]int64, error)
	// Questions returns the questions in the order of ids.
	Questions(ctx context.Context, ids []int64) ([]Question, error)
}

type memoryBank struct {
	mu        sync.RWMutex
	exams     map[int64]Exam
	questions map[int64]Question
}

func NewInMemoryBank() Bank {
	return &memoryBank{
		exams:     map[int64]Exam{},
		questions: map[int64]Question{},
	}
}

func (m *memoryBank) PutExam(_ context.Context, e Exam, questions []Question) error {
	if err := e.Validate(); err != nil {
		return err
	}
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	published := 0
	for _, q := range questions {
		q.ExamID = e.ID
		m.questions[q.ID] = q
		if q.Published {
			published++
		}
	}
	e.QuestionBankSize = published
	m.exams[e.ID] = e
	return nil
}

func (m *memoryBank) GetExam(_ context.Context, id int64) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, fmt.Errorf("exam %d: %w", id, apperr.ErrNotFound)
	}
	return e, nil
}

func (m *memoryBank) PublishedQuestionIDs(_ context.Context, examID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.exams[examID]; !ok {
		return nil, fmt.Errorf("exam %d: %w", examID, apperr.ErrNotFound)
	}
	qs := make([]Question, 0, len(m.questions))
	for _, q := range m.questions {
		if q.ExamID == examID && q.Published {
			qs = append(qs, q)
		}
	}
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].Position != qs[j].Position {
			return qs[i].Position < qs[j].Position
		}
		return qs[i].ID < qs[j].ID
	})
	ids := make([]int64, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids, nil
}

func (m *memoryBank) Questions(_ context.Context, ids []int64) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		q, ok := m.questions[id]
		if !ok {
			return nil, fmt.Errorf("question %d: %w", id, apperr.ErrNotFound)
		}
		out = append(out, q)
	}
	return out, nil
}
