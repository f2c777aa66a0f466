package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/certprep-core/internal/apperr"
	"github.com/mind-engage/certprep-core/internal/db"
)

type SQLBank struct {
	db *sql.DB
}

func NewSQLBank(h *sql.DB) *SQLBank {
	return &SQLBank{db: h}
}

func (s *SQLBank) PutExam(ctx context.Context, e Exam, questions []Question) error {
	if err := e.Validate(); err != nil {
		return err
	}
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO exams (id,code,title,time_limit_minutes,passing_score,questions_per_mock_test,created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET code=EXCLUDED.code, title=EXCLUDED.title,
				time_limit_minutes=EXCLUDED.time_limit_minutes, passing_score=EXCLUDED.passing_score,
				questions_per_mock_test=EXCLUDED.questions_per_mock_test`,
			e.ID, e.Code, e.Title, e.TimeLimitMinutes, e.PassingScore, e.QuestionsPerMockTest, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("put exam: %w", err)
		}
		for _, q := range questions {
			oj, err := json.Marshal(q.Options)
			if err != nil {
				return err
			}
			groups := q.Groups
			if groups == nil {
				groups = []Group{}
			}
			gj, err := json.Marshal(groups)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO questions (id,exam_id,type,position,published,options_json,groups_json)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (id) DO UPDATE SET exam_id=EXCLUDED.exam_id, type=EXCLUDED.type, position=EXCLUDED.position,
					published=EXCLUDED.published, options_json=EXCLUDED.options_json, groups_json=EXCLUDED.groups_json`,
				q.ID, e.ID, string(q.Type), q.Position, q.Published, string(oj), string(gj))
			if err != nil {
				return fmt.Errorf("put question %d: %w", q.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLBank) GetExam(ctx context.Context, id int64) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT e.id, e.code, e.title, e.time_limit_minutes, e.passing_score, e.questions_per_mock_test,
			(SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id AND q.published)
		FROM exams e WHERE e.id=$1`, id)
	var e Exam
	if err := row.Scan(&e.ID, &e.Code, &e.Title, &e.TimeLimitMinutes, &e.PassingScore, &e.QuestionsPerMockTest, &e.QuestionBankSize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, fmt.Errorf("exam %d: %w", id, apperr.ErrNotFound)
		}
		return Exam{}, err
	}
	return e, nil
}

func (s *SQLBank) PublishedQuestionIDs(ctx context.Context, examID int64) ([]int64, error) {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM questions WHERE exam_id=$1 AND published ORDER BY position, id`, examID)
	if err != nil {
		return nil, fmt.Errorf("query question ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan question id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLBank) Questions(ctx context.Context, ids []int64) ([]Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, exam_id, type, position, published, options_json, groups_json
		FROM questions WHERE id IN (`+strings.Join(ph, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]Question, len(ids))
	for rows.Next() {
		var q Question
		var typ, oj, gj string
		if err := rows.Scan(&q.ID, &q.ExamID, &typ, &q.Position, &q.Published, &oj, &gj); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Type = QuestionType(typ)
		if err := json.Unmarshal([]byte(oj), &q.Options); err != nil {
			return nil, fmt.Errorf("question %d options: %w", q.ID, err)
		}
		if err := json.Unmarshal([]byte(gj), &q.Groups); err != nil {
			return nil, fmt.Errorf("question %d groups: %w", q.ID, err)
		}
		byID[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("question %d: %w", id, apperr.ErrNotFound)
		}
		out = append(out, q)
	}
	return out, nil
}
