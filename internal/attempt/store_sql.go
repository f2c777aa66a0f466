package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/certprep-core/internal/apperr"
	"github.com/mind-engage/certprep-core/internal/db"
	"github.com/mind-engage/certprep-core/internal/exam"
)

const attemptCols = `id, user_id, exam_id, question_ids_json, total_questions, status, started_at, expires_at,
	score, correct_answers, completed_at, draw_seed`

// SQLStore keeps attempts in the attempts and attempt_answers tables. The
// partial unique index attempts_one_active_idx backs ErrActiveExists.
type SQLStore struct {
	db     *sql.DB
	driver db.Driver
}

func NewSQLStore(h *sql.DB, driver db.Driver) *SQLStore {
	return &SQLStore{db: h, driver: driver}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r rowScanner) (Attempt, error) {
	var (
		a                    Attempt
		qj, status           string
		startedAt, expiresAt int64
		score, correct       sql.NullInt64
		completedAt          sql.NullInt64
	)
	if err := r.Scan(&a.ID, &a.UserID, &a.ExamID, &qj, &a.TotalQuestions, &status, &startedAt, &expiresAt,
		&score, &correct, &completedAt, &a.DrawSeed); err != nil {
		return Attempt{}, err
	}
	if err := json.Unmarshal([]byte(qj), &a.QuestionIDs); err != nil {
		return Attempt{}, fmt.Errorf("attempt %s question ids: %w", a.ID, err)
	}
	a.Status = Status(status)
	a.StartedAt = time.Unix(startedAt, 0).UTC()
	a.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if score.Valid {
		v := int(score.Int64)
		a.Score = &v
	}
	if correct.Valid {
		v := int(correct.Int64)
		a.CorrectAnswers = &v
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		a.CompletedAt = &t
	}
	return a, nil
}

func (s *SQLStore) Create(ctx context.Context, a Attempt) error {
	qj, err := json.Marshal(a.QuestionIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts (`+attemptCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,NULL,NULL,$9)`,
		a.ID, a.UserID, a.ExamID, string(qj), a.TotalQuestions, string(a.Status),
		a.StartedAt.Unix(), a.ExpiresAt.Unix(), a.DrawSeed)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrActiveExists
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("attempt %s: %w", id, apperr.ErrNotFound)
	}
	return a, err
}

func (s *SQLStore) Active(ctx context.Context, userID string, examID int64) ([]Attempt, error) {
	return s.query(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE user_id=$1 AND exam_id=$2 AND status=$3 ORDER BY started_at`,
		userID, examID, string(StatusInProgress))
}

func (s *SQLStore) List(ctx context.Context, userID string, examID int64) ([]Attempt, error) {
	if examID == 0 {
		return s.query(ctx, `SELECT `+attemptCols+` FROM attempts
			WHERE user_id=$1 ORDER BY started_at DESC, id DESC`, userID)
	}
	return s.query(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE user_id=$1 AND exam_id=$2 ORDER BY started_at DESC, id DESC`, userID, examID)
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAnswer holds a shared lock on the attempt row so a concurrent
// Finalize (FOR UPDATE) either runs before and is observed, or waits.
func (s *SQLStore) UpsertAnswer(ctx context.Context, ans Answer, now time.Time) (Answer, error) {
	sel, err := marshalSelection(ans.Selected)
	if err != nil {
		return Answer{}, err
	}
	if ans.ID == "" {
		ans.ID = uuid.NewString()
	}
	var out Answer
	err = db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var (
			status    string
			expiresAt int64
		)
		err := tx.QueryRowContext(ctx, `SELECT status, expires_at FROM attempts WHERE id=$1`+db.RowLock(s.driver, true),
			ans.AttemptID).Scan(&status, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("attempt %s: %w", ans.AttemptID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load attempt: %w", err)
		}
		if Status(status) != StatusInProgress || now.Unix() >= expiresAt {
			return fmt.Errorf("attempt %s is %s: %w", ans.AttemptID, status, apperr.ErrAttemptNotActive)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO attempt_answers
				(id, attempt_id, question_id, selected_json, is_marked_for_review, is_correct, time_spent_seconds, updated_at)
			VALUES ($1,$2,$3,$4,$5,NULL,$6,$7)
			ON CONFLICT (attempt_id, question_id) DO UPDATE SET
				selected_json=EXCLUDED.selected_json,
				is_marked_for_review=EXCLUDED.is_marked_for_review,
				time_spent_seconds=COALESCE(EXCLUDED.time_spent_seconds, attempt_answers.time_spent_seconds),
				updated_at=EXCLUDED.updated_at`,
			ans.ID, ans.AttemptID, ans.QuestionID, sel, ans.IsMarkedForReview, nullInt(ans.TimeSpentSeconds), now.Unix())
		if err != nil {
			return fmt.Errorf("upsert answer: %w", err)
		}
		out, err = scanAnswer(tx.QueryRowContext(ctx, `SELECT `+answerCols+` FROM attempt_answers
			WHERE attempt_id=$1 AND question_id=$2`, ans.AttemptID, ans.QuestionID))
		return err
	})
	return out, err
}

const answerCols = `id, attempt_id, question_id, selected_json, is_marked_for_review, is_correct, time_spent_seconds, updated_at`

func scanAnswer(r rowScanner) (Answer, error) {
	var (
		a         Answer
		sel       sql.NullString
		correct   sql.NullBool
		spent     sql.NullInt64
		updatedAt int64
	)
	if err := r.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &sel, &a.IsMarkedForReview, &correct, &spent, &updatedAt); err != nil {
		return Answer{}, err
	}
	if sel.Valid {
		var s exam.Selection
		if err := json.Unmarshal([]byte(sel.String), &s); err != nil {
			return Answer{}, fmt.Errorf("answer %s selection: %w", a.ID, err)
		}
		a.Selected = &s
	}
	if correct.Valid {
		v := correct.Bool
		a.IsCorrect = &v
	}
	if spent.Valid {
		v := int(spent.Int64)
		a.TimeSpentSeconds = &v
	}
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return a, nil
}

func (s *SQLStore) Answers(ctx context.Context, attemptID string) ([]Answer, error) {
	if _, err := s.Get(ctx, attemptID); err != nil {
		return nil, err
	}
	return answersOf(ctx, s.db, attemptID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func answersOf(ctx context.Context, q querier, attemptID string) ([]Answer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+answerCols+` FROM attempt_answers
		WHERE attempt_id=$1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()
	var out []Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) Finalize(ctx context.Context, id string, fn FinalizeFunc) (Attempt, bool, error) {
	var (
		out     Attempt
		changed bool
	)
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		cur, err := scanAttempt(tx.QueryRowContext(ctx,
			`SELECT `+attemptCols+` FROM attempts WHERE id=$1`+db.RowLock(s.driver, false), id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("attempt %s: %w", id, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load attempt: %w", err)
		}
		if cur.Status.Terminal() {
			out = cur
			return nil
		}

		answers, err := answersOf(ctx, tx, id)
		if err != nil {
			return err
		}
		next, correct, err := fn(cur, answers)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE attempts SET status=$1, score=$2, correct_answers=$3, completed_at=$4
			WHERE id=$5 AND status=$6`,
			string(next.Status), nullInt(next.Score), nullInt(next.CorrectAnswers), nullUnixPtr(next.CompletedAt),
			id, string(StatusInProgress))
		if err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}
		for _, ans := range answers {
			if _, err := tx.ExecContext(ctx, `UPDATE attempt_answers SET is_correct=$1 WHERE id=$2`,
				correct[ans.QuestionID], ans.ID); err != nil {
				return fmt.Errorf("mark answer %s: %w", ans.ID, err)
			}
		}
		out, changed = next, true
		return nil
	})
	return out, changed, err
}

func marshalSelection(s *exam.Selection) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	buf, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode selection: %w", err)
	}
	return sql.NullString{String: string(buf), Valid: true}, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullUnixPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
