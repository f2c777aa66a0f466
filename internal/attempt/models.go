package attempt

import (
	"time"

	"github.com/mind-engage/certprep-core/internal/exam"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusExpired    Status = "expired"
)

func (s Status) Terminal() bool { return s == StatusSubmitted || s == StatusExpired }

// Attempt is one timed run of a mock exam against a fixed question set.
// QuestionIDs never change after creation.
type Attempt struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ExamID         int64      `json:"exam_id"`
	QuestionIDs    []int64    `json:"question_ids"`
	TotalQuestions int        `json:"total_questions"`
	Status         Status     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Score          *int       `json:"score"`
	CorrectAnswers *int       `json:"correct_answers"`
	CompletedAt    *time.Time `json:"completed_at"`
	DrawSeed       int64      `json:"draw_seed"`
}

// OpenAt reports whether answers may still be written at now.
func (a Attempt) OpenAt(now time.Time) bool {
	return a.Status == StatusInProgress && now.Before(a.ExpiresAt)
}

// RemainingSeconds is the countdown shown to the client, never negative.
func (a Attempt) RemainingSeconds(now time.Time) int64 {
	if a.Status != StatusInProgress || !now.Before(a.ExpiresAt) {
		return 0
	}
	return int64(a.ExpiresAt.Sub(now) / time.Second)
}

func (a Attempt) HasQuestion(id int64) bool {
	for _, q := range a.QuestionIDs {
		if q == id {
			return true
		}
	}
	return false
}

// Answer is the single recorded answer for one question of an attempt.
// IsCorrect stays nil until the attempt is scored.
type Answer struct {
	ID                string          `json:"id"`
	AttemptID         string          `json:"attempt_id"`
	QuestionID        int64           `json:"question_id"`
	Selected          *exam.Selection `json:"selected_answer"`
	IsMarkedForReview bool            `json:"is_marked_for_review"`
	IsCorrect         *bool           `json:"is_correct"`
	TimeSpentSeconds  *int            `json:"time_spent_seconds"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// AnswerInput is what a client sends for one question.
type AnswerInput struct {
	AttemptID         string
	UserID            string
	QuestionID        int64
	Selected          *exam.Selection
	IsMarkedForReview bool
	TimeSpentSeconds  *int
}

// StartInput identifies the caller and the device they present.
type StartInput struct {
	UserID            string
	ExamID            int64
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
}

// View is an attempt with its answers and the server-side countdown.
type View struct {
	Attempt
	RemainingSeconds int64    `json:"remaining_seconds"`
	Answers          []Answer `json:"answers"`
}
