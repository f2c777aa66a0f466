package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mind-engage/certprep-core/internal/exam"
)

// bankFile is the on-disk shape of a seed bank. Authoring tools own the
// content; the gateway only loads it.
type bankFile struct {
	Exams []struct {
		ID                   int64  `yaml:"id"`
		Code                 string `yaml:"code"`
		Title                string `yaml:"title"`
		TimeLimitMinutes     int    `yaml:"time_limit_minutes"`
		PassingScore         int    `yaml:"passing_score"`
		QuestionsPerMockTest int    `yaml:"questions_per_mock_test"`
		Questions            []struct {
			ID        int64             `yaml:"id"`
			Type      exam.QuestionType `yaml:"type"`
			Published *bool             `yaml:"published"`
			Groups    []struct {
				ID    int64  `yaml:"id"`
				Label string `yaml:"label"`
			} `yaml:"groups"`
			Options []struct {
				ID      int64  `yaml:"id"`
				Group   *int64 `yaml:"group"`
				Label   string `yaml:"label"`
				Correct bool   `yaml:"correct"`
			} `yaml:"options"`
		} `yaml:"questions"`
	} `yaml:"exams"`
}

type seedExam struct {
	Exam      exam.Exam
	Questions []exam.Question
}

// parseBank decodes a seed bank. Positions follow file order and
// questions are published unless stated otherwise.
func parseBank(r io.Reader) ([]seedExam, error) {
	var f bankFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	out := make([]seedExam, 0, len(f.Exams))
	for _, e := range f.Exams {
		s := seedExam{Exam: exam.Exam{
			ID:                   e.ID,
			Code:                 e.Code,
			Title:                e.Title,
			QuestionBankSize:     len(e.Questions),
			TimeLimitMinutes:     e.TimeLimitMinutes,
			PassingScore:         e.PassingScore,
			QuestionsPerMockTest: e.QuestionsPerMockTest,
		}}
		for qi, q := range e.Questions {
			eq := exam.Question{
				ID:        q.ID,
				ExamID:    e.ID,
				Type:      q.Type,
				Position:  qi + 1,
				Published: q.Published == nil || *q.Published,
			}
			for gi, g := range q.Groups {
				eq.Groups = append(eq.Groups, exam.Group{ID: g.ID, Label: g.Label, Position: gi + 1})
			}
			for oi, o := range q.Options {
				eq.Options = append(eq.Options, exam.Option{
					ID: o.ID, GroupID: o.Group, Label: o.Label, IsCorrect: o.Correct, Position: oi + 1,
				})
			}
			s.Questions = append(s.Questions, eq)
		}
		out = append(out, s)
	}
	return out, nil
}

func loadBank(ctx context.Context, bank exam.Bank, path string) (int, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer fh.Close()
	exams, err := parseBank(fh)
	if err != nil {
		return 0, err
	}
	for _, s := range exams {
		if err := bank.PutExam(ctx, s.Exam, s.Questions); err != nil {
			return 0, fmt.Errorf("exam %s: %w", s.Exam.Code, err)
		}
	}
	return len(exams), nil
}
