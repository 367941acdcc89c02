package memory

import (
	"context"

	"ctf-flag-service/internal/domain"
)

// QuestionLoader fetches question content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// StaticQuestionLoader serves question content from an in-memory map
// (useful for tests/demos).
type StaticQuestionLoader struct {
	questions map[string]domain.Question
}

func NewStaticQuestionLoader(questions map[string]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

func (l *StaticQuestionLoader) LoadQuestion(_ context.Context, questionID string) (domain.Question, error) {
	if q, ok := l.questions[questionID]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
