package memory

import (
	"context"
	"sort"
	"sync"

	"ctf-flag-service/internal/app"
	"ctf-flag-service/internal/domain"
)

// Store is an in-process implementation of app.Store. A single mutex serializes
// submissions, which trivially gives the one-winner guarantee for concurrent
// solves of the same pair. Used for tests and the no-Redis fallback.
type Store struct {
	mu        sync.Mutex
	questions map[string]domain.Question
	teams     map[string]domain.Team
	ledger    []domain.Submission
}

func NewStore() *Store {
	return &Store{
		questions: make(map[string]domain.Question),
		teams:     make(map[string]domain.Team),
	}
}

// SeedQuestion installs question content. Seed-time only.
func (s *Store) SeedQuestion(q domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = cloneQuestion(q)
}

// SeedTeam installs a team record. Seed-time only.
func (s *Store) SeedTeam(t domain.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[t.ID] = cloneTeam(t)
}

// Question returns the committed question state; exported for assertions.
func (s *Store) Question(questionID string) (domain.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.Question{}, false
	}
	return cloneQuestion(q), true
}

func (s *Store) RunSubmission(_ context.Context, questionID, teamID string, fn func(tx app.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit staged writes. fn either staged a consistent set or nothing.
	if tx.question != nil {
		s.questions[tx.question.ID] = cloneQuestion(*tx.question)
	}
	if tx.team != nil {
		s.teams[tx.team.ID] = cloneTeam(*tx.team)
	}
	s.ledger = append(s.ledger, tx.submissions...)
	return nil
}

func (s *Store) Team(_ context.Context, teamID string) (domain.Team, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return domain.Team{}, false, nil
	}
	return cloneTeam(t), true, nil
}

func (s *Store) Teams(_ context.Context) ([]domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	teams := make([]domain.Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, cloneTeam(t))
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (s *Store) QuestionCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions), nil
}

func (s *Store) RecentSubmissions(_ context.Context, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.ledger) {
		limit = len(s.ledger)
	}
	recent := make([]domain.Submission, 0, limit)
	for i := len(s.ledger) - 1; i >= len(s.ledger)-limit; i-- {
		recent = append(recent, s.ledger[i])
	}
	return recent, nil
}

// memTx reads committed state and stages writes; the caller holds the store lock.
type memTx struct {
	store       *Store
	question    *domain.Question
	team        *domain.Team
	submissions []domain.Submission
}

func (tx *memTx) Question(questionID string) (domain.Question, bool, error) {
	q, ok := tx.store.questions[questionID]
	if !ok {
		return domain.Question{}, false, nil
	}
	return cloneQuestion(q), true, nil
}

func (tx *memTx) Team(teamID string) (domain.Team, bool, error) {
	t, ok := tx.store.teams[teamID]
	if !ok {
		return domain.Team{}, false, nil
	}
	return cloneTeam(t), true, nil
}

func (tx *memTx) PutQuestion(q domain.Question) {
	staged := cloneQuestion(q)
	tx.question = &staged
}

func (tx *memTx) PutTeam(t domain.Team) {
	staged := cloneTeam(t)
	tx.team = &staged
}

func (tx *memTx) AppendSubmission(s domain.Submission) {
	tx.submissions = append(tx.submissions, s)
}

func cloneQuestion(q domain.Question) domain.Question {
	q.SolvedBy = append([]string(nil), q.SolvedBy...)
	return q
}

func cloneTeam(t domain.Team) domain.Team {
	t.QuestionsSolved = append([]string(nil), t.QuestionsSolved...)
	return t
}
