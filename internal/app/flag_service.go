package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"time"

	"ctf-flag-service/internal/domain"
)

// Store is the transactional document store the verifier runs against
// (in-memory, Redis, etc).
type Store interface {
	// RunSubmission executes fn against a consistent snapshot of the question
	// and team identified by questionID and teamID. Writes staged through the
	// Tx commit atomically with the reads; if a concurrent submission commits
	// first the attempt fails with domain.ErrConflict and nothing is written.
	RunSubmission(ctx context.Context, questionID, teamID string, fn func(tx Tx) error) error

	Team(ctx context.Context, teamID string) (domain.Team, bool, error)
	Teams(ctx context.Context) ([]domain.Team, error)
	QuestionCount(ctx context.Context) (int, error)
	RecentSubmissions(ctx context.Context, limit int) ([]domain.Submission, error)
}

// Tx is the view a submission transaction operates on. Reads observe committed
// state; Put/Append stage writes that land together on commit.
type Tx interface {
	Question(questionID string) (domain.Question, bool, error)
	Team(teamID string) (domain.Team, bool, error)
	PutQuestion(q domain.Question)
	PutTeam(t domain.Team)
	AppendSubmission(s domain.Submission)
}

const (
	defaultMaxAttempts  = 4
	defaultRetryBackoff = 25 * time.Millisecond
)

// FlagService decides flag submissions. It is a pure function of its inputs
// plus store state; nothing request-scoped survives between calls.
type FlagService struct {
	store       Store
	board       *Broadcaster
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

func NewFlagService(store Store, board *Broadcaster, maxAttempts int, backoff time.Duration) *FlagService {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &FlagService{
		store:       store,
		board:       board,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		now:         time.Now,
	}
}

// NewFlagServiceWithClock is test-only for deterministic timestamps.
func NewFlagServiceWithClock(store Store, board *Broadcaster, now func() time.Time) *FlagService {
	s := NewFlagService(store, board, defaultMaxAttempts, time.Millisecond)
	s.now = now
	return s
}

// Submit verifies one flag submission for a (team, question) pair. The whole
// decision runs as a single optimistic transaction; on conflict or a transient
// store error the operation is retried from the first read, with exponential
// backoff, before surfacing domain.ErrStoreUnavailable.
func (s *FlagService) Submit(ctx context.Context, teamID, questionID, flag string) (domain.Verdict, error) {
	teamID = strings.TrimSpace(teamID)
	qid := domain.CanonicalQuestionID(questionID)
	if qid == "" {
		return domain.NewVerdict(domain.OutcomeQuestionNotFound), nil
	}
	if teamID == "" {
		return domain.NewVerdict(domain.OutcomeTeamNotFound), nil
	}

	var verdict domain.Verdict
	backoff := s.backoff
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(withJitter(backoff)):
			case <-ctx.Done():
				return domain.Verdict{}, ctx.Err()
			}
			backoff *= 2
		}

		err := s.store.RunSubmission(ctx, qid, teamID, func(tx Tx) error {
			v, err := s.decide(tx, teamID, qid, flag)
			if err != nil {
				return err
			}
			verdict = v
			return nil
		})
		if err == nil {
			if verdict.Outcome == domain.OutcomeCorrect {
				s.publishScoreboard(ctx)
			}
			return verdict, nil
		}
		lastErr = err
	}
	return domain.Verdict{}, fmt.Errorf("%w after %d attempts: %v", domain.ErrStoreUnavailable, s.maxAttempts, lastErr)
}

// decide encodes the canonical submission algorithm: solved-check before
// flag-check, exact byte-for-byte flag comparison, team lookup only on the
// correct path, one ledger entry per comparison outcome.
func (s *FlagService) decide(tx Tx, teamID, qid, flag string) (domain.Verdict, error) {
	question, ok, err := tx.Question(qid)
	if err != nil {
		return domain.Verdict{}, err
	}
	if !ok {
		return domain.NewVerdict(domain.OutcomeQuestionNotFound), nil
	}

	if question.SolvedByTeam(teamID) {
		return domain.NewVerdict(domain.OutcomeAlreadySolved), nil
	}

	now := s.now()
	if flag != question.Flag {
		tx.AppendSubmission(domain.Submission{
			TeamID:     teamID,
			QuestionID: qid,
			Flag:       flag,
			Status:     domain.SubmissionIncorrect,
			Timestamp:  now,
		})
		return domain.NewVerdict(domain.OutcomeIncorrectFlag), nil
	}

	team, ok, err := tx.Team(teamID)
	if err != nil {
		return domain.Verdict{}, err
	}
	if !ok {
		// Nothing staged yet on this path, so the failure leaves no partial writes.
		return domain.NewVerdict(domain.OutcomeTeamNotFound), nil
	}

	team.RecordSolve(qid, now)
	question.AddSolver(teamID)
	tx.PutTeam(team)
	tx.PutQuestion(question)
	tx.AppendSubmission(domain.Submission{
		TeamID:     teamID,
		QuestionID: qid,
		Flag:       flag,
		Status:     domain.SubmissionCorrect,
		Timestamp:  now,
	})
	return domain.NewVerdict(domain.OutcomeCorrect), nil
}

// Scoreboard returns the current team ranking: most solves first, earlier
// last solve breaking ties, then team id.
func (s *FlagService) Scoreboard(ctx context.Context) (domain.Scoreboard, error) {
	teams, err := s.store.Teams(ctx)
	if err != nil {
		return domain.Scoreboard{}, err
	}
	total, err := s.store.QuestionCount(ctx)
	if err != nil {
		return domain.Scoreboard{}, err
	}

	entries := make([]domain.ScoreboardEntry, 0, len(teams))
	for _, team := range teams {
		entries = append(entries, domain.ScoreboardEntry{
			TeamID:       team.ID,
			Solved:       team.TotalCount,
			LastSolvedAt: team.LastSolvedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Solved != entries[j].Solved {
			return entries[i].Solved > entries[j].Solved
		}
		if !entries[i].LastSolvedAt.Equal(entries[j].LastSolvedAt) {
			return entries[i].LastSolvedAt.Before(entries[j].LastSolvedAt)
		}
		return entries[i].TeamID < entries[j].TeamID
	})

	return domain.Scoreboard{
		Entries:        entries,
		TotalQuestions: total,
		UpdatedAt:      s.now(),
	}, nil
}

// TeamProgress returns one team's solved set and totals.
func (s *FlagService) TeamProgress(ctx context.Context, teamID string) (domain.Team, error) {
	team, ok, err := s.store.Team(ctx, strings.TrimSpace(teamID))
	if err != nil {
		return domain.Team{}, err
	}
	if !ok {
		return domain.Team{}, domain.ErrTeamNotFound
	}
	return team, nil
}

// History returns the most recent ledger entries, newest first.
func (s *FlagService) History(ctx context.Context, limit int) ([]domain.Submission, error) {
	return s.store.RecentSubmissions(ctx, limit)
}

// WatchScoreboard subscribes to ranking updates. The first message on the
// channel is the current snapshot. The caller must invoke cancel to avoid leaks.
func (s *FlagService) WatchScoreboard(ctx context.Context) (<-chan domain.Scoreboard, func(), error) {
	snapshot, err := s.Scoreboard(ctx)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.board.Subscribe(snapshot)
	return ch, cancel, nil
}

func (s *FlagService) publishScoreboard(ctx context.Context) {
	if s.board == nil {
		return
	}
	snapshot, err := s.Scoreboard(ctx)
	if err != nil {
		log.Printf("scoreboard refresh after solve failed: %v", err)
		return
	}
	s.board.Publish(snapshot)
}

// withJitter spreads retries by up to 10% so colliding submitters desynchronize.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitterMax := int64(d) / 10
	return d + time.Duration(rand.Int63n(jitterMax+1))
}
