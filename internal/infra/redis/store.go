// Package redis implements the document store on Redis. Question and team
// records are hashes plus sets (so solved counts are always set cardinality),
// the submission ledger is an append-only list, and the submission transaction
// uses WATCH/MULTI optimistic concurrency.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"ctf-flag-service/internal/app"
	"ctf-flag-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

const (
	teamsIndexKey     = "ctf:teams"
	questionsIndexKey = "ctf:questions"
	submissionsKey    = "ctf:submissions"
)

func questionKey(qid string) string { return "ctf:question:" + qid }
func solvedByKey(qid string) string { return "ctf:question:" + qid + ":solvedby" }
func teamKey(id string) string      { return "ctf:team:" + id }
func teamSolvedKey(id string) string {
	return "ctf:team:" + id + ":solved"
}

// Store implements app.Store against Redis, falling back to a loader for
// question content on cache miss.
type Store struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

// NewStore builds a Redis-backed store. loader may be nil when all content is
// seeded directly into Redis; ttl <= 0 keeps question content resident forever.
func NewStore(client *redis.Client, loader QuestionLoader, ttl time.Duration) *Store {
	return &Store{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RunSubmission executes fn inside a WATCH/MULTI transaction over the question
// and team keys. A concurrent commit on any watched key aborts the EXEC, which
// surfaces as domain.ErrConflict for the caller's retry loop.
func (s *Store) RunSubmission(ctx context.Context, questionID, teamID string, fn func(tx app.Tx) error) error {
	if err := s.ensureQuestion(ctx, questionID); err != nil {
		return fmt.Errorf("question content load: %w", err)
	}

	watched := []string{
		questionKey(questionID),
		solvedByKey(questionID),
		teamKey(teamID),
		teamSolvedKey(teamID),
	}
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rtx := &redisTx{ctx: ctx, reader: tx}
		if err := fn(rtx); err != nil {
			return err
		}
		if !rtx.dirty() {
			return nil
		}
		_, err := tx.TxPipelined(ctx, rtx.flush)
		return err
	}, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrConflict
	}
	return err
}

// ensureQuestion fills the question content hash from the loader on cache miss.
// Absent questions stay absent; the transaction reports them as not found.
func (s *Store) ensureQuestion(ctx context.Context, questionID string) error {
	if s.loader == nil {
		return nil
	}
	n, err := s.client.Exists(ctx, questionKey(questionID)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	_, err, _ = s.sf.Do(questionID, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		n, err := s.client.Exists(ctx, questionKey(questionID)).Result()
		if err != nil || n > 0 {
			return nil, err
		}

		q, err := s.loader.LoadQuestion(ctx, questionID)
		if errors.Is(err, domain.ErrQuestionNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		pipe := s.client.Pipeline()
		pipe.HSet(ctx, questionKey(q.ID), "qid", q.ID, "flag", q.Flag)
		pipe.SAdd(ctx, questionsIndexKey, q.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, questionKey(q.ID), s.ttlWithJitter())
		}
		_, err = pipe.Exec(ctx)
		return nil, err
	})
	return err
}

// SeedQuestion writes question content (and any prior solvers) directly to
// Redis. Seed-time and tests.
func (s *Store) SeedQuestion(ctx context.Context, q domain.Question) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, questionKey(q.ID), "qid", q.ID, "flag", q.Flag)
	pipe.SAdd(ctx, questionsIndexKey, q.ID)
	if len(q.SolvedBy) > 0 {
		pipe.SAdd(ctx, solvedByKey(q.ID), toAnySlice(q.SolvedBy)...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// SeedTeam registers a team record. Seed-time and tests.
func (s *Store) SeedTeam(ctx context.Context, t domain.Team) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, teamKey(t.ID), teamFields(t)...)
	pipe.SAdd(ctx, teamsIndexKey, t.ID)
	if len(t.QuestionsSolved) > 0 {
		pipe.SAdd(ctx, teamSolvedKey(t.ID), toAnySlice(t.QuestionsSolved)...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Question returns committed question state; exported for assertions and admin reads.
func (s *Store) Question(ctx context.Context, questionID string) (domain.Question, bool, error) {
	return readQuestion(ctx, s.client, questionID)
}

func (s *Store) Team(ctx context.Context, teamID string) (domain.Team, bool, error) {
	return readTeam(ctx, s.client, teamID)
}

func (s *Store) Teams(ctx context.Context) ([]domain.Team, error) {
	ids, err := s.client.SMembers(ctx, teamsIndexKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	teams := make([]domain.Team, 0, len(ids))
	for _, id := range ids {
		team, ok, err := readTeam(ctx, s.client, id)
		if err != nil {
			return nil, err
		}
		if ok {
			teams = append(teams, team)
		}
	}
	return teams, nil
}

func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, questionsIndexKey).Result()
	return int(n), err
}

func (s *Store) RecentSubmissions(ctx context.Context, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 10
	}
	raw, err := s.client.LRange(ctx, submissionsKey, int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	// LRange tail is oldest-to-newest; history reads newest first.
	recent := make([]domain.Submission, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var sub domain.Submission
		if err := json.Unmarshal([]byte(raw[i]), &sub); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		recent = append(recent, sub)
	}
	return recent, nil
}

// Reset removes all competition state. Iterates SCAN pages; never recursive.
func (s *Store) Reset(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "ctf:*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) ttlWithJitter() time.Duration {
	// up to 10% jitter to spread expirations
	jitterMax := int64(s.ttl) / 10
	return s.ttl + time.Duration(s.rnd.Int63n(jitterMax+1))
}

// redisTx adapts one WATCH scope to app.Tx: reads go through the transactional
// connection, writes are staged and flushed into the MULTI/EXEC pipeline.
type redisTx struct {
	ctx    context.Context
	reader redis.Cmdable

	question    *domain.Question
	team        *domain.Team
	submissions []domain.Submission
}

func (t *redisTx) Question(questionID string) (domain.Question, bool, error) {
	return readQuestion(t.ctx, t.reader, questionID)
}

func (t *redisTx) Team(teamID string) (domain.Team, bool, error) {
	return readTeam(t.ctx, t.reader, teamID)
}

func (t *redisTx) PutQuestion(q domain.Question) { t.question = &q }

func (t *redisTx) PutTeam(team domain.Team) { t.team = &team }

func (t *redisTx) AppendSubmission(s domain.Submission) {
	t.submissions = append(t.submissions, s)
}

func (t *redisTx) dirty() bool {
	return t.question != nil || t.team != nil || len(t.submissions) > 0
}

// flush stages the writes into the EXEC pipeline. Sets only ever grow, so
// re-adding every member is a safe way to persist the new state.
func (t *redisTx) flush(pipe redis.Pipeliner) error {
	if q := t.question; q != nil {
		pipe.HSet(t.ctx, questionKey(q.ID), "qid", q.ID, "flag", q.Flag)
		pipe.SAdd(t.ctx, questionsIndexKey, q.ID)
		if len(q.SolvedBy) > 0 {
			pipe.SAdd(t.ctx, solvedByKey(q.ID), toAnySlice(q.SolvedBy)...)
		}
	}
	if team := t.team; team != nil {
		pipe.HSet(t.ctx, teamKey(team.ID), teamFields(*team)...)
		pipe.SAdd(t.ctx, teamsIndexKey, team.ID)
		if len(team.QuestionsSolved) > 0 {
			pipe.SAdd(t.ctx, teamSolvedKey(team.ID), toAnySlice(team.QuestionsSolved)...)
		}
	}
	for _, sub := range t.submissions {
		payload, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("encode ledger entry: %w", err)
		}
		pipe.RPush(t.ctx, submissionsKey, payload)
	}
	return nil
}

func readQuestion(ctx context.Context, c redis.Cmdable, questionID string) (domain.Question, bool, error) {
	fields, err := c.HGetAll(ctx, questionKey(questionID)).Result()
	if err != nil {
		return domain.Question{}, false, err
	}
	if len(fields) == 0 {
		return domain.Question{}, false, nil
	}
	solvers, err := c.SMembers(ctx, solvedByKey(questionID)).Result()
	if err != nil {
		return domain.Question{}, false, err
	}
	sort.Strings(solvers)
	return domain.Question{
		ID:       fields["qid"],
		Flag:     fields["flag"],
		SolvedBy: solvers,
	}, true, nil
}

func readTeam(ctx context.Context, c redis.Cmdable, teamID string) (domain.Team, bool, error) {
	fields, err := c.HGetAll(ctx, teamKey(teamID)).Result()
	if err != nil {
		return domain.Team{}, false, err
	}
	if len(fields) == 0 {
		return domain.Team{}, false, nil
	}
	solved, err := c.SMembers(ctx, teamSolvedKey(teamID)).Result()
	if err != nil {
		return domain.Team{}, false, err
	}
	sort.Strings(solved)

	team := domain.Team{
		ID:              fields["teamid"],
		QuestionsSolved: solved,
	}
	if raw := fields["totalcount"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			team.TotalCount = n
		}
	}
	if raw := fields["lastsolvedat"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			team.LastSolvedAt = ts
		}
	}
	return team, true, nil
}

func teamFields(t domain.Team) []interface{} {
	fields := []interface{}{
		"teamid", t.ID,
		"totalcount", strconv.Itoa(t.TotalCount),
	}
	if !t.LastSolvedAt.IsZero() {
		fields = append(fields, "lastsolvedat", t.LastSolvedAt.UTC().Format(time.RFC3339Nano))
	}
	return fields
}

func toAnySlice(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
