package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ctf-flag-service/internal/app"
	"ctf-flag-service/internal/domain"
)

func TestRunSubmissionCommitsStagedWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.SeedQuestion(domain.Question{ID: "Q1", Flag: "FLAG{test}"})
	store.SeedTeam(domain.Team{ID: "TEAM1"})

	now := time.Now()
	err := store.RunSubmission(ctx, "Q1", "TEAM1", func(tx app.Tx) error {
		q, ok, err := tx.Question("Q1")
		if err != nil || !ok {
			t.Fatalf("question read: ok=%v err=%v", ok, err)
		}
		team, ok, err := tx.Team("TEAM1")
		if err != nil || !ok {
			t.Fatalf("team read: ok=%v err=%v", ok, err)
		}
		team.RecordSolve("Q1", now)
		q.AddSolver("TEAM1")
		tx.PutTeam(team)
		tx.PutQuestion(q)
		tx.AppendSubmission(domain.Submission{
			TeamID: "TEAM1", QuestionID: "Q1", Flag: "FLAG{test}",
			Status: domain.SubmissionCorrect, Timestamp: now,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("run submission: %v", err)
	}

	q, ok := store.Question("Q1")
	if !ok || !q.SolvedByTeam("TEAM1") {
		t.Fatalf("expected committed solver, got %+v", q)
	}
	team, ok, _ := store.Team(ctx, "TEAM1")
	if !ok || team.TotalCount != 1 {
		t.Fatalf("expected committed team state, got %+v", team)
	}
	recent, _ := store.RecentSubmissions(ctx, 5)
	if len(recent) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(recent))
	}
}

func TestRunSubmissionErrorDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.SeedQuestion(domain.Question{ID: "Q1", Flag: "FLAG{test}"})

	failure := errors.New("boom")
	err := store.RunSubmission(ctx, "Q1", "TEAM1", func(tx app.Tx) error {
		q, _, _ := tx.Question("Q1")
		q.AddSolver("TEAM1")
		tx.PutQuestion(q)
		tx.AppendSubmission(domain.Submission{TeamID: "TEAM1", QuestionID: "Q1"})
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected callback error, got %v", err)
	}

	q, _ := store.Question("Q1")
	if len(q.SolvedBy) != 0 {
		t.Fatalf("failed transaction must not commit, got %v", q.SolvedBy)
	}
	recent, _ := store.RecentSubmissions(ctx, 5)
	if len(recent) != 0 {
		t.Fatalf("failed transaction must not ledger, got %d entries", len(recent))
	}
}

func TestRecentSubmissionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.SeedQuestion(domain.Question{ID: "Q1", Flag: "FLAG{test}"})

	base := time.Now()
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		err := store.RunSubmission(ctx, "Q1", "TEAM1", func(tx app.Tx) error {
			tx.AppendSubmission(domain.Submission{
				TeamID: "TEAM1", QuestionID: "Q1", Flag: "nope",
				Status: domain.SubmissionIncorrect, Timestamp: ts,
			})
			return nil
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recent, err := store.RecentSubmissions(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	if !recent[0].Timestamp.After(recent[1].Timestamp) || !recent[1].Timestamp.After(recent[2].Timestamp) {
		t.Fatalf("expected newest first, got %+v", recent)
	}
}

func TestTeamsSortedByID(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.SeedTeam(domain.Team{ID: "TEAM3"})
	store.SeedTeam(domain.Team{ID: "TEAM1"})
	store.SeedTeam(domain.Team{ID: "TEAM2"})

	teams, err := store.Teams(ctx)
	if err != nil {
		t.Fatalf("teams: %v", err)
	}
	if len(teams) != 3 || teams[0].ID != "TEAM1" || teams[2].ID != "TEAM3" {
		t.Fatalf("expected sorted teams, got %+v", teams)
	}
}
