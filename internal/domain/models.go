package domain

import (
	"sort"
	"strings"
	"time"
)

// Question is a scored challenge with one correct flag. SolvedBy only ever
// grows; it is kept sorted so stored documents stay stable.
type Question struct {
	ID       string   `json:"qid"`
	Flag     string   `json:"flag"`
	SolvedBy []string `json:"solvedBy,omitempty"`
}

// SolvedByTeam reports whether teamID has already been credited for this question.
func (q *Question) SolvedByTeam(teamID string) bool {
	return containsString(q.SolvedBy, teamID)
}

// AddSolver credits teamID for this question. No-op if already present.
func (q *Question) AddSolver(teamID string) {
	q.SolvedBy = insertSorted(q.SolvedBy, teamID)
}

// Team is the scoring unit. TotalCount always equals len(QuestionsSolved);
// RecordSolve maintains that invariant.
type Team struct {
	ID              string    `json:"teamid"`
	QuestionsSolved []string  `json:"questionsSolved,omitempty"`
	TotalCount      int       `json:"totalCount"`
	LastSolvedAt    time.Time `json:"lastSolvedAt,omitempty"`
}

// HasSolved reports whether the team has already solved questionID.
func (t *Team) HasSolved(questionID string) bool {
	return containsString(t.QuestionsSolved, questionID)
}

// RecordSolve credits questionID to the team and refreshes the derived fields.
func (t *Team) RecordSolve(questionID string, at time.Time) {
	t.QuestionsSolved = insertSorted(t.QuestionsSolved, questionID)
	t.TotalCount = len(t.QuestionsSolved)
	t.LastSolvedAt = at
}

// SubmissionStatus is the ledger outcome of a single attempt.
type SubmissionStatus string

const (
	SubmissionCorrect   SubmissionStatus = "correct"
	SubmissionIncorrect SubmissionStatus = "incorrect"
)

// Submission is one append-only ledger entry. Entries are immutable once written.
type Submission struct {
	TeamID     string           `json:"teamid"`
	QuestionID string           `json:"qid"`
	Flag       string           `json:"flag_submitted"`
	Status     SubmissionStatus `json:"status"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Outcome classifies the result of a submit call.
type Outcome string

const (
	OutcomeCorrect          Outcome = "correct"
	OutcomeAlreadySolved    Outcome = "already_solved"
	OutcomeIncorrectFlag    Outcome = "incorrect_flag"
	OutcomeQuestionNotFound Outcome = "question_not_found"
	OutcomeTeamNotFound     Outcome = "team_not_found"
)

// Verdict is the caller-facing result of a flag submission.
type Verdict struct {
	Success bool    `json:"success"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
}

// NewVerdict builds the fixed verdict for an outcome.
func NewVerdict(outcome Outcome) Verdict {
	v := Verdict{Outcome: outcome}
	switch outcome {
	case OutcomeCorrect:
		v.Success = true
		v.Message = "Flag is correct! 🎉"
	case OutcomeAlreadySolved:
		v.Message = "Your team has already solved this question."
	case OutcomeIncorrectFlag:
		v.Message = "Incorrect flag. Keep trying!"
	case OutcomeQuestionNotFound:
		v.Message = "Question not found. Check the question ID."
	case OutcomeTeamNotFound:
		v.Message = "Team not found. Check your team ID."
	}
	return v
}

// ScoreboardEntry is a ranked view of one team.
type ScoreboardEntry struct {
	TeamID       string    `json:"teamId"`
	Solved       int       `json:"solved"`
	LastSolvedAt time.Time `json:"lastSolvedAt"`
}

// Scoreboard is the ordered team ranking with the question total for progress display.
type Scoreboard struct {
	Entries        []ScoreboardEntry `json:"entries"`
	TotalQuestions int               `json:"totalQuestions"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// CanonicalQuestionID normalizes a question identifier for lookup: surrounding
// whitespace dropped, uppercased, and a bare number gets the Q prefix. Only the
// lookup key is ever normalized; flags are compared byte-for-byte as submitted.
func CanonicalQuestionID(raw string) string {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, "Q") {
		id = "Q" + id
	}
	return id
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func insertSorted(list []string, s string) []string {
	if containsString(list, s) {
		return list
	}
	list = append(list, s)
	sort.Strings(list)
	return list
}
