package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/photo-hunt/internal/domain"
)

func TestUpdateTeamRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateTeam(ctx, &domain.Team{ID: "t1", Name: "alpha", CurrentLevel: 1}); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}

	first, _ := s.GetTeam(ctx, "t1")
	second, _ := s.GetTeam(ctx, "t1")

	first.CurrentLevel = 2
	if err := s.UpdateTeam(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("version after update = %d, want 2", first.Version)
	}

	second.CurrentLevel = 3
	if err := s.UpdateTeam(ctx, second); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale update error = %v, want ErrVersionConflict", err)
	}

	got, _ := s.GetTeam(ctx, "t1")
	if got.CurrentLevel != 2 {
		t.Errorf("current level = %d, want 2", got.CurrentLevel)
	}
}

func TestCreateTeamDuplicateName(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateTeam(ctx, &domain.Team{ID: "t1", Name: "alpha"}); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	err := s.CreateTeam(ctx, &domain.Team{ID: "t2", Name: "alpha"})
	if !errors.Is(err, domain.ErrTeamNameTaken) {
		t.Fatalf("error = %v, want ErrTeamNameTaken", err)
	}
}

func TestCreateSubmissionOneActivePerLevel(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	pending := &domain.Submission{ID: "s1", TeamID: "t1", LevelNumber: 1, Status: domain.SubmissionPending, SubmittedAt: now}
	if err := s.CreateSubmission(ctx, pending); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	dup := &domain.Submission{ID: "s2", TeamID: "t1", LevelNumber: 1, Status: domain.SubmissionPending, SubmittedAt: now}
	if err := s.CreateSubmission(ctx, dup); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("duplicate error = %v, want ErrDuplicateSubmission", err)
	}

	if _, err := s.DecideSubmission(ctx, "s1", domain.SubmissionRejected, false, nil); err != nil {
		t.Fatalf("DecideSubmission: %v", err)
	}
	if err := s.CreateSubmission(ctx, dup); err != nil {
		t.Fatalf("submission after rejection: %v", err)
	}
}

func TestDecideSubmissionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub := &domain.Submission{ID: "s1", TeamID: "t1", LevelNumber: 1, Status: domain.SubmissionPending}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	if _, err := s.DecideSubmission(ctx, "s1", domain.SubmissionApproved, true, nil); err != nil {
		t.Fatalf("first decision: %v", err)
	}
	_, err := s.DecideSubmission(ctx, "s1", domain.SubmissionRejected, false, &domain.Reviewer{ReviewerID: "admin"})
	if !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("second decision error = %v, want ErrNotPending", err)
	}

	got, _ := s.GetSubmission(ctx, "s1")
	if got.Status != domain.SubmissionApproved || !got.AutoDecision || got.Reviewer != nil {
		t.Errorf("submission changed by second decision: %+v", got)
	}

	if _, err := s.DecideSubmission(ctx, "missing", domain.SubmissionApproved, false, nil); !errors.Is(err, domain.ErrSubmissionNotFound) {
		t.Errorf("missing submission error = %v, want ErrSubmissionNotFound", err)
	}
}

func TestDeclareWinnerFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	won, err := s.DeclareWinner(ctx, "t1", at)
	if err != nil || !won {
		t.Fatalf("first DeclareWinner = %v, %v; want true, nil", won, err)
	}
	won, err = s.DeclareWinner(ctx, "t2", at)
	if err != nil || won {
		t.Fatalf("second DeclareWinner = %v, %v; want false, nil", won, err)
	}

	state, _ := s.GetGameState(ctx)
	if state.WinnerTeamID != "t1" {
		t.Errorf("winner = %q, want t1", state.WinnerTeamID)
	}
}

func TestUpdateGameStateCAS(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, _ := s.GetGameState(ctx)
	b, _ := s.GetGameState(ctx)

	a.IsRunning = true
	if err := s.UpdateGameState(ctx, a); err != nil {
		t.Fatalf("UpdateGameState: %v", err)
	}
	b.IsRunning = false
	if err := s.UpdateGameState(ctx, b); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale update error = %v, want ErrVersionConflict", err)
	}
}

func TestResetGame(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	team := &domain.Team{
		ID:              "t1",
		Name:            "alpha",
		CurrentLevel:    3,
		AssignedImages:  []domain.Assignment{{LevelNumber: 1, ImageID: "i1"}},
		CompletedLevels: []domain.CompletedLevel{{LevelNumber: 1, CompletedAt: now}},
	}
	if err := s.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if err := s.CreateSubmission(ctx, &domain.Submission{ID: "s1", TeamID: "t1", LevelNumber: 1, Status: domain.SubmissionApproved}); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if _, err := s.DeclareWinner(ctx, "t1", now); err != nil {
		t.Fatalf("DeclareWinner: %v", err)
	}

	state, err := s.ResetGame(ctx, now)
	if err != nil {
		t.Fatalf("ResetGame: %v", err)
	}
	if state.IsRunning || state.HasWinner() || state.StartedAt != nil {
		t.Errorf("state not cleared: %+v", state)
	}

	got, _ := s.GetTeam(ctx, "t1")
	if got.CurrentLevel != 1 || len(got.AssignedImages) != 0 || len(got.CompletedLevels) != 0 {
		t.Errorf("team not reset: %+v", got)
	}
	if _, err := s.GetSubmission(ctx, "s1"); !errors.Is(err, domain.ErrSubmissionNotFound) {
		t.Errorf("submission survived reset: %v", err)
	}
}
