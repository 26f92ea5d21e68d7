package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
	"github.com/photo-hunt/internal/memory"
)

const testLevels = 3

type oracleFunc func(ctx context.Context, referenceRef, candidateRef string) (float64, error)

func (f oracleFunc) Score(ctx context.Context, referenceRef, candidateRef string) (float64, error) {
	return f(ctx, referenceRef, candidateRef)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	svc    *Service
	store  *memory.Store
	clock  *clockwork.FakeClock
	events *recorder

	mu        sync.Mutex
	score     float64
	scoreErr  error
	pickIndex func(n int) int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets wrap put a Store in front of the memory store
func newFixtureWith(t *testing.T, wrap func(*memory.Store) Store) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  memory.New(),
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		events: &recorder{},
		score:  100,
	}

	var store Store = f.store
	if wrap != nil {
		store = wrap(f.store)
	}
	f.svc = New(Options{
		Store: store,
		Oracle: oracleFunc(func(context.Context, string, string) (float64, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.score, f.scoreErr
		}),
		Publishers: []Publisher{f.events},
		Clock:      f.clock,
		Random: func(n int) int {
			f.mu.Lock()
			pick := f.pickIndex
			f.mu.Unlock()
			if pick != nil {
				return pick(n)
			}
			return n - 1
		},
		Game:        config.GameConfig{Threshold: 75, LevelCount: testLevels, TeamLockRetries: 5},
		Leaderboard: config.LeaderboardConfig{DefaultLimit: 10, MaxLimit: 100},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	for n := 1; n <= testLevels; n++ {
		_, err := f.svc.CreateLevel(f.ctx, domain.CreateLevelRequest{
			LevelNumber: n,
			Hint:        fmt.Sprintf("hint %d", n),
			Images: []domain.NewLevelImage{
				{URL: fmt.Sprintf("https://img.test/%d/a.jpg", n)},
				{URL: fmt.Sprintf("https://img.test/%d/b.jpg", n)},
			},
		})
		if err != nil {
			t.Fatalf("CreateLevel(%d): %v", n, err)
		}
	}
	return f
}

func (f *fixture) setScore(score float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.score, f.scoreErr = score, err
}

func (f *fixture) start() {
	f.t.Helper()
	if _, err := f.svc.Game.Start(f.ctx); err != nil {
		f.t.Fatalf("Start: %v", err)
	}
}

// addTeam stores a team directly, skipping password hashing
func (f *fixture) addTeam(name string) *domain.Team {
	f.t.Helper()
	team := &domain.Team{
		ID:           "team-" + name,
		Name:         name,
		CurrentLevel: 1,
		RegisteredAt: f.clock.Now(),
	}
	if err := f.store.CreateTeam(f.ctx, team); err != nil {
		f.t.Fatalf("CreateTeam(%s): %v", name, err)
	}
	return team
}

func (f *fixture) team(id string) *domain.Team {
	f.t.Helper()
	team, err := f.store.GetTeam(f.ctx, id)
	if err != nil {
		f.t.Fatalf("GetTeam(%s): %v", id, err)
	}
	return team
}

// submit assigns the current level if needed and submits a candidate
func (f *fixture) submit(teamID string) (*domain.SubmissionOutcome, error) {
	f.t.Helper()
	if _, err := f.svc.GetProgress(f.ctx, teamID); err != nil {
		f.t.Fatalf("GetProgress: %v", err)
	}
	f.clock.Advance(time.Second)
	return f.svc.Arbiter.Intake(f.ctx, teamID, "uploads/candidate.jpg")
}

func (f *fixture) gameState() *domain.GameState {
	f.t.Helper()
	state, err := f.svc.Game.State(f.ctx)
	if err != nil {
		f.t.Fatalf("State: %v", err)
	}
	return state
}

func TestRegisterTeam(t *testing.T) {
	f := newFixture(t)

	req := domain.RegisterTeamRequest{
		TeamName: "  Shutter Bugs ",
		Password: "hunter2",
		Leader:   domain.Leader{Name: "Ada", Contact: "ada@example.com"},
		Members:  []domain.Member{{Name: "Grace"}},
	}
	team, err := f.svc.RegisterTeam(f.ctx, req)
	if err != nil {
		t.Fatalf("RegisterTeam: %v", err)
	}
	if team.Name != "shutter bugs" {
		t.Errorf("name = %q, want normalized", team.Name)
	}
	if team.CurrentLevel != 1 || len(team.AssignedImages) != 0 {
		t.Errorf("new team not at level 1: %+v", team)
	}

	req.TeamName = "SHUTTER BUGS"
	if _, err := f.svc.RegisterTeam(f.ctx, req); !errors.Is(err, domain.ErrTeamNameTaken) {
		t.Errorf("duplicate name error = %v, want ErrTeamNameTaken", err)
	}

	req.TeamName = "other"
	req.Members = nil
	_, err = f.svc.RegisterTeam(f.ctx, req)
	if domain.KindOf(err) != domain.KindValidation {
		t.Errorf("no members error kind = %q, want validation", domain.KindOf(err))
	}

	if _, err := f.svc.Authenticate(f.ctx, "Shutter Bugs", "hunter2"); err != nil {
		t.Errorf("Authenticate: %v", err)
	}
	if _, err := f.svc.Authenticate(f.ctx, "shutter bugs", "wrong"); !errors.Is(err, domain.ErrTeamNotFound) {
		t.Errorf("wrong password error = %v, want ErrTeamNotFound", err)
	}
}

func TestCreateLevelValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  domain.CreateLevelRequest
		kind domain.ErrorKind
	}{
		{"out of range", domain.CreateLevelRequest{LevelNumber: testLevels + 1, Hint: "h"}, domain.KindValidation},
		{"zero", domain.CreateLevelRequest{LevelNumber: 0, Hint: "h"}, domain.KindValidation},
		{"missing hint", domain.CreateLevelRequest{LevelNumber: 1}, domain.KindValidation},
		{"duplicate", domain.CreateLevelRequest{LevelNumber: 1, Hint: "h"}, domain.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateLevel(f.ctx, tt.req)
			if got := domain.KindOf(err); got != tt.kind {
				t.Errorf("kind = %q, want %q (err %v)", got, tt.kind, err)
			}
		})
	}

	level, err := f.svc.GetLevel(f.ctx, testLevels)
	if err != nil {
		t.Fatalf("GetLevel: %v", err)
	}
	if !level.IsFinal {
		t.Error("last level should be final")
	}
}

func TestUpdateLevelAppendsImages(t *testing.T) {
	f := newFixture(t)
	hint := "new hint"

	level, err := f.svc.UpdateLevel(f.ctx, 1, domain.UpdateLevelRequest{
		Hint:   &hint,
		Images: []domain.NewLevelImage{{URL: "https://img.test/1/c.jpg"}},
	})
	if err != nil {
		t.Fatalf("UpdateLevel: %v", err)
	}
	if level.Hint != hint || len(level.ImagesPool) != 3 {
		t.Errorf("level = %+v, want hint updated and 3 images", level)
	}
	if level.ImagesPool[0].URL != "https://img.test/1/a.jpg" {
		t.Errorf("existing images reordered: %+v", level.ImagesPool)
	}
}

func TestDeleteLevelRefusedWhileRunning(t *testing.T) {
	f := newFixture(t)
	f.start()

	if err := f.svc.DeleteLevel(f.ctx, 1); !errors.Is(err, domain.ErrGameRunning) {
		t.Fatalf("error = %v, want ErrGameRunning", err)
	}

	if _, err := f.svc.Game.Pause(f.ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.svc.DeleteLevel(f.ctx, 1); err != nil {
		t.Fatalf("DeleteLevel while paused: %v", err)
	}
	if _, err := f.svc.GetLevel(f.ctx, 1); !errors.Is(err, domain.ErrLevelNotFound) {
		t.Errorf("level still present: %v", err)
	}
}

func TestGetProgressAssignsWhileRunning(t *testing.T) {
	f := newFixture(t)
	team := f.addTeam("alpha")

	progress, err := f.svc.GetProgress(f.ctx, team.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.AssignedImage != nil {
		t.Fatalf("assigned before start: %+v", progress.AssignedImage)
	}

	f.start()
	progress, err = f.svc.GetProgress(f.ctx, team.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.AssignedImage == nil {
		t.Fatal("no image assigned while running")
	}
	if progress.AssignedImage.URL != "https://img.test/1/b.jpg" || progress.AssignedImage.Hint != "hint 1" {
		t.Errorf("assigned image = %+v", progress.AssignedImage)
	}
	if progress.TotalLevels != testLevels || progress.CurrentLevel != 1 {
		t.Errorf("progress = %+v", progress)
	}
}

func TestGetProgressAdvancesStalledTeam(t *testing.T) {
	f := newFixture(t)
	f.start()
	team := f.addTeam("alpha")

	// Level 1 completed but level 2 never unlocked.
	stalled := f.team(team.ID)
	stalled.AssignedImages = []domain.Assignment{{LevelNumber: 1, ImageID: "x"}}
	stalled.CompletedLevels = []domain.CompletedLevel{{LevelNumber: 1, CompletedAt: f.clock.Now()}}
	if err := f.store.UpdateTeam(f.ctx, stalled); err != nil {
		t.Fatalf("UpdateTeam: %v", err)
	}

	progress, err := f.svc.GetProgress(f.ctx, team.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.CurrentLevel != 2 || progress.AssignedImage == nil {
		t.Errorf("progress = %+v, want level 2 with an image", progress)
	}
}

func TestCurrentSubmissionStatusAndHistory(t *testing.T) {
	f := newFixture(t)
	f.start()
	team := f.addTeam("alpha")

	view, err := f.svc.CurrentSubmissionStatus(f.ctx, team.ID)
	if err != nil {
		t.Fatalf("CurrentSubmissionStatus: %v", err)
	}
	if view.HasSubmission {
		t.Fatalf("unexpected submission: %+v", view)
	}

	f.setScore(40, nil)
	outcome, err := f.submit(team.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	view, err = f.svc.CurrentSubmissionStatus(f.ctx, team.ID)
	if err != nil {
		t.Fatalf("CurrentSubmissionStatus: %v", err)
	}
	if !view.HasSubmission || view.Submission.ID != outcome.Submission.ID {
		t.Errorf("status view = %+v", view)
	}

	history, err := f.svc.SubmissionHistory(f.ctx, team.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("history = %v, %v", history, err)
	}
	pending, err := f.svc.PendingSubmissions(f.ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}
	if _, err := f.svc.SubmissionHistory(f.ctx, "nope"); !errors.Is(err, domain.ErrTeamNotFound) {
		t.Errorf("unknown team error = %v", err)
	}
}

func TestResetClearsProgression(t *testing.T) {
	f := newFixture(t)
	f.start()
	team := f.addTeam("alpha")

	for range 2 {
		if _, err := f.submit(team.ID); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if got := f.team(team.ID); got.CurrentLevel != 3 {
		t.Fatalf("current level = %d, want 3", got.CurrentLevel)
	}

	if _, err := f.svc.Game.Reset(f.ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	progress, err := f.svc.GetProgress(f.ctx, team.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.CurrentLevel != 1 || progress.CompletedLevels != 0 || progress.AssignedImage != nil {
		t.Errorf("progress after reset = %+v", progress)
	}
	for _, status := range []domain.SubmissionStatus{domain.SubmissionPending, domain.SubmissionApproved, domain.SubmissionRejected} {
		subs, _ := f.store.ListSubmissionsByStatus(f.ctx, status)
		if len(subs) != 0 {
			t.Errorf("%d %s submissions survived reset", len(subs), status)
		}
	}
	state := f.gameState()
	if state.IsRunning || state.StartedAt != nil || state.HasWinner() {
		t.Errorf("game state after reset = %+v", state)
	}
	if f.events.count(domain.EventGameReset) != 1 {
		t.Error("expected one game:reset event")
	}
}
