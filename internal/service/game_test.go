package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/photo-hunt/internal/domain"
)

func TestStartRequiresImagesOnEveryLevel(t *testing.T) {
	f := newFixture(t)
	if err := f.store.DeleteLevel(f.ctx, 2); err != nil {
		t.Fatalf("DeleteLevel: %v", err)
	}
	if err := f.store.DeleteLevel(f.ctx, testLevels); err != nil {
		t.Fatalf("DeleteLevel: %v", err)
	}
	if err := f.store.CreateLevel(f.ctx, &domain.Level{LevelNumber: testLevels, IsFinal: true, Hint: "empty"}); err != nil {
		t.Fatalf("CreateLevel: %v", err)
	}

	_, err := f.svc.Game.Start(f.ctx)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	want := []string{"Level 2 has no images in pool", "Final level (3) has no images"}
	if len(verr.Issues) != len(want) {
		t.Fatalf("issues = %q, want %q", verr.Issues, want)
	}
	for i := range want {
		if verr.Issues[i] != want[i] {
			t.Errorf("issue %d = %q, want %q", i, verr.Issues[i], want[i])
		}
	}
	if f.gameState().IsRunning {
		t.Error("game started despite validation failure")
	}
}

func TestStartPauseTransitions(t *testing.T) {
	f := newFixture(t)

	state, err := f.svc.Game.Start(f.ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !state.IsRunning || state.StartedAt == nil || !state.StartedAt.Equal(f.clock.Now()) {
		t.Errorf("state after start = %+v", state)
	}

	// Starting again is a no-op.
	if _, err := f.svc.Game.Start(f.ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n := f.events.count(domain.EventGameStarted); n != 1 {
		t.Errorf("game:started events = %d, want 1", n)
	}

	state, err = f.svc.Game.Pause(f.ctx)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if state.IsRunning || state.PausedAt == nil {
		t.Errorf("state after pause = %+v", state)
	}
	if _, err := f.svc.Game.Pause(f.ctx); err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if n := f.events.count(domain.EventGamePaused); n != 1 {
		t.Errorf("game:paused events = %d, want 1", n)
	}
}

func TestPauseKeepsProgression(t *testing.T) {
	f := newFixture(t)
	f.start()
	team := f.addTeam("alpha")
	if _, err := f.submit(team.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.svc.Game.Pause(f.ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := f.team(team.ID); got.CurrentLevel != 2 || len(got.CompletedLevels) != 1 {
		t.Errorf("team after pause = %+v", got)
	}
	if _, err := f.svc.Arbiter.Intake(f.ctx, team.ID, "c.jpg"); !errors.Is(err, domain.ErrGameNotRunning) {
		t.Errorf("intake while paused = %v, want ErrGameNotRunning", err)
	}
}

func TestStartClearsStaleWinner(t *testing.T) {
	f := newFixture(t)
	f.start()
	teams := finalists(f, "alpha")
	if _, err := f.svc.Progression.OnLevelApproved(f.ctx, teams[0].ID, testLevels); err != nil {
		t.Fatalf("OnLevelApproved: %v", err)
	}
	if !f.gameState().HasWinner() {
		t.Fatal("expected a winner")
	}

	if _, err := f.svc.Game.Pause(f.ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	state, err := f.svc.Game.Start(f.ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state.HasWinner() || state.WinnerDeclaredAt != nil {
		t.Errorf("stale winner kept: %+v", state)
	}
}

func TestConcurrentStartPause(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.Game.Start(context.Background())
			} else {
				_, err = f.svc.Game.Pause(context.Background())
			}
			if err != nil && !errors.Is(err, domain.ErrVersionConflict) {
				t.Errorf("transition: %v", err)
			}
		}()
	}
	wg.Wait()

	state := f.gameState()
	if state.IsRunning && state.StartedAt == nil {
		t.Errorf("running without start time: %+v", state)
	}
}

func TestRequireRunning(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Game.RequireRunning(f.ctx); !errors.Is(err, domain.ErrGameNotRunning) {
		t.Fatalf("error = %v, want ErrGameNotRunning", err)
	}
	f.start()
	if err := f.svc.Game.RequireRunning(f.ctx); err != nil {
		t.Fatalf("RequireRunning: %v", err)
	}
}
