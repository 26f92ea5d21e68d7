package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
	"github.com/photo-hunt/internal/memory"
	"github.com/photo-hunt/internal/service"
	"github.com/photo-hunt/internal/websocket"
)

type stubOracle struct {
	mu    sync.Mutex
	score float64
	err   error
}

func (o *stubOracle) Score(context.Context, string, string) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.score, o.err
}

func (o *stubOracle) set(score float64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.score, o.err = score, err
}

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	h      *Handler
	oracle *stubOracle
	clock  *clockwork.FakeClock
}

// envelope mirrors APIResponse with raw data for per-test decoding
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newTestServer(t *testing.T, levels int) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := &testServer{
		t:      t,
		oracle: &stubOracle{score: 100},
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
	}

	svc := service.New(service.Options{
		Store:       memory.New(),
		Oracle:      ts.oracle,
		Clock:       ts.clock,
		Random:      func(int) int { return 0 },
		Game:        config.GameConfig{Threshold: 75, LevelCount: 3, TeamLockRetries: 5},
		Leaderboard: config.LeaderboardConfig{DefaultLimit: 10, MaxLimit: 100},
		Logger:      logger,
	})
	hub := websocket.NewHub(logger)
	h := NewHandler(svc, hub, &config.ServerConfig{}, logger)
	ts.h = h
	ts.srv = httptest.NewServer(h.Router())
	t.Cleanup(ts.srv.Close)

	for n := 1; n <= levels; n++ {
		ts.expect(http.MethodPost, "/api/v1/admin/levels", domain.CreateLevelRequest{
			LevelNumber: n,
			Hint:        fmt.Sprintf("hint %d", n),
			Images:      []domain.NewLevelImage{{URL: fmt.Sprintf("https://img.test/%d.jpg", n)}},
		}, http.StatusCreated, nil)
	}
	return ts
}

func (ts *testServer) do(method, path string, body any) (int, envelope) {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		ts.t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		ts.t.Fatalf("decoding %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env
}

// expect performs a request, checks the status and decodes data into out
func (ts *testServer) expect(method, path string, body any, status int, out any) envelope {
	ts.t.Helper()
	got, env := ts.do(method, path, body)
	if got != status {
		ts.t.Fatalf("%s %s = %d (%s), want %d", method, path, got, env.Error, status)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			ts.t.Fatalf("decoding data of %s %s: %v", method, path, err)
		}
	}
	return env
}

func (ts *testServer) register(name string) domain.Team {
	ts.t.Helper()
	var team domain.Team
	ts.expect(http.MethodPost, "/api/v1/teams", domain.RegisterTeamRequest{
		TeamName: name,
		Password: "secret",
		Leader:   domain.Leader{Name: "lead", Contact: "555"},
		Members:  []domain.Member{{Name: "m1"}},
	}, http.StatusCreated, &team)
	return team
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.expect(http.MethodGet, "/health", nil, http.StatusOK, nil)
	ts.expect(http.MethodGet, "/ready", nil, http.StatusOK, nil)
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t, 0)
	team := ts.register("  Shutterbugs ")
	if team.Name != "shutterbugs" || team.CurrentLevel != 1 {
		t.Errorf("team = %+v", team)
	}

	env := ts.expect(http.MethodPost, "/api/v1/teams", domain.RegisterTeamRequest{
		TeamName: "SHUTTERBUGS",
		Password: "x",
		Leader:   domain.Leader{Name: "other"},
		Members:  []domain.Member{{Name: "m"}},
	}, http.StatusConflict, nil)
	if env.Code != string(domain.KindConflict) {
		t.Errorf("code = %q", env.Code)
	}

	ts.expect(http.MethodPost, "/api/v1/teams", domain.RegisterTeamRequest{}, http.StatusBadRequest, nil)

	ts.expect(http.MethodPost, "/api/v1/teams/login", loginRequest{TeamName: "shutterbugs", Password: "secret"}, http.StatusOK, nil)
	ts.expect(http.MethodPost, "/api/v1/teams/login", loginRequest{TeamName: "shutterbugs", Password: "wrong"}, http.StatusUnauthorized, nil)
}

func TestStartRequiresLevels(t *testing.T) {
	ts := newTestServer(t, 2)

	var issues []string
	env := ts.expect(http.MethodPost, "/api/v1/admin/game/start", nil, http.StatusBadRequest, &issues)
	if env.Code != string(domain.KindValidation) || len(issues) == 0 {
		t.Errorf("start without final level: code %q issues %v", env.Code, issues)
	}
}

func TestSubmissionFlow(t *testing.T) {
	ts := newTestServer(t, 3)
	team := ts.register("alpha")
	base := "/api/v1/teams/" + team.ID

	// Not running yet.
	ts.expect(http.MethodPost, base+"/submissions", domain.SubmitRequest{ImageRef: "c.jpg"}, http.StatusConflict, nil)

	ts.expect(http.MethodPost, "/api/v1/admin/game/start", nil, http.StatusOK, nil)

	var progress domain.TeamProgress
	ts.expect(http.MethodGet, base+"/progress", nil, http.StatusOK, &progress)
	if progress.CurrentLevel != 1 || progress.AssignedImage == nil || progress.AssignedImage.Hint != "hint 1" {
		t.Fatalf("progress = %+v", progress)
	}

	// Auto-approved.
	var outcome domain.SubmissionOutcome
	ts.clock.Advance(time.Second)
	ts.expect(http.MethodPost, base+"/submissions", domain.SubmitRequest{ImageRef: "c1.jpg"}, http.StatusCreated, &outcome)
	if outcome.Submission.Status != domain.SubmissionApproved || !outcome.LevelUnlocked || outcome.NextLevel != 2 {
		t.Fatalf("outcome = %+v", outcome)
	}

	// Below threshold stays pending.
	ts.oracle.set(40, nil)
	ts.clock.Advance(time.Second)
	ts.expect(http.MethodPost, base+"/submissions", domain.SubmitRequest{ImageRef: "c2.jpg"}, http.StatusCreated, &outcome)
	if outcome.Submission.Status != domain.SubmissionPending {
		t.Fatalf("status = %s, want pending", outcome.Submission.Status)
	}
	pendingID := outcome.Submission.ID

	// A second attempt returns the existing submission.
	var existing domain.Submission
	ts.expect(http.MethodPost, base+"/submissions", domain.SubmitRequest{ImageRef: "c3.jpg"}, http.StatusConflict, &existing)
	if existing.ID != pendingID {
		t.Errorf("duplicate returned %s, want %s", existing.ID, pendingID)
	}

	var queue []domain.Submission
	ts.expect(http.MethodGet, "/api/v1/admin/submissions", nil, http.StatusOK, &queue)
	if len(queue) != 1 || queue[0].ID != pendingID {
		t.Fatalf("queue = %+v", queue)
	}

	approve := "/api/v1/admin/submissions/" + pendingID + "/approve"
	ts.expect(http.MethodPost, approve, domain.DecisionRequest{}, http.StatusBadRequest, nil)
	ts.expect(http.MethodPost, approve, domain.DecisionRequest{ReviewerID: "admin-1"}, http.StatusOK, &outcome)
	if outcome.Submission.Status != domain.SubmissionApproved || outcome.NextLevel != 3 {
		t.Fatalf("outcome = %+v", outcome)
	}

	env := ts.expect(http.MethodPost, "/api/v1/admin/submissions/"+pendingID+"/reject", domain.DecisionRequest{ReviewerID: "admin-2"}, http.StatusConflict, nil)
	if env.Code != string(domain.KindInvalidState) {
		t.Errorf("second decision code = %q", env.Code)
	}

	var view domain.SubmissionStatusView
	ts.expect(http.MethodGet, base+"/submission-status", nil, http.StatusOK, &view)
	if view.CurrentLevel != 3 || view.HasSubmission {
		t.Errorf("status view = %+v", view)
	}

	var history []domain.Submission
	ts.expect(http.MethodGet, base+"/submissions", nil, http.StatusOK, &history)
	if len(history) != 2 || history[0].ID != pendingID {
		t.Errorf("history = %+v", history)
	}

	// Final level wins the game.
	ts.oracle.set(99, nil)
	ts.clock.Advance(time.Second)
	ts.expect(http.MethodPost, base+"/submissions", domain.SubmitRequest{ImageRef: "c4.jpg"}, http.StatusCreated, &outcome)
	if !outcome.Winner || !outcome.FinalLevel {
		t.Fatalf("final outcome = %+v", outcome)
	}

	var state domain.GameState
	ts.expect(http.MethodGet, "/api/v1/admin/game/state", nil, http.StatusOK, &state)
	if state.WinnerTeamID != team.ID {
		t.Errorf("winner = %q, want %q", state.WinnerTeamID, team.ID)
	}

	var board domain.LeaderboardUpdate
	ts.expect(http.MethodGet, "/api/v1/leaderboard?limit=5", nil, http.StatusOK, &board)
	if len(board.Standings) != 1 || board.Standings[0].LevelsCompleted != 3 {
		t.Errorf("leaderboard = %+v", board)
	}

	var standing domain.TeamStanding
	ts.expect(http.MethodGet, "/api/v1/leaderboard/teams/"+team.ID, nil, http.StatusOK, &standing)
	if standing.Rank != 1 {
		t.Errorf("rank = %d", standing.Rank)
	}
}

func TestScoringUnavailable(t *testing.T) {
	ts := newTestServer(t, 3)
	team := ts.register("beta")
	ts.expect(http.MethodPost, "/api/v1/admin/game/start", nil, http.StatusOK, nil)
	ts.expect(http.MethodGet, "/api/v1/teams/"+team.ID+"/progress", nil, http.StatusOK, nil)

	ts.oracle.set(0, errors.New("connection refused"))
	env := ts.expect(http.MethodPost, "/api/v1/teams/"+team.ID+"/submissions", domain.SubmitRequest{ImageRef: "c.jpg"}, http.StatusServiceUnavailable, nil)
	if env.Code != string(domain.KindScoringUnavailable) {
		t.Errorf("code = %q", env.Code)
	}
}

func TestNotFoundAndBadInput(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.expect(http.MethodGet, "/api/v1/teams/missing/progress", nil, http.StatusNotFound, nil)
	ts.expect(http.MethodGet, "/api/v1/leaderboard/teams/missing", nil, http.StatusNotFound, nil)
	ts.expect(http.MethodGet, "/api/v1/admin/levels/abc", nil, http.StatusBadRequest, nil)
	ts.expect(http.MethodGet, "/api/v1/admin/levels/2", nil, http.StatusNotFound, nil)
	ts.expect(http.MethodGet, "/api/v1/leaderboard?limit=-1", nil, http.StatusBadRequest, nil)
	ts.expect(http.MethodPost, "/api/v1/admin/submissions/nope/approve", domain.DecisionRequest{ReviewerID: "a"}, http.StatusNotFound, nil)
}

func TestLevelAdministration(t *testing.T) {
	ts := newTestServer(t, 3)

	hint := "new hint"
	var level domain.Level
	ts.expect(http.MethodPut, "/api/v1/admin/levels/2", domain.UpdateLevelRequest{
		Hint:   &hint,
		Images: []domain.NewLevelImage{{URL: "https://img.test/2b.jpg"}},
	}, http.StatusOK, &level)
	if level.Hint != hint || len(level.ImagesPool) != 2 {
		t.Errorf("level = %+v", level)
	}

	var levels []domain.Level
	ts.expect(http.MethodGet, "/api/v1/admin/levels", nil, http.StatusOK, &levels)
	if len(levels) != 3 || !levels[2].IsFinal {
		t.Errorf("levels = %+v", levels)
	}

	ts.expect(http.MethodPost, "/api/v1/admin/levels", domain.CreateLevelRequest{LevelNumber: 4, Hint: "h"}, http.StatusBadRequest, nil)
	ts.expect(http.MethodPost, "/api/v1/admin/levels", domain.CreateLevelRequest{LevelNumber: 1, Hint: "h"}, http.StatusConflict, nil)

	ts.expect(http.MethodPost, "/api/v1/admin/game/start", nil, http.StatusOK, nil)
	ts.expect(http.MethodDelete, "/api/v1/admin/levels/1", nil, http.StatusConflict, nil)
	ts.expect(http.MethodPost, "/api/v1/admin/game/pause", nil, http.StatusOK, nil)
	ts.expect(http.MethodDelete, "/api/v1/admin/levels/1", nil, http.StatusOK, nil)
	ts.expect(http.MethodPost, "/api/v1/admin/game/reset", nil, http.StatusOK, nil)
}

func TestAuthorizePushRooms(t *testing.T) {
	ts := newTestServer(t, 3)
	team := ts.register("Alpha")
	ctx := context.Background()

	rooms, err := ts.h.Authorize(ctx, websocket.JoinRequest{Type: websocket.MessageTypeJoin, TeamName: "alpha", Password: "secret"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != websocket.TeamChannel(team.ID) {
		t.Errorf("rooms = %v, want only the team's room", rooms)
	}

	_, err = ts.h.Authorize(ctx, websocket.JoinRequest{Type: websocket.MessageTypeJoin, TeamName: "alpha", Password: "wrong"})
	if !errors.Is(err, websocket.ErrJoinDenied) {
		t.Errorf("wrong password error = %v, want ErrJoinDenied", err)
	}
	_, err = ts.h.Authorize(ctx, websocket.JoinRequest{Type: websocket.MessageTypeJoin, TeamName: "nobody", Password: "secret"})
	if !errors.Is(err, websocket.ErrJoinDenied) {
		t.Errorf("unknown team error = %v, want ErrJoinDenied", err)
	}

	ts.h.adminKey = "k3y"
	if _, err := ts.h.Authorize(ctx, websocket.JoinRequest{Type: websocket.MessageTypeJoin, Role: websocket.RoleAdmin}); !errors.Is(err, websocket.ErrJoinDenied) {
		t.Errorf("admin join without key error = %v", err)
	}
	rooms, err = ts.h.Authorize(ctx, websocket.JoinRequest{Type: websocket.MessageTypeJoin, Role: websocket.RoleAdmin, AdminKey: "k3y"})
	if err != nil || len(rooms) != 1 || rooms[0] != websocket.ChannelAdmin {
		t.Errorf("admin join = %v, %v", rooms, err)
	}
}
