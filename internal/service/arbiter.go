package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/photo-hunt/internal/domain"
)

// Arbiter owns the lifecycle of a submission: intake, scoring, the
// auto-approval decision and admin decisions on queued submissions.
type Arbiter struct {
	teams       *teamMutator
	levels      LevelStore
	submissions SubmissionStore
	oracle      SimilarityOracle
	game        *GameController
	progression *ProgressionController
	ranking     *RankingEngine
	events      *Fanout
	clock       clockwork.Clock
	threshold   float64
	logger      *slog.Logger
}

// Intake scores candidateRef against the team's assigned image for its
// current level. Scores at or above the threshold are approved on the
// spot, anything else waits for review.
func (a *Arbiter) Intake(ctx context.Context, teamID, candidateRef string) (*domain.SubmissionOutcome, error) {
	candidateRef = strings.TrimSpace(candidateRef)
	if candidateRef == "" {
		return nil, domain.ErrInvalidRequest.Wrap(errors.New("image reference is required"))
	}
	if err := a.game.RequireRunning(ctx); err != nil {
		return nil, err
	}

	team, err := a.teams.teams.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	levelNumber := team.CurrentLevel
	assignment, ok := team.Assignment(levelNumber)
	if !ok {
		return nil, domain.ErrNoAssignment
	}

	existing, err := a.submissions.FindActiveSubmission(ctx, teamID, levelNumber)
	switch {
	case err == nil:
		return nil, &domain.DuplicateSubmissionError{Existing: *existing}
	case !domain.IsNotFoundError(err):
		return nil, fmt.Errorf("checking existing submissions: %w", err)
	}

	level, err := a.levels.GetLevel(ctx, levelNumber)
	if err != nil {
		return nil, err
	}
	reference, ok := level.Image(assignment.ImageID)
	if !ok {
		return nil, domain.ErrLevelImageNotFound
	}

	score, err := a.score(ctx, reference.URL, candidateRef)
	if err != nil {
		a.logger.Warn("similarity scoring failed",
			"team_id", teamID,
			"level", levelNumber,
			"error", err,
		)
		return nil, err
	}

	now := a.clock.Now()
	sub := &domain.Submission{
		ID:                uuid.NewString(),
		TeamID:            teamID,
		LevelNumber:       levelNumber,
		AssignedImageID:   assignment.ImageID,
		SubmittedImageRef: candidateRef,
		SimilarityScore:   score,
		Status:            domain.SubmissionPending,
		SubmittedAt:       now,
	}
	if err := a.submissions.CreateSubmission(ctx, sub); err != nil {
		if errors.Is(err, domain.ErrDuplicateSubmission) {
			return nil, a.duplicateOf(ctx, teamID, levelNumber, err)
		}
		return nil, fmt.Errorf("creating submission: %w", err)
	}

	if _, err := a.teams.mutate(ctx, teamID, func(t *domain.Team) (bool, error) {
		t.LastSubmissionAt = &now
		return true, nil
	}); err != nil {
		a.logger.Warn("failed to stamp last submission time", "team_id", teamID, "error", err)
	}

	if score < a.threshold {
		a.logger.Info("submission queued for review",
			"submission_id", sub.ID,
			"team_id", teamID,
			"level", levelNumber,
			"score", score,
		)
		a.events.Emit(ctx,
			newEvent(domain.EventSubmissionPending, domain.AudienceAdmin, teamID, submissionPayload(sub, team.Name), now),
			newEvent(domain.EventSubmissionResult, domain.AudienceTeam, teamID, submissionPayload(sub, team.Name), now),
		)
		return &domain.SubmissionOutcome{Submission: *sub}, nil
	}

	decided, err := a.submissions.DecideSubmission(ctx, sub.ID, domain.SubmissionApproved, true, nil)
	if errors.Is(err, domain.ErrNotPending) {
		// A reviewer resolved it first and ran progression on that path.
		current, getErr := a.submissions.GetSubmission(ctx, sub.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reloading submission: %w", getErr)
		}
		return &domain.SubmissionOutcome{Submission: *current}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auto-approving submission: %w", err)
	}

	a.logger.Info("submission auto-approved",
		"submission_id", decided.ID,
		"team_id", teamID,
		"level", levelNumber,
		"score", score,
	)
	return a.approved(ctx, decided, team.Name, domain.EventSubmissionResult, domain.AudienceTeam)
}

// ApplyDecision resolves a pending submission on behalf of a reviewer.
// Resolved submissions cannot be decided again.
func (a *Arbiter) ApplyDecision(ctx context.Context, submissionID string, decision domain.Decision, reviewerID, reason string) (*domain.SubmissionOutcome, error) {
	status, ok := decision.Status()
	if !ok {
		return nil, domain.ErrInvalidRequest.Wrap(fmt.Errorf("unknown decision %q", decision))
	}
	if strings.TrimSpace(reviewerID) == "" {
		return nil, domain.ErrInvalidRequest.Wrap(errors.New("reviewer is required"))
	}

	reviewer := &domain.Reviewer{
		ReviewerID: reviewerID,
		Reason:     reason,
		ReviewedAt: a.clock.Now(),
	}
	sub, err := a.submissions.DecideSubmission(ctx, submissionID, status, false, reviewer)
	if err != nil {
		return nil, err
	}

	a.logger.Info("submission reviewed",
		"submission_id", sub.ID,
		"team_id", sub.TeamID,
		"status", sub.Status,
		"reviewer_id", reviewerID,
	)

	var teamName string
	if team, err := a.teams.teams.GetTeam(ctx, sub.TeamID); err == nil {
		teamName = team.Name
	}

	if status == domain.SubmissionRejected {
		a.events.Emit(ctx, newEvent(domain.EventSubmissionReviewed, domain.AudienceTeamAndAdmin, sub.TeamID, submissionPayload(sub, teamName), reviewer.ReviewedAt))
		return &domain.SubmissionOutcome{Submission: *sub}, nil
	}
	return a.approved(ctx, sub, teamName, domain.EventSubmissionReviewed, domain.AudienceTeamAndAdmin)
}

// approved runs progression for an approved submission, then publishes
// what happened.
func (a *Arbiter) approved(ctx context.Context, sub *domain.Submission, teamName, eventName string, audience domain.Audience) (*domain.SubmissionOutcome, error) {
	outcome := &domain.SubmissionOutcome{Submission: *sub}

	result, progressErr := a.progression.OnLevelApproved(ctx, sub.TeamID, sub.LevelNumber)
	if result != nil {
		outcome.LevelUnlocked = result.NextLevel > 0
		outcome.NextLevel = result.NextLevel
		outcome.FinalLevel = result.Final
		outcome.Winner = result.Winner
	}

	now := a.clock.Now()
	events := []domain.Event{
		newEvent(eventName, audience, sub.TeamID, submissionPayload(sub, teamName), now),
	}
	if outcome.LevelUnlocked {
		events = append(events, newEvent(domain.EventLevelUnlocked, domain.AudienceTeam, sub.TeamID, domain.LevelUnlockedPayload{
			NextLevelNumber: outcome.NextLevel,
		}, now))
	}
	a.events.Emit(ctx, events...)
	a.ranking.Invalidate()

	if progressErr != nil {
		return outcome, fmt.Errorf("progressing team %s: %w", sub.TeamID, progressErr)
	}
	return outcome, nil
}

// score asks the oracle. A score outside [0,100] is a scoring failure.
func (a *Arbiter) score(ctx context.Context, referenceRef, candidateRef string) (float64, error) {
	score, err := a.oracle.Score(ctx, referenceRef, candidateRef)
	if err != nil {
		if errors.Is(err, domain.ErrScoringUnavailable) {
			return 0, err
		}
		return 0, domain.ErrScoringUnavailable.Wrap(err)
	}
	if math.IsNaN(score) || score < 0 || score > 100 {
		return 0, domain.ErrScoringUnavailable.Wrap(fmt.Errorf("score %v out of range", score))
	}
	return score, nil
}

func (a *Arbiter) duplicateOf(ctx context.Context, teamID string, levelNumber int, cause error) error {
	existing, err := a.submissions.FindActiveSubmission(ctx, teamID, levelNumber)
	if err != nil {
		return cause
	}
	return &domain.DuplicateSubmissionError{Existing: *existing}
}
