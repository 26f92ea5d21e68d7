package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/photo-hunt/internal/domain"
)

// Fanout hands committed domain events to every configured publisher.
// Publish failures are logged and never reach the caller.
type Fanout struct {
	publishers []Publisher
	logger     *slog.Logger
}

// NewFanout creates a fanout over the given publishers
func NewFanout(logger *slog.Logger, publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers, logger: logger}
}

// Add registers another publisher. Not safe to call while events flow.
func (f *Fanout) Add(p Publisher) {
	f.publishers = append(f.publishers, p)
}

// Emit publishes events in order
func (f *Fanout) Emit(ctx context.Context, events ...domain.Event) {
	if f == nil {
		return
	}
	for _, event := range events {
		for _, p := range f.publishers {
			if err := p.Publish(ctx, event); err != nil {
				f.logger.Warn("failed to publish event",
					"event", event.Name,
					"team_id", event.TeamID,
					"error", err,
				)
			}
		}
	}
}

func newEvent(name string, audience domain.Audience, teamID string, payload any, at time.Time) domain.Event {
	return domain.Event{
		Name:      name,
		Audience:  audience,
		TeamID:    teamID,
		Payload:   payload,
		Timestamp: at,
	}
}

func submissionPayload(sub *domain.Submission, teamName string) domain.SubmissionEventPayload {
	p := domain.SubmissionEventPayload{
		SubmissionID:    sub.ID,
		TeamName:        teamName,
		LevelNumber:     sub.LevelNumber,
		Status:          sub.Status,
		SimilarityScore: sub.SimilarityScore,
		AutoDecision:    sub.AutoDecision,
	}
	if sub.Reviewer != nil {
		p.ReviewerID = sub.Reviewer.ReviewerID
		p.Reason = sub.Reviewer.Reason
	}
	return p
}
