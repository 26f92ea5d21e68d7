package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/photo-hunt/internal/domain"
)

const submissionColumns = `id, team_id, level_number, assigned_image_id, submitted_image_ref,
	similarity_score, status, auto_decision, reviewer_id, review_reason, reviewed_at, submitted_at`

// CreateSubmission inserts a submission. The partial unique index on
// active submissions turns a concurrent duplicate into a conflict.
func (r *Repository) CreateSubmission(ctx context.Context, sub *domain.Submission) error {
	reviewerID, reason, reviewedAt := reviewerColumns(sub.Reviewer)
	query := `
		INSERT INTO submissions (` + submissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		sub.ID,
		sub.TeamID,
		sub.LevelNumber,
		sub.AssignedImageID,
		sub.SubmittedImageRef,
		sub.SimilarityScore,
		string(sub.Status),
		sub.AutoDecision,
		reviewerID,
		reason,
		reviewedAt,
		sub.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSubmission
		}
		return fmt.Errorf("creating submission: %w", err)
	}
	return nil
}

// GetSubmission retrieves a submission by ID
func (r *Repository) GetSubmission(ctx context.Context, submissionID string) (*domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	return r.getSubmission(ctx, query, submissionID)
}

// FindActiveSubmission retrieves the pending or approved submission for a
// team and level
func (r *Repository) FindActiveSubmission(ctx context.Context, teamID string, levelNumber int) (*domain.Submission, error) {
	query := `
		SELECT ` + submissionColumns + ` FROM submissions
		WHERE team_id = $1 AND level_number = $2 AND status IN ('pending', 'approved')
	`
	return r.getSubmission(ctx, query, teamID, levelNumber)
}

// LatestSubmission retrieves the newest submission for a team and level
func (r *Repository) LatestSubmission(ctx context.Context, teamID string, levelNumber int) (*domain.Submission, error) {
	query := `
		SELECT ` + submissionColumns + ` FROM submissions
		WHERE team_id = $1 AND level_number = $2
		ORDER BY submitted_at DESC, id DESC
		LIMIT 1
	`
	return r.getSubmission(ctx, query, teamID, levelNumber)
}

func (r *Repository) getSubmission(ctx context.Context, query string, args ...any) (*domain.Submission, error) {
	sub, err := scanSubmission(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("getting submission: %w", err)
	}
	return sub, nil
}

// ListSubmissionsByTeam retrieves a team's submissions, newest first
func (r *Repository) ListSubmissionsByTeam(ctx context.Context, teamID string) ([]domain.Submission, error) {
	query := `
		SELECT ` + submissionColumns + ` FROM submissions
		WHERE team_id = $1
		ORDER BY submitted_at DESC, id DESC
	`
	return r.listSubmissions(ctx, query, teamID)
}

// ListSubmissionsByStatus retrieves submissions in a status, newest first
func (r *Repository) ListSubmissionsByStatus(ctx context.Context, status domain.SubmissionStatus) ([]domain.Submission, error) {
	query := `
		SELECT ` + submissionColumns + ` FROM submissions
		WHERE status = $1
		ORDER BY submitted_at DESC, id DESC
	`
	return r.listSubmissions(ctx, query, string(status))
}

func (r *Repository) listSubmissions(ctx context.Context, query string, args ...any) ([]domain.Submission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// DecideSubmission moves a pending submission to status. The status
// guard in the WHERE clause makes the transition happen at most once.
func (r *Repository) DecideSubmission(ctx context.Context, submissionID string, status domain.SubmissionStatus, auto bool, reviewer *domain.Reviewer) (*domain.Submission, error) {
	reviewerID, reason, reviewedAt := reviewerColumns(reviewer)
	query := `
		UPDATE submissions
		SET status = $2, auto_decision = $3, reviewer_id = $4, review_reason = $5, reviewed_at = $6
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + submissionColumns
	sub, err := scanSubmission(r.pool.QueryRow(ctx, query, submissionID, string(status), auto, reviewerID, reason, reviewedAt))
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deciding submission: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM submissions WHERE id = $1)`, submissionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking submission existence: %w", err)
	}
	if !exists {
		return nil, domain.ErrSubmissionNotFound
	}
	return nil, domain.ErrNotPending
}

// FirstSubmissionTimes returns each team's earliest submission time
func (r *Repository) FirstSubmissionTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.pool.Query(ctx, `SELECT team_id, MIN(submitted_at) FROM submissions GROUP BY team_id`)
	if err != nil {
		return nil, fmt.Errorf("getting first submissions: %w", err)
	}
	defer rows.Close()

	first := make(map[string]time.Time)
	for rows.Next() {
		var teamID string
		var at time.Time
		if err := rows.Scan(&teamID, &at); err != nil {
			return nil, fmt.Errorf("scanning first submission: %w", err)
		}
		first[teamID] = at
	}
	return first, rows.Err()
}

func reviewerColumns(r *domain.Reviewer) (*string, *string, *time.Time) {
	if r == nil {
		return nil, nil, nil
	}
	return &r.ReviewerID, &r.Reason, &r.ReviewedAt
}

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var sub domain.Submission
	var reviewerID, reason *string
	var reviewedAt *time.Time
	err := row.Scan(
		&sub.ID,
		&sub.TeamID,
		&sub.LevelNumber,
		&sub.AssignedImageID,
		&sub.SubmittedImageRef,
		&sub.SimilarityScore,
		&sub.Status,
		&sub.AutoDecision,
		&reviewerID,
		&reason,
		&reviewedAt,
		&sub.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}
	if reviewerID != nil {
		sub.Reviewer = &domain.Reviewer{ReviewerID: *reviewerID}
		if reason != nil {
			sub.Reviewer.Reason = *reason
		}
		if reviewedAt != nil {
			sub.Reviewer.ReviewedAt = *reviewedAt
		}
	}
	return &sub, nil
}
