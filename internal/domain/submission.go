package domain

import "time"

// SubmissionStatus is the resolution state of a submission
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// IsActive reports whether the status blocks another submission for the
// same team and level.
func (s SubmissionStatus) IsActive() bool {
	return s == SubmissionPending || s == SubmissionApproved
}

// Decision is an admin verdict on a pending submission
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Status returns the submission status a decision leads to
func (d Decision) Status() (SubmissionStatus, bool) {
	switch d {
	case DecisionApprove:
		return SubmissionApproved, true
	case DecisionReject:
		return SubmissionRejected, true
	default:
		return "", false
	}
}

// Reviewer records who resolved a submission by hand
type Reviewer struct {
	ReviewerID string    `json:"reviewer_id"`
	Reason     string    `json:"reason"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Submission is a team's candidate photograph for a level.
// It is created pending and moves to approved or rejected exactly once.
type Submission struct {
	ID                string           `json:"id"`
	TeamID            string           `json:"team_id"`
	LevelNumber       int              `json:"level_number"`
	AssignedImageID   string           `json:"assigned_image_id"`
	SubmittedImageRef string           `json:"submitted_image_ref"`
	SimilarityScore   float64          `json:"similarity_score"`
	Status            SubmissionStatus `json:"status"`
	AutoDecision      bool             `json:"auto_decision"`
	Reviewer          *Reviewer        `json:"reviewer,omitempty"`
	SubmittedAt       time.Time        `json:"submitted_at"`
}

// Clone returns a deep copy of the submission
func (s *Submission) Clone() *Submission {
	c := *s
	if s.Reviewer != nil {
		r := *s.Reviewer
		c.Reviewer = &r
	}
	return &c
}

// SubmissionOutcome is what the arbiter reports back for a submission
type SubmissionOutcome struct {
	Submission    Submission `json:"submission"`
	LevelUnlocked bool       `json:"level_unlocked"`
	NextLevel     int        `json:"next_level,omitempty"`
	FinalLevel    bool       `json:"final_level"`
	Winner        bool       `json:"winner"`
}

// SubmitRequest is the routing-layer input for a submission
type SubmitRequest struct {
	ImageRef string `json:"image_ref"`
}

// DecisionRequest is the routing-layer input for an admin decision
type DecisionRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Reason     string `json:"reason"`
}

// SubmissionStatusView answers "what happened to my submission for the
// current level"
type SubmissionStatusView struct {
	CurrentLevel  int         `json:"current_level"`
	HasSubmission bool        `json:"has_submission"`
	Submission    *Submission `json:"submission"`
}
