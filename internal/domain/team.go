package domain

import (
	"slices"
	"strings"
	"time"
)

// Leader is the team's contact person
type Leader struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	RollNo  string `json:"roll_no"`
}

// Member is a team member
type Member struct {
	Name   string `json:"name"`
	RollNo string `json:"roll_no"`
}

// Assignment binds one reference image of a level to a team.
type Assignment struct {
	LevelNumber int       `json:"level_number"`
	ImageID     string    `json:"image_id"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// CompletedLevel records when a team finished a level
type CompletedLevel struct {
	LevelNumber int       `json:"level_number"`
	CompletedAt time.Time `json:"completed_at"`
}

// Team is a competing team and its progression state.
//
// AssignedImages holds at most one entry per level and entries are never
// replaced. CompletedLevels is ordered by completion and holds each level
// at most once. Version is bumped by the store on every successful update
// and is used for compare-and-swap.
type Team struct {
	ID               string           `json:"id"`
	Name             string           `json:"team_name"`
	PasswordHash     string           `json:"-"`
	Leader           Leader           `json:"leader"`
	Members          []Member         `json:"members"`
	CurrentLevel     int              `json:"current_level"`
	AssignedImages   []Assignment     `json:"assigned_images"`
	CompletedLevels  []CompletedLevel `json:"completed_levels"`
	RegisteredAt     time.Time        `json:"registered_at"`
	LastSubmissionAt *time.Time       `json:"last_submission_at,omitempty"`
	Version          int64            `json:"version"`
}

// NormalizeTeamName returns the canonical, case-insensitive form of a team name
func NormalizeTeamName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Assignment returns the team's assignment for a level
func (t *Team) Assignment(levelNumber int) (Assignment, bool) {
	for _, a := range t.AssignedImages {
		if a.LevelNumber == levelNumber {
			return a, true
		}
	}
	return Assignment{}, false
}

// HasCompleted reports whether levelNumber is in the completed list
func (t *Team) HasCompleted(levelNumber int) bool {
	return slices.ContainsFunc(t.CompletedLevels, func(c CompletedLevel) bool {
		return c.LevelNumber == levelNumber
	})
}

// CompletionTime returns when levelNumber was completed
func (t *Team) CompletionTime(levelNumber int) (time.Time, bool) {
	for _, c := range t.CompletedLevels {
		if c.LevelNumber == levelNumber {
			return c.CompletedAt, true
		}
	}
	return time.Time{}, false
}

// LastCompletion returns the latest completion time, if any
func (t *Team) LastCompletion() (time.Time, bool) {
	var last time.Time
	for _, c := range t.CompletedLevels {
		if c.CompletedAt.After(last) {
			last = c.CompletedAt
		}
	}
	return last, len(t.CompletedLevels) > 0
}

// ResetProgress puts the team back at level 1 with no history.
func (t *Team) ResetProgress() {
	t.CurrentLevel = 1
	t.AssignedImages = nil
	t.CompletedLevels = nil
	t.LastSubmissionAt = nil
}

// Clone returns a deep copy of the team
func (t *Team) Clone() *Team {
	c := *t
	c.Members = slices.Clone(t.Members)
	c.AssignedImages = slices.Clone(t.AssignedImages)
	c.CompletedLevels = slices.Clone(t.CompletedLevels)
	if t.LastSubmissionAt != nil {
		ts := *t.LastSubmissionAt
		c.LastSubmissionAt = &ts
	}
	return &c
}

// RegisterTeamRequest is the input for team registration
type RegisterTeamRequest struct {
	TeamName string   `json:"team_name"`
	Password string   `json:"password"`
	Leader   Leader   `json:"leader"`
	Members  []Member `json:"members"`
}

// AssignedImageView describes the image a team is currently hunting
type AssignedImageView struct {
	ImageID     string `json:"image_id"`
	URL         string `json:"url"`
	Hint        string `json:"hint"`
	Description string `json:"description,omitempty"`
}

// TeamProgress is a team's view of its own progression
type TeamProgress struct {
	TeamID          string             `json:"team_id"`
	TeamName        string             `json:"team_name"`
	CurrentLevel    int                `json:"current_level"`
	AssignedImage   *AssignedImageView `json:"assigned_image"`
	CompletedLevels int                `json:"completed_levels"`
	TotalLevels     int                `json:"total_levels"`
	Finished        bool               `json:"finished"`
	IsWinner        bool               `json:"is_winner"`
}
