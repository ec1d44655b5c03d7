// Package types contains shared data structures used across the peer++ bot.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import "time"

// LevelNotFound is the sentinel proficiency level returned when a user is
// not enrolled in the tracked cursus. It is distinct from any valid level.
const LevelNotFound = -42.0

// Identity represents a campus user as known by the intra API.
type Identity struct {
	Login       string
	DisplayName string
	Email       string
	ID          int
}

// EvaluationRecord is one completed or scheduled review of a team.
// Corrector is nil when the reviewer abandoned the slot, FinalMark is nil
// while grading is still in progress.
type EvaluationRecord struct {
	CreatedAt           time.Time
	Corrector           *Identity
	FinalMark           *int
	RequiredReviewCount int
}

// PendingLock is a placeholder evaluation held by the bot's service account,
// representing a team that is waiting for a peer++ review.
type PendingLock struct {
	CreatedAt time.Time
	Subjects  []Identity
	LockID    int
	ScaleID   int
	TeamID    int
	ProjectID int
}

// ProjectQueue groups the pending locks of one project, oldest lock first.
type ProjectQueue struct {
	ProjectName string
	Locks       []PendingLock
	ProjectID   int
}

// Project is a watched project as configured for the bot.
type Project struct {
	Name string
	ID   int
}
