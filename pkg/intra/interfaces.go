package intra

import (
	"context"
	"net/http"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

// HTTPDoer provides an interface for making HTTP requests.
// This allows us to mock HTTP calls in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TimeProvider provides an interface for time operations.
// This allows us to control time in tests.
type TimeProvider interface {
	Now() time.Time
}

// API defines operations for interacting with the intra API.
type API interface {
	// Evaluation operations
	CompletedEvaluations(ctx context.Context, projectID, scaleID, teamID int) ([]types.EvaluationRecord, error)
	PendingLocks(ctx context.Context) ([]types.PendingLock, error)
	DeleteLock(ctx context.Context, lockID int) error
	CreateBooking(ctx context.Context, scaleID, teamID, userID int, beginAt time.Time) error
	CreatePlaceholder(ctx context.Context, scaleID, teamID int) error

	// User operations
	UserByID(ctx context.Context, userID int) (*types.Identity, error)
	UserByLogin(ctx context.Context, login string) (*types.Identity, error)
	ProficiencyLevel(ctx context.Context, userID int) (float64, error)

	// Group operations
	AddToGroup(ctx context.Context, groupID, userID int) error
	RemoveFromGroup(ctx context.Context, groupID, userID int) error
}
