// Package booking converts a reviewer's claim on a project into a confirmed
// evaluation booking and retires the matching placeholder lock.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/intra"
	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

// DefaultLead is how far in the future a claimed evaluation is scheduled.
const DefaultLead = 20 * time.Minute

// Outcome classifies the result of a claim.
type Outcome int

// Claim outcomes.
const (
	OutcomeBooked Outcome = iota
	OutcomeUnknownProject
	OutcomeUnavailable
	OutcomeSourceError
	OutcomeCleanupFailed
)

// Result is the user-facing result of a claim.
type Result struct {
	Message  string
	Subjects []types.Identity
	Outcome  Outcome
}

// Booked reports whether the reviewer ended up with a valid booking. Note
// that a failed cleanup still leaves the reviewer booked.
func (r Result) Booked() bool {
	return r.Outcome == OutcomeBooked || r.Outcome == OutcomeCleanupFailed
}

// Queues provides the pending review queues and lock retirement.
type Queues interface {
	ListPendingReviews(ctx context.Context) ([]types.ProjectQueue, error)
	RetireLock(ctx context.Context, lockID int) error
}

// Booker creates evaluation bookings upstream.
type Booker interface {
	CreateBooking(ctx context.Context, scaleID, teamID, userID int, beginAt time.Time) error
}

// Recorder persists an audit entry per successful booking.
type Recorder interface {
	Record(reviewer, evaluee string) error
}

// Clock lets tests control time.
type Clock interface {
	Now() time.Time
}

// Coordinator implements the claim protocol.
type Coordinator struct {
	queues  Queues
	booker  Booker
	history Recorder
	clock   Clock
	lead    time.Duration
}

// Config holds configuration for creating a coordinator.
type Config struct {
	// Lead is the offset from now at which a claimed evaluation starts.
	Lead time.Duration
}

// New creates a booking coordinator. The recorder may be nil, in which case
// no audit entries are written. The lead is used as configured; zero means a
// claimed evaluation starts immediately, and defaulting is left to the
// config layer.
func New(queues Queues, booker Booker, history Recorder, clock Clock, cfg Config) *Coordinator {
	return &Coordinator{
		queues:  queues,
		booker:  booker,
		history: history,
		clock:   clock,
		lead:    cfg.Lead,
	}
}

// Claim books the longest-waiting pending review of the named project for
// the given reviewer.
//
// The upstream booking call is the sole point of truth for conflicts:
// another process may have claimed the same lock since the queue snapshot
// was taken, and that surfaces as a conflict here, not as a crash. The
// placeholder is only retired after a successful booking, so a failed
// booking leaves it available for a future attempt. A failed retirement is
// reported distinctly: the reviewer is validly booked, an operator must
// clear the stale placeholder by hand.
func (c *Coordinator) Claim(ctx context.Context, reviewer *types.Identity, projectName string) Result {
	queues, err := c.queues.ListPendingReviews(ctx)
	if err != nil {
		slog.Warn("Failed to list pending reviews for claim", "reviewer", reviewer.Login, "error", err)
		return Result{Outcome: OutcomeSourceError, Message: "Failed to fetch pending evaluations, try again later."}
	}

	queue := findQueue(queues, projectName)
	if queue == nil || len(queue.Locks) == 0 {
		return Result{Outcome: OutcomeUnknownProject, Message: fmt.Sprintf("No users available for project `%s`.", projectName)}
	}

	// Oldest waiting lock is the highest priority; no other tie-break.
	lock := queue.Locks[0]
	beginAt := c.clock.Now().Add(c.lead)

	if err := c.booker.CreateBooking(ctx, lock.ScaleID, lock.TeamID, reviewer.ID, beginAt); err != nil {
		if errors.Is(err, intra.ErrConflict) || errors.Is(err, intra.ErrNotFound) {
			slog.Info("Lock no longer available", "lock_id", lock.LockID, "project", projectName, "error", err)
			return Result{Outcome: OutcomeUnavailable, Message: fmt.Sprintf("That `%s` evaluation is no longer available.", projectName)}
		}
		slog.Error("Failed to create booking", "lock_id", lock.LockID, "reviewer", reviewer.Login, "error", err)
		return Result{Outcome: OutcomeSourceError, Message: "Failed to book the evaluation, try again later."}
	}

	c.recordBookings(reviewer, lock.Subjects)

	if err := c.queues.RetireLock(ctx, lock.LockID); err != nil {
		// The booking stands; only the placeholder cleanup needs operator
		// attention. Never roll back here, that is what double-books.
		slog.Error("Booking succeeded but lock cleanup failed, manual removal needed",
			"lock_id", lock.LockID, "reviewer", reviewer.Login, "error", err)
		return Result{
			Outcome:  OutcomeCleanupFailed,
			Subjects: lock.Subjects,
			Message:  "Your evaluation is booked, but cleanup of the placeholder failed. Staff has been notified.",
		}
	}

	slog.Info("Booked peer++ evaluation",
		"lock_id", lock.LockID, "project", projectName, "reviewer", reviewer.Login, "begin_at", beginAt)
	return Result{
		Outcome:  OutcomeBooked,
		Subjects: lock.Subjects,
		Message:  fmt.Sprintf("You will evaluate `%s` in %s.", projectName, c.lead),
	}
}

// recordBookings appends one audit entry per subject. Audit failures are
// logged, never surfaced to the reviewer.
func (c *Coordinator) recordBookings(reviewer *types.Identity, subjects []types.Identity) {
	if c.history == nil {
		return
	}
	for _, subject := range subjects {
		if err := c.history.Record(reviewer.Login, subject.Login); err != nil {
			slog.Warn("Failed to record booking history", "reviewer", reviewer.Login, "evaluee", subject.Login, "error", err)
		}
	}
}

// findQueue matches a project queue by name, case-insensitively.
func findQueue(queues []types.ProjectQueue, projectName string) *types.ProjectQueue {
	for i := range queues {
		if strings.EqualFold(queues[i].ProjectName, projectName) {
			return &queues[i]
		}
	}
	return nil
}
