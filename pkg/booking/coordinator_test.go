package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/internal/testutil"
	"github.com/peerpp-dev/peerpp-bot/pkg/intra"
	"github.com/peerpp-dev/peerpp-bot/pkg/lockcache"
	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

var baseTime = time.Date(2022, 5, 18, 12, 0, 0, 0, time.UTC)

// recordingHistory captures audit entries.
type recordingHistory struct {
	entries []string
	fail    bool
}

func (h *recordingHistory) Record(reviewer, evaluee string) error {
	if h.fail {
		return errors.New("disk full")
	}
	h.entries = append(h.entries, reviewer+"->"+evaluee)
	return nil
}

func newFixture(t *testing.T, locks []types.PendingLock) (*Coordinator, *testutil.MockIntraClient, *recordingHistory) {
	t.Helper()
	client := testutil.NewMockIntraClient()
	client.SetLocks(locks)
	clock := testutil.NewMockTimeProvider(baseTime)
	cache := lockcache.New(client, clock, lockcache.Config{
		Projects: []types.Project{{ID: 1, Name: "libft"}},
	})
	hist := &recordingHistory{}
	return New(cache, client, hist, clock, Config{Lead: DefaultLead}), client, hist
}

func libftLock(lockID int, created time.Time, subjects ...string) types.PendingLock {
	lock := types.PendingLock{
		LockID:    lockID,
		ProjectID: 1,
		ScaleID:   3,
		TeamID:    lockID * 10,
		CreatedAt: created,
	}
	for i, login := range subjects {
		lock.Subjects = append(lock.Subjects, types.Identity{ID: 100 + i, Login: login})
	}
	return lock
}

func reviewer() *types.Identity {
	return &types.Identity{ID: 7, Login: "jkoers"}
}

func TestClaim_Books(t *testing.T) {
	locks := []types.PendingLock{
		libftLock(2, baseTime.Add(-time.Hour), "fbes"),
		libftLock(1, baseTime.Add(-2*time.Hour), "joppe", "nvan"),
	}
	coordinator, client, hist := newFixture(t, locks)

	result := coordinator.Claim(context.Background(), reviewer(), "libft")
	if result.Outcome != OutcomeBooked {
		t.Fatalf("expected OutcomeBooked, got %d (%s)", result.Outcome, result.Message)
	}
	if !result.Booked() {
		t.Error("expected Booked() to be true")
	}

	// The longest-waiting lock wins, and booking precedes retirement.
	if len(client.BookingCalls) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(client.BookingCalls))
	}
	call := client.BookingCalls[0]
	if call.ScaleID != 3 || call.TeamID != 10 || call.UserID != 7 {
		t.Errorf("unexpected booking call %+v", call)
	}
	if want := baseTime.Add(DefaultLead); !call.BeginAt.Equal(want) {
		t.Errorf("expected begin_at %v, got %v", want, call.BeginAt)
	}
	if len(client.DeleteLockCalls) != 1 || client.DeleteLockCalls[0] != 1 {
		t.Errorf("expected lock 1 retired, got %v", client.DeleteLockCalls)
	}

	if len(result.Subjects) != 2 {
		t.Errorf("expected the lock's subjects in the result, got %v", result.Subjects)
	}
	if len(hist.entries) != 2 || hist.entries[0] != "jkoers->joppe" || hist.entries[1] != "jkoers->nvan" {
		t.Errorf("expected one audit entry per subject, got %v", hist.entries)
	}
}

func TestClaim_UnknownProject(t *testing.T) {
	coordinator, client, _ := newFixture(t, []types.PendingLock{libftLock(1, baseTime, "joppe")})

	result := coordinator.Claim(context.Background(), reviewer(), "minishell")
	if result.Outcome != OutcomeUnknownProject {
		t.Fatalf("expected OutcomeUnknownProject, got %d", result.Outcome)
	}
	if want := fmt.Sprintf("No users available for project `%s`.", "minishell"); result.Message != want {
		t.Errorf("expected %q, got %q", want, result.Message)
	}
	if len(client.BookingCalls) != 0 {
		t.Errorf("expected no booking attempt, got %v", client.BookingCalls)
	}
}

func TestClaim_NoLocks(t *testing.T) {
	coordinator, client, _ := newFixture(t, nil)

	result := coordinator.Claim(context.Background(), reviewer(), "libft")
	if result.Outcome != OutcomeUnknownProject {
		t.Fatalf("expected OutcomeUnknownProject with an empty queue, got %d", result.Outcome)
	}
	if len(client.BookingCalls) != 0 || len(client.DeleteLockCalls) != 0 {
		t.Error("expected no upstream mutations with an empty queue")
	}
}

func TestClaim_CaseInsensitiveProjectMatch(t *testing.T) {
	coordinator, _, _ := newFixture(t, []types.PendingLock{libftLock(1, baseTime, "joppe")})

	result := coordinator.Claim(context.Background(), reviewer(), "LibFT")
	if result.Outcome != OutcomeBooked {
		t.Fatalf("expected case-insensitive match to book, got %d (%s)", result.Outcome, result.Message)
	}
}

func TestClaim_ConflictKeepsLock(t *testing.T) {
	coordinator, client, hist := newFixture(t, []types.PendingLock{libftLock(1, baseTime, "joppe")})
	client.SetError("CreateBooking", fmt.Errorf("scale team: %w", intra.ErrConflict))

	result := coordinator.Claim(context.Background(), reviewer(), "libft")
	if result.Outcome != OutcomeUnavailable {
		t.Fatalf("expected OutcomeUnavailable on conflict, got %d", result.Outcome)
	}
	if result.Booked() {
		t.Error("expected Booked() to be false on conflict")
	}
	// The lock survives a lost race so a later reviewer can claim it.
	if len(client.DeleteLockCalls) != 0 {
		t.Errorf("expected no lock retirement on conflict, got %v", client.DeleteLockCalls)
	}
	if len(hist.entries) != 0 {
		t.Errorf("expected no audit entries on conflict, got %v", hist.entries)
	}
}

func TestClaim_VanishedLock(t *testing.T) {
	coordinator, client, _ := newFixture(t, []types.PendingLock{libftLock(1, baseTime, "joppe")})
	client.SetError("CreateBooking", intra.ErrNotFound)

	result := coordinator.Claim(context.Background(), reviewer(), "libft")
	if result.Outcome != OutcomeUnavailable {
		t.Fatalf("expected OutcomeUnavailable when the lock vanished, got %d", result.Outcome)
	}
}

func TestClaim_BookingTransportError(t *testing.T) {
	coordinator, client, _ := newFixture(t, []types.PendingLock{libftLock(1, baseTime, "joppe")})
	client.SetError("CreateBooking", errors.New("http 500"))

	result := coordinator.Claim(context.Background(), reviewer(), "libft")
	if result.Outcome != OutcomeSourceError {
		t.Fatalf("expected OutcomeSourceError, got %d", result.Outcome)
	}
	if len(client.DeleteLockCalls) != 0 {
		t.Errorf("expected no lock retirement on error, got %v", client.DeleteLockCalls)
	}
}

func TestClaim_ListFailure(t *testing.T) {
	client := testutil.NewMockIntraClient()
	client.SetError("PendingLocks", errors.New("intra down"))
	clock := testutil.NewMockTimeProvider(baseTime)
	cache := lockcache.New(client, clock, lockcache.Config{})
	coordinator := New(cache, client, nil, clock, Config{})

	result := coordinator.Claim(context.Background(), reviewer(), "libft")
	if result.Outcome != OutcomeSourceError {
		t.Fatalf("expected OutcomeSourceError when listing fails, got %d", result.Outcome)
	}
}

func TestClaim_CleanupFailure(t *testing.T) {
	coordinator, client, hist := newFixture(t, []types.PendingLock{libftLock(1, baseTime, "joppe")})
	client.SetError("DeleteLock", errors.New("http 500"))

	result := coordinator.Claim(context.Background(), reviewer(), "libft")
	if result.Outcome != OutcomeCleanupFailed {
		t.Fatalf("expected OutcomeCleanupFailed, got %d", result.Outcome)
	}
	// The booking stands even though the placeholder cleanup failed.
	if !result.Booked() {
		t.Error("expected Booked() to be true after a cleanup failure")
	}
	if len(client.BookingCalls) != 1 {
		t.Errorf("expected the booking to stand, got %v", client.BookingCalls)
	}
	if len(hist.entries) != 1 {
		t.Errorf("expected the audit entry to stand, got %v", hist.entries)
	}
}

func TestClaim_ZeroLeadBooksImmediately(t *testing.T) {
	// A zero lead is a deliberate configuration, not an unset value.
	client := testutil.NewMockIntraClient()
	client.SetLocks([]types.PendingLock{libftLock(1, baseTime, "joppe")})
	clock := testutil.NewMockTimeProvider(baseTime)
	cache := lockcache.New(client, clock, lockcache.Config{
		Projects: []types.Project{{ID: 1, Name: "libft"}},
	})
	coordinator := New(cache, client, nil, clock, Config{})

	result := coordinator.Claim(context.Background(), reviewer(), "libft")
	if result.Outcome != OutcomeBooked {
		t.Fatalf("expected OutcomeBooked, got %d (%s)", result.Outcome, result.Message)
	}
	if got := client.BookingCalls[0].BeginAt; !got.Equal(baseTime) {
		t.Errorf("expected begin_at %v with zero lead, got %v", baseTime, got)
	}
}

func TestClaim_AuditFailureDoesNotBlockBooking(t *testing.T) {
	coordinator, client, hist := newFixture(t, []types.PendingLock{libftLock(1, baseTime, "joppe")})
	hist.fail = true

	result := coordinator.Claim(context.Background(), reviewer(), "libft")
	if result.Outcome != OutcomeBooked {
		t.Fatalf("expected OutcomeBooked despite audit failure, got %d", result.Outcome)
	}
	if len(client.DeleteLockCalls) != 1 {
		t.Errorf("expected the lock retired despite audit failure, got %v", client.DeleteLockCalls)
	}
}
