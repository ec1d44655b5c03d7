// Package testutil provides mock implementations and testing utilities for
// the peer++ bot.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

// BookingCall records one CreateBooking invocation.
type BookingCall struct {
	BeginAt time.Time
	ScaleID int
	TeamID  int
	UserID  int
}

// MockIntraClient implements intra.API for testing. It is a programmable
// mock: configure responses up front, inspect recorded calls afterwards.
type MockIntraClient struct {
	evaluations map[string][]types.EvaluationRecord
	levels      map[int]float64
	users       map[int]*types.Identity
	usersByName map[string]*types.Identity
	errors      map[string]error
	locks       []types.PendingLock

	PendingLocksCalls int
	DeleteLockCalls   []int
	BookingCalls      []BookingCall
	PlaceholderCalls  [][2]int // {scaleID, teamID}
	LevelLookups      []int
	GroupChanges      []string
	mu                sync.Mutex
}

// NewMockIntraClient creates an empty programmable mock.
func NewMockIntraClient() *MockIntraClient {
	return &MockIntraClient{
		evaluations: make(map[string][]types.EvaluationRecord),
		levels:      make(map[int]float64),
		users:       make(map[int]*types.Identity),
		usersByName: make(map[string]*types.Identity),
		errors:      make(map[string]error),
	}
}

func evalKey(projectID, scaleID, teamID int) string {
	return fmt.Sprintf("%d/%d/%d", projectID, scaleID, teamID)
}

// SetEvaluations configures the evaluation history of one team.
func (m *MockIntraClient) SetEvaluations(projectID, scaleID, teamID int, evals []types.EvaluationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations[evalKey(projectID, scaleID, teamID)] = evals
}

// SetLocks configures the pending locks returned by PendingLocks.
func (m *MockIntraClient) SetLocks(locks []types.PendingLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = locks
}

// SetLevel configures a user's proficiency level.
func (m *MockIntraClient) SetLevel(userID int, level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[userID] = level
}

// SetUser configures a user identity, looked up by id and by login.
func (m *MockIntraClient) SetUser(user *types.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	m.usersByName[user.Login] = user
}

// SetError makes the named operation fail. Operation names match the API
// method names ("PendingLocks", "CreateBooking", ...).
func (m *MockIntraClient) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[operation] = err
}

// CompletedEvaluations returns the configured evaluation history.
func (m *MockIntraClient) CompletedEvaluations(_ context.Context, projectID, scaleID, teamID int) ([]types.EvaluationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["CompletedEvaluations"]; err != nil {
		return nil, err
	}
	return m.evaluations[evalKey(projectID, scaleID, teamID)], nil
}

// PendingLocks returns the configured locks and counts the fetch.
func (m *MockIntraClient) PendingLocks(_ context.Context) ([]types.PendingLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PendingLocksCalls++
	if err := m.errors["PendingLocks"]; err != nil {
		return nil, err
	}
	return append([]types.PendingLock(nil), m.locks...), nil
}

// DeleteLock records the deletion.
func (m *MockIntraClient) DeleteLock(_ context.Context, lockID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["DeleteLock"]; err != nil {
		return err
	}
	m.DeleteLockCalls = append(m.DeleteLockCalls, lockID)
	return nil
}

// CreateBooking records the booking.
func (m *MockIntraClient) CreateBooking(_ context.Context, scaleID, teamID, userID int, beginAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["CreateBooking"]; err != nil {
		return err
	}
	m.BookingCalls = append(m.BookingCalls, BookingCall{ScaleID: scaleID, TeamID: teamID, UserID: userID, BeginAt: beginAt})
	return nil
}

// CreatePlaceholder records the placeholder creation.
func (m *MockIntraClient) CreatePlaceholder(_ context.Context, scaleID, teamID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["CreatePlaceholder"]; err != nil {
		return err
	}
	m.PlaceholderCalls = append(m.PlaceholderCalls, [2]int{scaleID, teamID})
	return nil
}

// UserByID returns the configured identity.
func (m *MockIntraClient) UserByID(_ context.Context, userID int) (*types.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["UserByID"]; err != nil {
		return nil, err
	}
	user, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d not configured", userID)
	}
	return user, nil
}

// UserByLogin returns the configured identity.
func (m *MockIntraClient) UserByLogin(_ context.Context, login string) (*types.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["UserByLogin"]; err != nil {
		return nil, err
	}
	user, ok := m.usersByName[login]
	if !ok {
		return nil, fmt.Errorf("user %q not configured", login)
	}
	return user, nil
}

// ProficiencyLevel returns the configured level, or the not-found sentinel.
func (m *MockIntraClient) ProficiencyLevel(_ context.Context, userID int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LevelLookups = append(m.LevelLookups, userID)
	if err := m.errors["ProficiencyLevel"]; err != nil {
		return types.LevelNotFound, err
	}
	level, ok := m.levels[userID]
	if !ok {
		return types.LevelNotFound, nil
	}
	return level, nil
}

// AddToGroup records the membership change.
func (m *MockIntraClient) AddToGroup(_ context.Context, groupID, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["AddToGroup"]; err != nil {
		return err
	}
	m.GroupChanges = append(m.GroupChanges, fmt.Sprintf("add %d/%d", groupID, userID))
	return nil
}

// RemoveFromGroup records the membership change.
func (m *MockIntraClient) RemoveFromGroup(_ context.Context, groupID, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["RemoveFromGroup"]; err != nil {
		return err
	}
	m.GroupChanges = append(m.GroupChanges, fmt.Sprintf("remove %d/%d", groupID, userID))
	return nil
}
