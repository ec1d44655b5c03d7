package testutil

import "time"

// MockTimeProvider is a controllable clock for tests. It satisfies the Clock
// interfaces of the cache, booking, and bot packages as well as
// intra.TimeProvider.
type MockTimeProvider struct {
	CurrentTime time.Time
}

// NewMockTimeProvider creates a new MockTimeProvider with the given current time.
func NewMockTimeProvider(now time.Time) *MockTimeProvider {
	return &MockTimeProvider{CurrentTime: now}
}

// Now returns the configured current time.
func (m *MockTimeProvider) Now() time.Time {
	return m.CurrentTime
}

// Advance advances the mock time by the given duration.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.CurrentTime = m.CurrentTime.Add(d)
}
