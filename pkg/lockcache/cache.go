// Package lockcache maintains a bounded-staleness snapshot of the pending
// peer++ review locks held by the bot's service account.
package lockcache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/metrics"
	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

// DefaultTTL bounds how stale the lock snapshot may get. Listing locks is a
// slow upstream query, so "what can I review?" requests are served from the
// snapshot within this window.
const DefaultTTL = 5 * time.Minute

// Source is the subset of the intra API the cache needs.
type Source interface {
	PendingLocks(ctx context.Context) ([]types.PendingLock, error)
	DeleteLock(ctx context.Context, lockID int) error
}

// Clock lets tests control time.
type Clock interface {
	Now() time.Time
}

// Cache holds the snapshot of pending locks.
//
// The mutex is held across the staleness check and the refresh, so
// concurrent callers during a stale window trigger exactly one upstream
// fetch; later callers block until the snapshot is fresh.
type Cache struct {
	source   Source
	clock    Clock
	metrics  *metrics.Metrics
	projects map[int]string
	raw      []types.PendingLock
	lastSync time.Time
	ttl      time.Duration
	synced   bool
	mu       sync.Mutex
}

// Config holds configuration for creating a lock cache.
type Config struct {
	Metrics  *metrics.Metrics // optional
	TTL      time.Duration
	Projects []types.Project // watched projects, used to resolve queue names
}

// New creates a lock cache over the given source.
func New(source Source, clock Clock, cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	projects := make(map[int]string, len(cfg.Projects))
	for _, p := range cfg.Projects {
		projects[p.ID] = p.Name
	}
	return &Cache{
		source:   source,
		clock:    clock,
		metrics:  cfg.Metrics,
		projects: projects,
		ttl:      ttl,
	}
}

// ListPendingReviews returns the pending review queues grouped by project.
// Queues are ordered oldest-waiting first, as is each queue's lock list.
//
// Within the TTL window the snapshot is served without contacting the
// source. A failed refresh falls back to the last good snapshot when one
// exists; the next call past the TTL retries.
func (c *Cache) ListPendingReviews(ctx context.Context) ([]types.ProjectQueue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if !c.synced || now.Sub(c.lastSync) >= c.ttl {
		locks, err := c.source.PendingLocks(ctx)
		if err != nil {
			if !c.synced {
				return nil, fmt.Errorf("failed to fetch pending locks: %w", err)
			}
			if c.metrics != nil {
				c.metrics.CacheStaleServes.Inc()
			}
			slog.Warn("Failed to refresh lock snapshot, serving stale data",
				"age", now.Sub(c.lastSync).Round(time.Second), "error", err)
		} else {
			c.raw = locks
			c.lastSync = now
			c.synced = true
			if c.metrics != nil {
				c.metrics.CacheRefreshes.Inc()
			}
			slog.Info("Refreshed lock snapshot", "locks", len(locks))
		}
	}

	return c.buildQueues(), nil
}

// RetireLock deletes one placeholder upstream. The snapshot is not updated;
// the deletion becomes visible after the next TTL-expired refresh, so
// callers must not assume immediate consistency.
func (c *Cache) RetireLock(ctx context.Context, lockID int) error {
	return c.source.DeleteLock(ctx, lockID)
}

// Flush discards the snapshot so the next call refetches, regardless of TTL.
// Used by the operator endpoint after manual upstream surgery.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = nil
	c.synced = false
	slog.Info("Lock snapshot flushed")
}

// buildQueues groups the raw snapshot by project id and applies the queue
// ordering. Caller must hold c.mu.
func (c *Cache) buildQueues() []types.ProjectQueue {
	byProject := make(map[int]*types.ProjectQueue)
	for _, lock := range c.raw {
		queue, ok := byProject[lock.ProjectID]
		if !ok {
			queue = &types.ProjectQueue{
				ProjectID:   lock.ProjectID,
				ProjectName: c.projectName(lock.ProjectID),
			}
			byProject[lock.ProjectID] = queue
		}
		queue.Locks = append(queue.Locks, lock)
	}

	queues := make([]types.ProjectQueue, 0, len(byProject))
	for _, queue := range byProject {
		sort.Slice(queue.Locks, func(i, j int) bool {
			return queue.Locks[i].CreatedAt.Before(queue.Locks[j].CreatedAt)
		})
		queues = append(queues, *queue)
	}
	// Oldest head lock first: the longest-waiting project has priority.
	sort.Slice(queues, func(i, j int) bool {
		return queues[i].Locks[0].CreatedAt.Before(queues[j].Locks[0].CreatedAt)
	})
	return queues
}

// projectName resolves a project id through the watched-project registry.
// Locks for unknown projects stay visible under a synthesized name.
func (c *Cache) projectName(projectID int) string {
	if name, ok := c.projects[projectID]; ok {
		return name
	}
	return fmt.Sprintf("project-%d", projectID)
}
