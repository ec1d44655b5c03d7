package intra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

// Evaluation-related constants.
const (
	perPageLimit       = 100                // intra API page[size] limit
	beginAtFormat      = "2006-01-02 15:04:00 MST" // wire format expected by scale_teams
	placeholderLeadDur = 7 * 24 * time.Hour // placeholders are parked a week out
)

// scaleTeamData is the wire shape of a scale_team (an evaluation).
type scaleTeamData struct {
	ID        int    `json:"id"`
	ScaleID   int    `json:"scale_id"`
	CreatedAt string `json:"created_at"`
	FinalMark *int   `json:"final_mark"`
	Corrector *struct {
		ID    int    `json:"id"`
		Login string `json:"login"`
	} `json:"corrector"`
	Correcteds []struct {
		ID    int    `json:"id"`
		Login string `json:"login"`
	} `json:"correcteds"`
	Team struct {
		ID        int `json:"id"`
		ProjectID int `json:"project_id"`
	} `json:"team"`
	Scale struct {
		ID               int `json:"id"`
		CorrectionNumber int `json:"correction_number"`
	} `json:"scale"`
}

// CompletedEvaluations fetches the evaluations done so far for one team on
// one scale, ordered oldest first.
func (c *Client) CompletedEvaluations(ctx context.Context, projectID, scaleID, teamID int) ([]types.EvaluationRecord, error) {
	q := query(map[string]string{
		"filter[scale_id]": strconv.Itoa(scaleID),
		"filter[team_id]":  strconv.Itoa(teamID),
	})
	path := fmt.Sprintf("/projects/%d/scale_teams?%s", projectID, q)

	var raw []scaleTeamData
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch evaluations for team %d: %w", teamID, err)
	}

	records := make([]types.EvaluationRecord, 0, len(raw))
	for i := range raw {
		records = append(records, raw[i].toEvaluationRecord())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// PendingLocks fetches all future placeholder evaluations held by the bot's
// service account. These are the claimable peer++ review slots.
func (c *Client) PendingLocks(ctx context.Context) ([]types.PendingLock, error) {
	var locks []types.PendingLock

	for page := 1; ; page++ {
		q := query(map[string]string{
			"filter[future]": "true",
			"page[number]":   strconv.Itoa(page),
			"page[size]":     strconv.Itoa(perPageLimit),
		})
		path := fmt.Sprintf("/users/%d/scale_teams?%s", c.botUID, q)

		var raw []scaleTeamData
		if err := c.getJSON(ctx, path, &raw); err != nil {
			return nil, fmt.Errorf("failed to fetch pending locks: %w", err)
		}
		if len(raw) == 0 {
			break
		}

		for i := range raw {
			locks = append(locks, raw[i].toPendingLock())
		}
		if len(raw) < perPageLimit {
			break
		}
	}

	return locks, nil
}

// DeleteLock removes one placeholder evaluation upstream.
func (c *Client) DeleteLock(ctx context.Context, lockID int) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/scale_teams/%d", lockID), nil)
	if err != nil {
		return fmt.Errorf("failed to delete lock %d: %w", lockID, err)
	}
	defer drainAndCloseBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		slog.Info("Deleted evaluation lock", "lock_id", lockID)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("lock %d: %w", lockID, ErrNotFound)
	default:
		return fmt.Errorf("failed to delete lock %d: status %d", lockID, resp.StatusCode)
	}
}

// CreateBooking books an evaluation of the given team by the given user.
// A conflict response means the slot was already claimed or the team is no
// longer bookable; callers must treat that as a normal outcome.
func (c *Client) CreateBooking(ctx context.Context, scaleID, teamID, userID int, beginAt time.Time) error {
	return c.createScaleTeam(ctx, scaleID, teamID, userID, beginAt)
}

// CreatePlaceholder parks a placeholder evaluation for the bot's own service
// account a week out, reserving the team for a future peer++ review.
func (c *Client) CreatePlaceholder(ctx context.Context, scaleID, teamID int) error {
	beginAt := c.clock.Now().Add(placeholderLeadDur)
	if err := c.createScaleTeam(ctx, scaleID, teamID, c.botUID, beginAt); err != nil {
		return fmt.Errorf("failed to create placeholder: %w", err)
	}
	slog.Info("Created placeholder evaluation", "scale_id", scaleID, "team_id", teamID, "begin_at", beginAt.UTC().Format(beginAtFormat))
	return nil
}

// createScaleTeam posts a scale_teams/multiple_create mutation. The intra
// API expects all ids as strings and begin_at in UTC.
func (c *Client) createScaleTeam(ctx context.Context, scaleID, teamID, userID int, beginAt time.Time) error {
	payload := map[string]any{
		"scale_teams": []map[string]string{{
			"begin_at": beginAt.UTC().Format(beginAtFormat),
			"scale_id": strconv.Itoa(scaleID),
			"team_id":  strconv.Itoa(teamID),
			"user_id":  strconv.Itoa(userID),
		}},
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/scale_teams/multiple_create", payload)
	if err != nil {
		return fmt.Errorf("failed to create scale team: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		// The placeholder no longer exists or the team is already booked.
		return fmt.Errorf("scale team %d/%d: %w", scaleID, teamID, ErrConflict)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("scale team %d/%d: %w", scaleID, teamID, ErrNotFound)
	default:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 512))
		if readErr != nil {
			return fmt.Errorf("failed to create scale team: status %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to create scale team: status %d: %s", resp.StatusCode, string(body))
	}
}

// toEvaluationRecord converts the wire shape into the typed record used by
// the eligibility engine.
func (s *scaleTeamData) toEvaluationRecord() types.EvaluationRecord {
	record := types.EvaluationRecord{
		CreatedAt:           parseIntraTime(s.CreatedAt),
		FinalMark:           s.FinalMark,
		RequiredReviewCount: s.Scale.CorrectionNumber,
	}
	if s.Corrector != nil && s.Corrector.ID != 0 {
		record.Corrector = &types.Identity{ID: s.Corrector.ID, Login: s.Corrector.Login}
	}
	return record
}

// toPendingLock converts the wire shape into a pending lock entry.
func (s *scaleTeamData) toPendingLock() types.PendingLock {
	lock := types.PendingLock{
		LockID:    s.ID,
		ScaleID:   s.ScaleID,
		TeamID:    s.Team.ID,
		ProjectID: s.Team.ProjectID,
		CreatedAt: parseIntraTime(s.CreatedAt),
	}
	for _, corrected := range s.Correcteds {
		lock.Subjects = append(lock.Subjects, types.Identity{ID: corrected.ID, Login: corrected.Login})
	}
	return lock
}

// parseIntraTime parses an intra timestamp, falling back to the zero time
// (a malformed record then sorts as oldest instead of being dropped).
func parseIntraTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		slog.Warn("Failed to parse intra timestamp", "value", value, "error", err)
		return time.Time{}
	}
	return t
}
