package intra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

// userData is the wire shape of an intra user.
type userData struct {
	ID          int    `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"displayname"`
	Email       string `json:"email"`
	CursusUsers []struct {
		CursusID int     `json:"cursus_id"`
		Level    float64 `json:"level"`
	} `json:"cursus_users"`
}

func (u *userData) toIdentity() *types.Identity {
	return &types.Identity{
		ID:          u.ID,
		Login:       u.Login,
		DisplayName: u.DisplayName,
		Email:       u.Email,
	}
}

// UserByID fetches a user by their intra user id.
func (c *Client) UserByID(ctx context.Context, userID int) (*types.Identity, error) {
	var user userData
	if err := c.getJSON(ctx, fmt.Sprintf("/users/%d", userID), &user); err != nil {
		return nil, fmt.Errorf("failed to fetch user %d: %w", userID, err)
	}
	return user.toIdentity(), nil
}

// UserByLogin fetches a user by their intra login.
func (c *Client) UserByLogin(ctx context.Context, login string) (*types.Identity, error) {
	path := "/users?filter[login]=" + url.QueryEscape(login)

	var users []userData
	if err := c.getJSON(ctx, path, &users); err != nil {
		return nil, fmt.Errorf("failed to look up user %q: %w", login, err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %q: %w", login, ErrNotFound)
	}
	return users[0].toIdentity(), nil
}

// ProficiencyLevel returns the user's level in the tracked cursus, or the
// LevelNotFound sentinel when the user is not enrolled in it.
func (c *Client) ProficiencyLevel(ctx context.Context, userID int) (float64, error) {
	var user userData
	if err := c.getJSON(ctx, fmt.Sprintf("/users/%d", userID), &user); err != nil {
		return types.LevelNotFound, fmt.Errorf("failed to fetch user %d: %w", userID, err)
	}

	for _, cu := range user.CursusUsers {
		if cu.CursusID == c.cursusID {
			return cu.Level, nil
		}
	}
	slog.Info("User not enrolled in tracked cursus", "user_id", userID, "cursus_id", c.cursusID)
	return types.LevelNotFound, nil
}

// groupsUserData is the wire shape of a group membership record.
type groupsUserData struct {
	ID    int `json:"id"`
	Group struct {
		ID int `json:"id"`
	} `json:"group"`
}

// AddToGroup adds a user to an intra group. Adding an existing member is
// reported upstream as unprocessable and treated as success.
func (c *Client) AddToGroup(ctx context.Context, groupID, userID int) error {
	payload := map[string]any{
		"groups_user": map[string]int{"group_id": groupID, "user_id": userID},
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/groups_users", payload)
	if err != nil {
		return fmt.Errorf("failed to add user %d to group %d: %w", userID, groupID, err)
	}
	defer drainAndCloseBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		slog.Info("Added user to group", "user_id", userID, "group_id", groupID)
		return nil
	case http.StatusUnprocessableEntity:
		slog.Info("User already in group", "user_id", userID, "group_id", groupID)
		return nil
	default:
		return fmt.Errorf("failed to add user %d to group %d: status %d", userID, groupID, resp.StatusCode)
	}
}

// RemoveFromGroup removes a user from an intra group. Membership records are
// keyed by their own id upstream, so the user's memberships are listed first.
func (c *Client) RemoveFromGroup(ctx context.Context, groupID, userID int) error {
	var memberships []groupsUserData
	if err := c.getJSON(ctx, fmt.Sprintf("/users/%d/groups_users", userID), &memberships); err != nil {
		return fmt.Errorf("failed to list groups of user %d: %w", userID, err)
	}

	for _, membership := range memberships {
		if membership.Group.ID != groupID {
			continue
		}
		resp, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/groups_users/%d", membership.ID), nil)
		if err != nil {
			return fmt.Errorf("failed to remove user %d from group %d: %w", userID, groupID, err)
		}
		drainAndCloseBody(resp.Body)
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to remove user %d from group %d: status %d", userID, groupID, resp.StatusCode)
		}
		slog.Info("Removed user from group", "user_id", userID, "group_id", groupID)
		return nil
	}
	return fmt.Errorf("user %d is not a member of group %d: %w", userID, groupID, ErrNotFound)
}
