// Package main implements the peer++ admin CLI: group membership for the
// reviewer pool, queue inspection, and operator token minting.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/config"
	"github.com/peerpp-dev/peerpp-bot/pkg/intra"
	"github.com/peerpp-dev/peerpp-bot/pkg/lockcache"
	"github.com/peerpp-dev/peerpp-bot/pkg/opstoken"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [args]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  group add <login>     Add a user to the peer++ reviewer group\n")
	fmt.Fprintf(os.Stderr, "  group remove <login>  Remove a user from the peer++ reviewer group\n")
	fmt.Fprintf(os.Stderr, "  locks                 Print the pending review queues\n")
	fmt.Fprintf(os.Stderr, "  token <operator>      Mint an operator token for the ops endpoints\n")
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var runErr error
	switch args[0] {
	case "group":
		runErr = runGroup(ctx, cfg, args[1:])
	case "locks":
		runErr = runLocks(ctx, cfg)
	case "token":
		runErr = runToken(cfg, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

func newClient(ctx context.Context, cfg *config.Config) (*intra.Client, error) {
	return intra.New(ctx, intra.Config{
		BaseURL:      cfg.IntraBaseURL,
		ClientID:     cfg.IntraClientID,
		ClientSecret: cfg.IntraClientSecret,
		BotUID:       cfg.BotUID,
		CursusID:     cfg.CursusID,
		HTTPTimeout:  30 * time.Second,
	})
}

// runGroup adds or removes a user from the peer++ reviewer group.
func runGroup(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 || (args[0] != "add" && args[0] != "remove") {
		return fmt.Errorf("usage: group <add|remove> <login>")
	}
	if cfg.PeerppGroupID <= 0 {
		return fmt.Errorf("peerpp_group_id is not configured")
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	login := args[1]
	user, err := client.UserByLogin(ctx, login)
	if err != nil {
		return fmt.Errorf("user %q: %w", login, err)
	}

	switch args[0] {
	case "add":
		if err := client.AddToGroup(ctx, cfg.PeerppGroupID, user.ID); err != nil {
			return err
		}
		fmt.Printf("User %s was added to the Peer++ group\n", login)
	case "remove":
		if err := client.RemoveFromGroup(ctx, cfg.PeerppGroupID, user.ID); err != nil {
			return err
		}
		fmt.Printf("User %s was removed from the Peer++ group\n", login)
	}
	return nil
}

// runLocks prints the pending review queues, highest priority first.
func runLocks(ctx context.Context, cfg *config.Config) error {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	cache := lockcache.New(client, systemClock{}, lockcache.Config{
		TTL:      time.Duration(cfg.TTLSeconds) * time.Second,
		Projects: cfg.WatchedProjects(),
	})

	queues, err := cache.ListPendingReviews(ctx)
	if err != nil {
		return err
	}
	if len(queues) == 0 {
		fmt.Println("No pending peer++ evaluations.")
		return nil
	}

	now := time.Now()
	for _, queue := range queues {
		fmt.Printf("%s (%d teams)\n", queue.ProjectName, len(queue.Locks))
		for _, lock := range queue.Locks {
			fmt.Printf("  lock %d  team %d  waiting %s\n",
				lock.LockID, lock.TeamID, now.Sub(lock.CreatedAt).Round(time.Minute))
		}
	}
	return nil
}

// runToken mints an operator token for the ops endpoints.
func runToken(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: token <operator>")
	}
	if cfg.OpsTokenSecret == "" {
		return fmt.Errorf("ops_token_secret is not configured")
	}

	token, err := opstoken.Mint([]byte(cfg.OpsTokenSecret), args[0], opstoken.DefaultTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// systemClock satisfies lockcache.Clock with real time.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
