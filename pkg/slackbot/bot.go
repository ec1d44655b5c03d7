package slackbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peerpp-dev/peerpp-bot/pkg/booking"
	"github.com/peerpp-dev/peerpp-bot/pkg/metrics"
	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

const helpText = "```" + `
help                           Show this help.
list-projects                  List all projects a peer++ evaluator can evaluate.
list-evaluations               List evaluations currently locked by the peer++ bot.
book-evaluation <PROJECT>      Book the longest-waiting evaluation for a project.
` + "```"

// Messenger is the subset of the Slack client the bot needs.
type Messenger interface {
	PostMessage(ctx context.Context, channel, text string) error
	DisplayName(ctx context.Context, slackUserID string) (string, error)
	SendDirectMessage(ctx context.Context, slackUserID, text string)
	LookupByEmail(ctx context.Context, email string) (string, error)
}

// Queues lists the pending review queues.
type Queues interface {
	ListPendingReviews(ctx context.Context) ([]types.ProjectQueue, error)
}

// Claimer runs the booking protocol.
type Claimer interface {
	Claim(ctx context.Context, reviewer *types.Identity, projectName string) booking.Result
}

// Resolver maps Slack senders and booked subjects onto intra users.
type Resolver interface {
	UserByLogin(ctx context.Context, login string) (*types.Identity, error)
	UserByID(ctx context.Context, userID int) (*types.Identity, error)
}

// Clock lets tests control time.
type Clock interface {
	Now() time.Time
}

// Bot routes DM commands from qualified reviewers.
type Bot struct {
	messenger Messenger
	queues    Queues
	claimer   Claimer
	resolver  Resolver
	clock     Clock
	metrics   *metrics.Metrics
	projects  []types.Project
}

// New creates the command bot. Metrics may be nil.
func New(messenger Messenger, queues Queues, claimer Claimer, resolver Resolver, clock Clock, m *metrics.Metrics, projects []types.Project) *Bot {
	return &Bot{
		messenger: messenger,
		queues:    queues,
		claimer:   claimer,
		resolver:  resolver,
		clock:     clock,
		metrics:   m,
		projects:  projects,
	}
}

// HandleMessage dispatches one DM command and replies in the same channel.
func (b *Bot) HandleMessage(ctx context.Context, slackUserID, channel, text string) {
	reply := func(text string) {
		if err := b.messenger.PostMessage(ctx, channel, text); err != nil {
			slog.Warn("Failed to post reply", "channel", channel, "error", err)
		}
	}

	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		reply(helpText)
		return
	}

	switch fields[0] {
	case "help":
		reply(helpText)
	case "list-projects":
		reply(b.formatProjects())
	case "list-evaluations":
		reply(b.formatEvaluations(ctx))
	case "book-evaluation":
		if len(fields) < 2 {
			reply(b.formatProjects())
			return
		}
		reply(b.bookEvaluation(ctx, slackUserID, fields[1]))
	default:
		reply(fmt.Sprintf("Command `%s` not recognized, see `help` for more info.", fields[0]))
	}
}

// formatProjects lists the watched projects.
func (b *Bot) formatProjects() string {
	var sb strings.Builder
	sb.WriteString("Projects a peer++ evaluator can evaluate:\n")
	for _, project := range b.projects {
		fmt.Fprintf(&sb, "- `%s`\n", project.Name)
	}
	return sb.String()
}

// formatEvaluations shows an aggregate view of the pending queues, highest
// priority first.
func (b *Bot) formatEvaluations(ctx context.Context) string {
	queues, err := b.queues.ListPendingReviews(ctx)
	if err != nil {
		slog.Warn("Failed to list pending reviews", "error", err)
		return "Failed to fetch pending evaluations, try again later."
	}
	if len(queues) == 0 {
		return "Currently, no-one needs to be evaluated."
	}

	now := b.clock.Now()
	var sb strings.Builder
	sb.WriteString("Pending evaluations, highest priority first:\n")
	for _, queue := range queues {
		waited := now.Sub(queue.Locks[0].CreatedAt).Round(time.Minute)
		fmt.Fprintf(&sb, "`%s | %d teams | waiting %s`\n", queue.ProjectName, len(queue.Locks), waited)
	}
	return sb.String()
}

// bookEvaluation maps the sender onto an intra user, runs the claim, and
// notifies the booked subjects.
func (b *Bot) bookEvaluation(ctx context.Context, slackUserID, projectName string) string {
	login, err := b.messenger.DisplayName(ctx, slackUserID)
	if err != nil || login == "" {
		slog.Warn("Failed to resolve Slack display name", "user", slackUserID, "error", err)
		return "Could not read your Slack display name; it must match your intra login."
	}

	reviewer, err := b.resolver.UserByLogin(ctx, login)
	if err != nil {
		slog.Warn("Failed to match Slack user to intra user", "login", login, "error", err)
		return fmt.Sprintf("Could not match `%s` to an intra user.", login)
	}

	result := b.claimer.Claim(ctx, reviewer, projectName)
	b.countClaim(result.Outcome)
	if result.Booked() {
		b.notifySubjects(ctx, reviewer, result.Subjects, projectName)
		return result.Message + "\n" + formatSubjects(result.Subjects)
	}
	return result.Message
}

// notifySubjects DMs every subject of the claimed lock. Subjects are looked
// up on intra for their email, which keys the Slack profile lookup.
func (b *Bot) notifySubjects(ctx context.Context, reviewer *types.Identity, subjects []types.Identity, projectName string) {
	text := fmt.Sprintf("You will be evaluated by %s on your `%s`.\nContact them to settle on a time.", reviewer.Login, projectName)
	for _, subject := range subjects {
		full, err := b.resolver.UserByID(ctx, subject.ID)
		if err != nil || full.Email == "" {
			b.countDM(false)
			slog.Warn("Failed to resolve subject for notification", "subject", subject.Login, "error", err)
			continue
		}
		slackID, err := b.messenger.LookupByEmail(ctx, full.Email)
		if err != nil {
			b.countDM(false)
			slog.Warn("Failed to find Slack account for subject", "subject", subject.Login, "error", err)
			continue
		}
		b.messenger.SendDirectMessage(ctx, slackID, text)
		b.countDM(true)
	}
}

func formatSubjects(subjects []types.Identity) string {
	logins := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		logins = append(logins, "@"+subject.Login)
	}
	return "You will evaluate: " + strings.Join(logins, " ")
}

func (b *Bot) countClaim(outcome booking.Outcome) {
	if b.metrics == nil {
		return
	}
	label := map[booking.Outcome]string{
		booking.OutcomeBooked:         "booked",
		booking.OutcomeUnknownProject: "unknown_project",
		booking.OutcomeUnavailable:    "unavailable",
		booking.OutcomeSourceError:    "source_error",
		booking.OutcomeCleanupFailed:  "cleanup_failed",
	}[outcome]
	b.metrics.Bookings.WithLabelValues(label).Inc()
}

func (b *Bot) countDM(sent bool) {
	if b.metrics == nil {
		return
	}
	status := "failed"
	if sent {
		status = "sent"
	}
	b.metrics.DirectMessages.WithLabelValues(status).Inc()
}
