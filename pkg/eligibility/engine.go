// Package eligibility decides whether a team needs a supplementary peer++
// evaluation based on the quality of its prior reviewers.
package eligibility

import (
	"context"
	"errors"
	"log/slog"

	"github.com/peerpp-dev/peerpp-bot/pkg/types"
)

// ErrNoEvaluations is returned when the engine is invoked with an empty
// evaluation history. The webhook only fires after an evaluation completed,
// so an empty history is a logic error upstream.
var ErrNoEvaluations = errors.New("eligibility: no evaluations to inspect")

// DefaultSeniorityMargin is how many levels above the subject a prior
// corrector must be to count as sufficiently senior.
const DefaultSeniorityMargin = 4.0

// LevelResolver resolves a corrector's proficiency level.
type LevelResolver interface {
	ProficiencyLevel(ctx context.Context, userID int) (float64, error)
}

// Config tunes the quality-assurance policy.
type Config struct {
	// SeniorityMargin is the level headroom a single prior corrector needs
	// for the prior evaluation set to count as high-standard.
	SeniorityMargin float64
}

// Engine implements the peer++ eligibility decision.
type Engine struct {
	levels LevelResolver
	margin float64
}

// New creates an eligibility engine backed by the given level resolver. The
// margin is used as configured; zero is a valid policy (any corrector at or
// above the subject's level counts as senior), so defaulting is left to the
// config layer.
func New(levels LevelResolver, cfg Config) *Engine {
	return &Engine{levels: levels, margin: cfg.SeniorityMargin}
}

// Required reports whether the team needs an extra peer++ evaluation.
//
// The decision is only made when the team is one evaluation away from its
// required count (read from the most recent record, since the requirement
// can change mid-flight). One sufficiently senior prior corrector is enough
// to skip the extra review. Lookup failures degrade to "no extra review"
// rather than failing the request.
func (e *Engine) Required(ctx context.Context, subjectLevel float64, evals []types.EvaluationRecord) (bool, error) {
	if len(evals) == 0 {
		return false, ErrNoEvaluations
	}

	required := evals[len(evals)-1].RequiredReviewCount
	if len(evals) != required-1 {
		slog.Info("Not at the decision point for this team",
			"evaluations_done", len(evals), "evaluations_required", required)
		return false, nil
	}

	for i := range evals {
		eval := &evals[i]

		if eval.Corrector == nil {
			// A missing corrector means the subject abandoned the project.
			slog.Info("Evaluation has no corrector, skipping peer++ planning")
			return false, nil
		}
		if eval.FinalMark == nil {
			slog.Info("Evaluation not graded yet, skipping peer++ planning",
				"corrector", eval.Corrector.Login)
			return false, nil
		}

		level, err := e.levels.ProficiencyLevel(ctx, eval.Corrector.ID)
		if err != nil {
			slog.Warn("Failed to resolve corrector level, skipping peer++ planning",
				"corrector", eval.Corrector.Login, "error", err)
			return false, nil
		}
		if level == types.LevelNotFound {
			slog.Info("Corrector not enrolled in tracked cursus, skipping peer++ planning",
				"corrector", eval.Corrector.Login)
			return false, nil
		}

		if level-e.margin >= subjectLevel {
			slog.Info("Prior corrector is sufficiently senior, no peer++ evaluation needed",
				"corrector", eval.Corrector.Login, "corrector_level", level, "subject_level", subjectLevel)
			return false, nil
		}
	}

	slog.Info("No prior corrector met the seniority bar, peer++ evaluation required",
		"evaluations_done", len(evals), "subject_level", subjectLevel)
	return true, nil
}
