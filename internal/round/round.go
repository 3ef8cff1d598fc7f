// Package round drives one full evaluation round: refresh artifacts,
// verify new fingerprints, evaluate, score and publish weights.
package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swarmnet/validator/internal/aggregate"
	"github.com/swarmnet/validator/internal/gate"
	"github.com/swarmnet/validator/internal/models"
)

// Roster lists the participants eligible this round.
type Roster interface {
	Participants(ctx context.Context) ([]string, error)
}

// Evaluator runs one admitted artifact against the round task.
type Evaluator interface {
	Evaluate(ctx context.Context, entry gate.Entry, task models.Task) models.EvaluationResult
}

// Checker gates evaluation on the per-fingerprint verification pass.
type Checker interface {
	NeedsVerification(fingerprint string) bool
	Verify(ctx context.Context, entry gate.Entry) (models.Verdict, error)
	HandleAdversarial(entry gate.Entry, fake *models.FakeModelInfo) error
}

// Publisher emits the final weight vector. On-chain weight setting
// lives behind this interface.
type Publisher interface {
	Publish(ctx context.Context, seed int64, weights []models.Weight) error
}

// Runner orchestrates rounds. Artifact refresh runs concurrently up to
// FetchWidth; evaluation is strictly sequential so sandboxed runs never
// compete for the resource caps they are measured under.
type Runner struct {
	Roster    Roster
	Cache     *gate.Cache
	Checker   Checker
	Evaluator Evaluator
	Publisher Publisher

	TaskGen    TaskGen
	Beta       float64
	Burn       aggregate.BurnConfig
	FetchWidth int
}

// Run executes one round. Per-participant failures degrade to
// zero-score results; only roster, publish, or context failures abort
// the round.
func (r *Runner) Run(ctx context.Context, seed int64) (*models.RoundResult, error) {
	started := time.Now()
	task := r.TaskGen.Task(seed)

	ids, err := r.Roster.Participants(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	slog.Info("round started", "seed", seed, "participants", len(ids))

	entries, failures := r.refresh(ctx, ids)

	results := make([]models.EvaluationResult, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if failure, ok := failures[id]; ok {
			results = append(results, failure)
			continue
		}
		entry, ok := entries[id]
		if !ok {
			// Nothing valid to evaluate this round.
			continue
		}
		results = append(results, r.evaluate(ctx, entry, task))
	}

	scores := make(map[string]float64, len(results))
	evaluated, failed := 0, 0
	meanScore := 0.0
	for _, res := range results {
		scores[res.ParticipantID] = res.Score
		meanScore += res.Score
		if res.Error != nil {
			failed++
		} else {
			evaluated++
		}
	}
	if len(results) > 0 {
		meanScore /= float64(len(results))
	}

	weights := aggregate.ApplyBurn(aggregate.Boost(scores, r.Beta), r.Burn)

	result := &models.RoundResult{
		Seed:        seed,
		StartedAt:   started,
		EndedAt:     time.Now(),
		Evaluated:   evaluated,
		Failed:      failed,
		MeanScore:   meanScore,
		Results:     results,
		Weights:     weights,
		BurnApplied: r.Burn.Enabled,
	}

	if err := r.Publisher.Publish(ctx, seed, weights); err != nil {
		return result, fmt.Errorf("publishing weights: %w", err)
	}

	slog.Info("round complete",
		"seed", seed,
		"evaluated", evaluated,
		"failed", failed,
		"mean_score", meanScore,
		"duration", time.Since(started))
	return result, nil
}

// refresh fetches and re-admits every participant's artifact with
// bounded concurrency. Admission failures become typed zero results;
// a participant with nothing to evaluate appears in neither map.
func (r *Runner) refresh(ctx context.Context, ids []string) (map[string]gate.Entry, map[string]models.EvaluationResult) {
	var mu sync.Mutex
	entries := make(map[string]gate.Entry)
	failures := make(map[string]models.EvaluationResult)

	g, gctx := errgroup.WithContext(ctx)
	width := r.FetchWidth
	if width <= 0 {
		width = 8
	}
	g.SetLimit(width)

	for _, id := range ids {
		g.Go(func() error {
			entry, err := r.Cache.Refresh(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures[id] = refreshFailure(id, err)
			case entry != nil:
				entries[id] = *entry
			}
			return nil
		})
	}
	// The goroutines record failures per participant and never return an
	// error themselves.
	_ = g.Wait()

	return entries, failures
}

func refreshFailure(id string, err error) models.EvaluationResult {
	var reject *gate.RejectError
	if errors.As(err, &reject) {
		return models.ZeroResult(id, reject.ErrorType(), reject.Error())
	}
	return models.ZeroResult(id, models.ErrFetchFailed, err.Error())
}

// evaluate runs the verification gate and then the scored evaluation
// for one participant.
func (r *Runner) evaluate(ctx context.Context, entry gate.Entry, task models.Task) models.EvaluationResult {
	if r.Checker.NeedsVerification(entry.Fingerprint) {
		verdict, err := r.Checker.Verify(ctx, entry)
		if err != nil {
			// Transient: the fingerprint stays unverified and is
			// retried next round.
			return models.ZeroResult(entry.ParticipantID, models.ErrSandboxUnavailable, err.Error())
		}
		switch verdict.Kind {
		case models.VerdictAdversarial:
			return models.ZeroResult(entry.ParticipantID, models.ErrArtifactBlacklisted, verdict.Reason)
		case models.VerdictMissingMetadata:
			return models.ZeroResult(entry.ParticipantID, models.ErrMetadataMissing, verdict.Reason)
		}
	}

	result := r.Evaluator.Evaluate(ctx, entry, task)
	if result.Fake != nil {
		if err := r.Checker.HandleAdversarial(entry, result.Fake); err != nil {
			slog.Error("condemning artifact", "participant", entry.ParticipantID, "error", err)
		}
	}
	return result
}
