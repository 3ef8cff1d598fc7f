package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/swarmnet/validator/internal/gate"
	"github.com/swarmnet/validator/internal/models"
	"github.com/swarmnet/validator/internal/policy"
	"github.com/swarmnet/validator/internal/replay"
)

// Paths and environment variables the evaluation image contracts on.
const (
	sharedMount = "/shared"
	modelMount  = "/model"

	taskFile   = "task.json"
	resultFile = "result.json"
	modelFile  = "policy.zip"
)

// scoreTolerance is how far the sandbox-reported score may drift from
// the deterministic replay before the report is treated as adversarial.
const scoreTolerance = 0.05

// resultDoc is the document the evaluation sandbox writes to
// /shared/result.json.
type resultDoc struct {
	Success     bool             `json:"success"`
	SimTime     float64          `json:"sim_time"`
	Energy      float64          `json:"energy"`
	Score       float64          `json:"score"`
	Plan        []models.Command `json:"plan"`
	Error       string           `json:"error"`
	IsFakeModel bool             `json:"is_fake_model"`
	FakeReason  string           `json:"fake_reason"`
	Inspection  map[string]any   `json:"inspection_results"`
}

// VerifyOutcome is the terminal state of a verify-only run. Exactly one
// of the three states holds: Fake set (adversarial), Err set (the run
// could not complete), or neither (legitimate).
type VerifyOutcome struct {
	Fake *models.FakeModelInfo
	Err  *models.ExecError
}

// Orchestrator runs admitted artifacts through sandboxed evaluation.
// Evaluate never returns an error: every failure mode degrades to a
// zero-score result carrying a typed error.
type Orchestrator struct {
	Runner       Runner
	Host         *Host
	Engine       *replay.Engine
	EvalLimits   Limits
	VerifyLimits Limits
	// WorkDir holds per-run shared directories. Empty means the system
	// temp directory.
	WorkDir string
}

// Evaluate runs one admitted artifact against the round task.
func (o *Orchestrator) Evaluate(ctx context.Context, entry gate.Entry, task models.Task) models.EvaluationResult {
	started := time.Now()
	result := func(errType models.ErrorType, msg string) models.EvaluationResult {
		r := models.ZeroResult(entry.ParticipantID, errType, msg)
		r.StartedAt = started
		r.EndedAt = time.Now()
		return r
	}

	if err := o.Host.EnsureReady(ctx); err != nil {
		return result(models.ErrSandboxUnavailable, err.Error())
	}

	// Cheap pre-flight: artifacts without declared metadata never reach
	// a sandbox.
	hasMeta, err := policy.HasMetadata(entry.Path)
	if err != nil {
		return result(models.ErrArtifactMalformed, err.Error())
	}
	if !hasMeta {
		return result(models.ErrMetadataMissing, "artifact declares no policy metadata")
	}

	name := fmt.Sprintf("swarm-eval-%s-%s", entry.ParticipantID, shortUUID())
	sharedDir, modelDir, cleanup, err := o.stageRun(task, entry.Path)
	if err != nil {
		return result(models.ErrSandboxSetupFailed, err.Error())
	}
	defer cleanup()
	defer o.teardown(name)

	status, err := o.Runner.Run(ctx, RunSpec{
		Name:      name,
		Image:     o.Host.Tag(),
		SharedDir: sharedDir,
		ModelDir:  modelDir,
		Env: map[string]string{
			"TASK_PATH":   sharedMount + "/" + taskFile,
			"RESULT_PATH": sharedMount + "/" + resultFile,
			"MODEL_PATH":  modelMount + "/" + modelFile,
		},
		Limits: o.EvalLimits,
	})
	if err != nil {
		return result(models.ErrSandboxSetupFailed, err.Error())
	}
	if status.TimedOut {
		return result(models.ErrEvaluationTimeout,
			fmt.Sprintf("evaluation exceeded %s", o.EvalLimits.Timeout))
	}
	if status.ExitCode != 0 {
		return result(models.ErrEvaluationCrashed,
			fmt.Sprintf("sandbox exited with code %d", status.ExitCode))
	}

	doc, err := readResultDoc(filepath.Join(sharedDir, resultFile))
	if err != nil {
		if os.IsNotExist(err) {
			return result(models.ErrResultMissing, "sandbox produced no result document")
		}
		return result(models.ErrResultMalformed, err.Error())
	}

	if doc.Error != "" {
		return result(models.ErrEvaluationReported, doc.Error)
	}
	if doc.IsFakeModel {
		r := result(models.ErrWeightsUnsafe, "evaluation-time inspection flagged artifact")
		r.Fake = &models.FakeModelInfo{Reason: doc.FakeReason, Inspection: doc.Inspection}
		return r
	}
	if !finite(doc.SimTime) || !finite(doc.Energy) || !finite(doc.Score) {
		return result(models.ErrResultScoreInvalid, "non-finite value in result document")
	}

	// The sandbox report is never trusted for scoring. The returned
	// action plan is replayed deterministically and the score is
	// recomputed from the replayed flight.
	outcome, err := o.Engine.Replay(task, models.ActionPlan{Commands: doc.Plan})
	if err != nil {
		return result(models.ErrInternalError, fmt.Sprintf("replaying action plan: %s", err))
	}

	score := replay.FinalScore(
		replay.Reward(outcome.Success, outcome.SimTimeSec, outcome.Energy, task.HorizonSec),
		false)

	r := models.EvaluationResult{
		ParticipantID: entry.ParticipantID,
		Success:       outcome.Success,
		SimTimeSec:    outcome.SimTimeSec,
		Energy:        outcome.Energy,
		Score:         score,
		StartedAt:     started,
		EndedAt:       time.Now(),
	}

	// A self-reported score that disagrees with the replay means the
	// sandbox is lying about its flight.
	if doc.Score < 0 || doc.Score > 1 || math.Abs(doc.Score-score) > scoreTolerance {
		r.Success = false
		r.Score = 0
		r.Fake = &models.FakeModelInfo{
			Reason: fmt.Sprintf("reported score %.4f disagrees with replayed score %.4f", doc.Score, score),
		}
		r.Error = &models.ExecError{
			Type:    models.ErrResultScoreInvalid,
			Message: "reported score disagrees with deterministic replay",
		}
		return r
	}

	slog.Debug("evaluation complete",
		"participant", entry.ParticipantID,
		"success", r.Success,
		"score", r.Score,
		"sim_time", r.SimTimeSec)
	return r
}

// VerifyOnly loads the artifact inside a sandbox with tightened limits
// and no task, exercising only the load-and-inspect path.
func (o *Orchestrator) VerifyOnly(ctx context.Context, fingerprint, archivePath string) VerifyOutcome {
	fail := func(errType models.ErrorType, msg string) VerifyOutcome {
		return VerifyOutcome{Err: &models.ExecError{Type: errType, Message: msg}}
	}

	if err := o.Host.EnsureReady(ctx); err != nil {
		return fail(models.ErrSandboxUnavailable, err.Error())
	}

	hasMeta, err := policy.HasMetadata(archivePath)
	if err != nil {
		return fail(models.ErrArtifactMalformed, err.Error())
	}
	if !hasMeta {
		return fail(models.ErrMetadataMissing, "artifact declares no policy metadata")
	}

	fp := fingerprint
	if len(fp) > 8 {
		fp = fp[:8]
	}
	name := fmt.Sprintf("swarm-verify-%s-%s", fp, shortUUID())

	sharedDir, modelDir, cleanup, err := o.stageRun(models.Task{}, archivePath)
	if err != nil {
		return fail(models.ErrSandboxSetupFailed, err.Error())
	}
	defer cleanup()
	defer o.teardown(name)

	status, err := o.Runner.Run(ctx, RunSpec{
		Name:      name,
		Image:     o.Host.Tag(),
		SharedDir: sharedDir,
		ModelDir:  modelDir,
		Env: map[string]string{
			"VERIFY_ONLY": "1",
			"RESULT_PATH": sharedMount + "/" + resultFile,
			"MODEL_PATH":  modelMount + "/" + modelFile,
		},
		Limits: o.VerifyLimits,
	})
	if err != nil {
		return fail(models.ErrSandboxSetupFailed, err.Error())
	}
	if status.TimedOut {
		return fail(models.ErrEvaluationTimeout,
			fmt.Sprintf("verification exceeded %s", o.VerifyLimits.Timeout))
	}
	if status.ExitCode != 0 {
		return fail(models.ErrEvaluationCrashed,
			fmt.Sprintf("sandbox exited with code %d", status.ExitCode))
	}

	doc, err := readResultDoc(filepath.Join(sharedDir, resultFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fail(models.ErrResultMissing, "sandbox produced no result document")
		}
		return fail(models.ErrResultMalformed, err.Error())
	}
	if doc.Error != "" {
		return fail(models.ErrEvaluationReported, doc.Error)
	}
	if doc.IsFakeModel {
		return VerifyOutcome{Fake: &models.FakeModelInfo{
			Reason:     doc.FakeReason,
			Inspection: doc.Inspection,
		}}
	}
	return VerifyOutcome{}
}

// stageRun prepares the shared and model directories for one run. The
// artifact is copied so the cache stays untouched even if the run
// corrupts its mounts.
func (o *Orchestrator) stageRun(task models.Task, archivePath string) (sharedDir, modelDir string, cleanup func(), err error) {
	root, err := os.MkdirTemp(o.WorkDir, "swarm-run-")
	if err != nil {
		return "", "", nil, fmt.Errorf("creating run directory: %w", err)
	}
	cleanup = func() { os.RemoveAll(root) }

	sharedDir = filepath.Join(root, "shared")
	modelDir = filepath.Join(root, "model")
	for _, dir := range []string{sharedDir, modelDir} {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			cleanup()
			return "", "", nil, fmt.Errorf("creating %s: %w", dir, mkErr)
		}
	}

	taskJSON, err := json.Marshal(task)
	if err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("encoding task: %w", err)
	}
	if err = os.WriteFile(filepath.Join(sharedDir, taskFile), taskJSON, 0o644); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("writing task: %w", err)
	}

	if err = copyFile(archivePath, filepath.Join(modelDir, modelFile)); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("staging artifact: %w", err)
	}
	return sharedDir, modelDir, cleanup, nil
}

// teardown stops and removes the sandbox. Both operations are
// idempotent, so teardown after a clean exit is harmless.
func (o *Orchestrator) teardown(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.Runner.Kill(ctx, name); err != nil {
		slog.Warn("killing sandbox", "name", name, "error", err)
	}
	if err := o.Runner.Remove(ctx, name); err != nil {
		slog.Warn("removing sandbox", "name", name, "error", err)
	}
}

func readResultDoc(path string) (*resultDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc resultDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding result document: %w", err)
	}
	return &doc, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func shortUUID() string {
	return uuid.NewString()[:8]
}
