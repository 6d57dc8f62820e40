// Package pipeline implements the Pipeline Runner (C10): it drives a
// workflow's stage list through the substrate (C1-C4), enforces the
// budget pre-gate via the Cost Tracker (C6), and persists a run-level
// manifest. Grounded on the teacher's pipeline.Coordinator
// (pipeline/coordinator.go), which is the same shape — resolve
// configuration and credentials, walk an ordered list of steps,
// persist a summary — generalized here from a single video-transcode
// strategy to the spec's workflow-dependent stage list and resume
// semantics.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/cp-whisperx/pipeline/collaborators"
	"github.com/cp-whisperx/pipeline/config"
	"github.com/cp-whisperx/pipeline/cost"
	cperrors "github.com/cp-whisperx/pipeline/errors"
	"github.com/cp-whisperx/pipeline/glossary"
	"github.com/cp-whisperx/pipeline/glossarycache"
	"github.com/cp-whisperx/pipeline/jobconfig"
	"github.com/cp-whisperx/pipeline/log"
	"github.com/cp-whisperx/pipeline/manifest"
	"github.com/cp-whisperx/pipeline/media"
	"github.com/cp-whisperx/pipeline/registry"
	"github.com/cp-whisperx/pipeline/stage"
	"github.com/cp-whisperx/pipeline/userprofile"
)

// Environment is everything a StageExecutor needs to do its work: the
// resolved config, the user's profile, and handles onto the
// cross-cutting components a stage may call into.
type Environment struct {
	Descriptor *JobDescriptor
	Config     *viper.Viper
	Profile    *userprofile.Profile
	Cost       *cost.Tracker
	Glossary   *glossary.Manager
	Media      *media.Adapter
}

// StageExecutor implements one stage's actual work. The substrate never
// ships ML/ffmpeg/third-party logic itself (spec's collaborator
// boundary); a StageExecutor is how the composing binary plugs that
// logic in.
type StageExecutor func(ctx context.Context, h *stage.Handle, env *Environment) (manifest.Status, error)

// Dependencies wires everything the Runner needs from the rest of the
// substrate plus the caller-supplied stage logic.
type Dependencies struct {
	ConfigResolver     *jobconfig.Resolver
	ProfileStore       *userprofile.Store
	LegacySecretsPath  string
	PricingTable       cost.PricingTable
	CostStorageDir     string
	GlossaryCache      *glossarycache.Cache
	GlossaryProjectRoot string
	MediaCacheDir      string
	Downloader         collaborators.Downloader
	Executors          map[registry.Stage]StageExecutor
}

// Runner drives jobs end to end.
type Runner struct {
	deps Dependencies
}

func NewRunner(deps Dependencies) *Runner {
	return &Runner{deps: deps}
}

// StageSummary is one stage's contribution to the job-level manifest.
type StageSummary struct {
	Stage  registry.Stage `json:"stage"`
	Status string         `json:"status"`
	Cost   float64        `json:"cost"`
}

// JobManifest is written to jobDir/manifest.json once a run reaches its
// stage loop, whether the stages succeed or not. A run rejected earlier
// (job.json, config, profile, credential, or budget checks) writes none.
type JobManifest struct {
	JobID     string         `json:"jobId"`
	Workflow  registry.Workflow `json:"workflow"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Stages    []StageSummary `json:"stages"`
	TotalCost float64        `json:"totalCost"`
	Error     string         `json:"error,omitempty"`
}

const (
	statusSkippedIdempotent = "skipped-idempotent"
)

// Run executes workflow against jobDir, resuming any stage whose
// manifest already shows success with intact, hash-matching outputs.
func (r *Runner) Run(ctx context.Context, jobDir string, workflow registry.Workflow) error {
	startTime := config.Clock.GetTime()

	descriptor, err := LoadJobDescriptor(jobDir)
	if err != nil {
		return err
	}
	if descriptor.Workflow != workflow {
		return cperrors.NewInvalidConfig("workflow", string(descriptor.Workflow), fmt.Sprintf("job.json declares %q but run was invoked with %q", descriptor.Workflow, workflow))
	}

	cfg, err := r.deps.ConfigResolver.Load(jobDir, false)
	if err != nil {
		return err
	}

	profile, err := r.deps.ProfileStore.Load(descriptor.UserID, r.deps.LegacySecretsPath)
	if err != nil {
		return err
	}
	if err := profile.ValidateForWorkflow(workflow); err != nil {
		return err
	}

	budgetLookup := func(userID int) (float64, float64, error) {
		b := profile.Budget()
		return b.MonthlyLimitUsd, b.AlertThresholdPercent, nil
	}
	costTracker := cost.New(r.deps.CostStorageDir, r.deps.PricingTable, descriptor.UserID, jobDir, budgetLookup)

	over, err := costTracker.IsOverBudget(descriptor.UserID)
	if err != nil {
		return err
	}
	if over {
		// Spec §8 property 5: no stage's manifest is written in this case.
		spend, _ := costTracker.GetMonthlyCost(descriptor.UserID)
		return cperrors.NewBudgetExceeded(descriptor.UserID, spend, profile.Budget().MonthlyLimitUsd, startTime.Format("2006-01"))
	}
	if alerts, err := costTracker.CheckBudgetAlerts(descriptor.UserID); err == nil {
		for _, a := range alerts {
			log.Log(descriptor.JobID, "pre-gate budget alert", "alert", a)
		}
	}

	env := &Environment{
		Descriptor: descriptor,
		Config:     cfg,
		Profile:    profile,
		Cost:       costTracker,
		Glossary:   r.buildGlossaryManager(descriptor),
		Media:      media.NewAdapter(r.deps.MediaCacheDir, r.deps.Downloader),
	}
	if env.Glossary != nil {
		if err := env.Glossary.LoadAllSources(); err != nil {
			return err
		}
	}

	stages := registry.StagesForWorkflow(workflow)
	jm := &JobManifest{JobID: descriptor.JobID, Workflow: workflow, StartTime: startTime}

	runErr := r.runStages(ctx, jobDir, stages, env, jm)

	jm.EndTime = config.Clock.GetTime()
	if totalCost, err := costTracker.GetJobCost(""); err == nil {
		jm.TotalCost = totalCost
	}
	if runErr != nil {
		jm.Error = runErr.Error()
	}

	if err := writeJobManifest(jobDir, jm); err != nil {
		log.LogError(descriptor.JobID, "failed to write job-level manifest", err)
	}

	return runErr
}

func (r *Runner) runStages(ctx context.Context, jobDir string, stages []registry.Stage, env *Environment, jm *JobManifest) error {
	jobCtx := log.WithJob(ctx, env.Descriptor.JobID)

	for _, stageName := range stages {
		stageCtx := log.WithStage(jobCtx, string(stageName))

		select {
		case <-ctx.Done():
			log.LogCtx(stageCtx, "stage aborted: context cancelled")
			jm.Stages = append(jm.Stages, StageSummary{Stage: stageName, Status: "failed"})
			return cperrors.NewCancelled()
		default:
		}

		if _, resumable := checkResumable(jobDir, stageName); resumable {
			log.LogCtx(stageCtx, "stage resumed: manifest already succeeded with matching output hashes")
			jm.Stages = append(jm.Stages, StageSummary{Stage: stageName, Status: statusSkippedIdempotent})
			continue
		}

		executor, ok := r.deps.Executors[stageName]
		if !ok {
			return cperrors.NewInternalConsistency(fmt.Sprintf("no stage executor registered for %q", stageName))
		}

		h, err := stage.Open(stageName, env.Descriptor.JobID, jobDir, true)
		if err != nil {
			return err
		}

		log.LogCtx(stageCtx, "stage starting")
		status, execErr := executor(stageCtx, h, env)
		if execErr != nil {
			log.LogCtx(stageCtx, "stage failed", "err", execErr.Error())
			h.AddError(execErr.Error(), execErr)
			if _, ferr := h.Finalize(manifest.StatusFailed, 1); ferr != nil {
				log.LogError(env.Descriptor.JobID, "failed to finalize failing stage", ferr)
			}
			jm.Stages = append(jm.Stages, StageSummary{Stage: stageName, Status: string(manifest.StatusFailed)})
			return execErr
		}

		if _, err := h.Finalize(status, 0); err != nil {
			return err
		}
		stageCost, _ := env.Cost.GetStageCosts("")
		log.LogCtx(stageCtx, "stage finished", "status", string(status))
		jm.Stages = append(jm.Stages, StageSummary{Stage: stageName, Status: string(status), Cost: stageCost[string(stageName)]})
	}
	return nil
}

// checkResumable reports whether stageName's manifest already records a
// successful run whose tracked outputs still exist with matching
// hashes (spec §4.10.3.b and §8 property 10).
func checkResumable(jobDir string, stageName registry.Stage) (*manifest.StageManifest, bool) {
	manifestPath := filepath.Join(jobDir, registry.DirName(stageName), "manifest.json")
	sm, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, false
	}
	if sm.Status != manifest.StatusSuccess && sm.Status != manifest.StatusSuccessWithWarnings {
		return nil, false
	}
	for _, out := range sm.Outputs {
		hash, _, err := manifest.HashFile(out.Path)
		if err != nil || hash != out.Hash {
			return nil, false
		}
	}
	return sm, true
}

func writeJobManifest(jobDir string, jm *JobManifest) error {
	data, err := json.MarshalIndent(jm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling job manifest: %w", err)
	}
	return manifest.WriteAtomic(filepath.Join(jobDir, "manifest.json"), data)
}

func (r *Runner) buildGlossaryManager(d *JobDescriptor) *glossary.Manager {
	if r.deps.GlossaryProjectRoot == "" && d.Glossary == nil {
		return nil
	}
	title, year := "", 0
	if d.YoutubeMetadata != nil {
		title = d.YoutubeMetadata.Title
	}
	return glossary.NewManager(glossary.Config{
		ProjectRoot:     r.deps.GlossaryProjectRoot,
		FilmTitle:       title,
		FilmYear:        year,
		LearningEnabled: true,
	}, r.deps.GlossaryCache)
}

// Summarize reads jobDir's job-level manifest without running anything,
// for the supplemented `cp-whisperx status` operation.
func Summarize(jobDir string) (*JobManifest, error) {
	data, err := os.ReadFile(filepath.Join(jobDir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	var jm JobManifest
	if err := json.Unmarshal(data, &jm); err != nil {
		return nil, fmt.Errorf("parsing job manifest: %w", err)
	}
	return &jm, nil
}
