// Package stage implements the Stage I/O Substrate (C1): the per-stage
// handle that computes stageDir from the Stage Registry, owns a Manifest
// Tracker, and is the only sanctioned way stage logic touches the
// filesystem or writes to the process log. Grounded on the teacher's
// pipeline.JobInfo (pipeline/coordinator.go), which bundles a request's
// working paths and logger into one struct passed down to stage
// functions; generalized here into an explicit open/finalize lifecycle
// with manifest tracking built in.
package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	kitlog "github.com/go-kit/log"

	cperrors "github.com/cp-whisperx/pipeline/errors"
	"github.com/cp-whisperx/pipeline/log"
	"github.com/cp-whisperx/pipeline/manifest"
	"github.com/cp-whisperx/pipeline/registry"
)

// Handle is the single entry point stage logic uses to resolve paths,
// track files, and report its outcome. Calling Finalize a second time
// panics; the other methods do not check whether the handle has been
// finalized, and nothing they record afterwards reaches the manifest.
type Handle struct {
	stage         registry.Stage
	jobID         string
	jobDir        string
	stageDir      string
	enableManifest bool

	tracker    *manifest.Tracker
	logCloser  io.Closer
	logger     kitlog.Logger
	startTime  time.Time
	finalized  bool
}

// Open computes stageDir from the stage's registry ordinal, creates it
// if absent, and opens the per-stage log file. jobID is used purely for
// log scoping and the manifest's jobId field; it need not equal jobDir's
// basename.
func Open(stageName registry.Stage, jobID, jobDir string, enableManifest bool) (*Handle, error) {
	if registry.Ordinal(stageName) == 0 {
		return nil, cperrors.NewInternalConsistency(fmt.Sprintf("unknown stage %q", stageName))
	}

	stageDir := filepath.Join(jobDir, registry.DirName(stageName))
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating stage directory %s: %w", stageDir, err)
	}

	startTime := time.Now().UTC()
	logPath := filepath.Join(stageDir, "stage.log")
	logger, closer, err := log.NewStageLogger(jobID, string(stageName), logPath)
	if err != nil {
		return nil, fmt.Errorf("opening stage log %s: %w", logPath, err)
	}

	h := &Handle{
		stage:          stageName,
		jobID:          jobID,
		jobDir:         jobDir,
		stageDir:       stageDir,
		enableManifest: enableManifest,
		logCloser:      closer,
		logger:         logger,
		startTime:      startTime,
	}
	if enableManifest {
		h.tracker = manifest.New(string(stageName), jobID, startTime)
	}
	return h, nil
}

// StageDir returns this handle's stage directory.
func (h *Handle) StageDir() string {
	return h.stageDir
}

// GetOutputPath returns a path for filename always inside this stage's
// own stageDir, satisfying the directory containment invariant.
func (h *Handle) GetOutputPath(filename string) string {
	return filepath.Join(h.stageDir, filename)
}

// GetInputPath resolves filename against fromStage's stageDir if given;
// otherwise it walks back one ordinal from this stage. If the resolved
// file is absent, it falls back to jobDir/filename. Never raises on
// absence; callers must check existence themselves.
func (h *Handle) GetInputPath(filename string, fromStage registry.Stage) string {
	var candidateDir string
	if fromStage != "" {
		candidateDir = filepath.Join(h.jobDir, registry.DirName(fromStage))
	} else {
		prevOrdinal := registry.Ordinal(h.stage) - 1
		if prevStage := registry.NameFromOrdinal(prevOrdinal); prevStage != "" {
			candidateDir = filepath.Join(h.jobDir, registry.DirName(prevStage))
		}
	}

	if candidateDir != "" {
		candidate := filepath.Join(candidateDir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(h.jobDir, filename)
}

func (h *Handle) requireManifest() {
	if !h.enableManifest {
		panic("stage: manifest tracking disabled for this handle")
	}
}

func (h *Handle) TrackInput(path, kind string, attrs map[string]string) {
	h.requireManifest()
	h.tracker.TrackInput(path, kind, attrs)
}

func (h *Handle) TrackOutput(path, kind string, attrs map[string]string) {
	h.requireManifest()
	h.tracker.TrackOutput(path, kind, attrs)
}

func (h *Handle) TrackIntermediate(path string, retained bool, reason string) {
	h.requireManifest()
	h.tracker.TrackIntermediate(path, retained, reason)
}

func (h *Handle) AddError(msg string, cause error) {
	causeStr := ""
	if cause != nil {
		causeStr = cause.Error()
	}
	if h.enableManifest {
		h.tracker.AddError(msg, causeStr)
	}
	_ = h.logger.Log("level", "error", "msg", msg, "cause", causeStr)
}

func (h *Handle) AddWarning(msg string) {
	if h.enableManifest {
		h.tracker.AddWarning(msg)
	}
	_ = h.logger.Log("level", "warn", "msg", msg)
}

// SetConfig and AddConfig are equivalent: both record a resolved
// configuration value on the manifest for observability. SetConfig
// exists separately per the substrate's public shape even though the
// underlying tracker treats both identically (last write wins).
func (h *Handle) SetConfig(k, v string) {
	h.requireManifest()
	h.tracker.SetConfig(k, v)
}

func (h *Handle) AddConfig(k, v string) {
	h.SetConfig(k, v)
}

// GetStageLogger returns the logger scoped to this stage's job and
// name, writing to both the stage log file and the process log.
func (h *Handle) GetStageLogger() kitlog.Logger {
	return h.logger
}

// Finalize flushes the manifest (if enabled) atomically to
// stageDir/manifest.json and closes the stage log. Calling Finalize
// more than once panics: a finalized handle is immutable.
func (h *Handle) Finalize(status manifest.Status, exitCode int) (*manifest.StageManifest, error) {
	if h.finalized {
		panic("stage: Finalize called more than once on the same handle")
	}
	h.finalized = true
	defer h.logCloser.Close()

	_ = h.logger.Log("level", "info", "msg", "stage finalized", "status", string(status), "exitCode", exitCode)

	if !h.enableManifest {
		return nil, nil
	}

	manifestPath := filepath.Join(h.stageDir, "manifest.json")
	return h.tracker.Finalize(manifestPath, time.Now().UTC(), exitCode, status)
}
