// Package manifest implements the Manifest & Hash Tracker (C2): an
// in-memory builder that accumulates the fields of a stage manifest and
// flushes it atomically. Grounded on the write-to-temp-then-rename idiom
// used elsewhere in the teacher codebase for replacing a file observers
// may be reading concurrently (video/mp4box.go's os.Rename of a fixed
// file into place); generalized here to JSON manifests instead of media
// files, and on SHA-256 streaming hashing (crypto/sha256), the standard
// approach for content-addressing a file without holding it in memory.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileRecord describes one tracked input, output, or intermediate file.
type FileRecord struct {
	Path      string            `json:"path"`
	Kind      string            `json:"kind"`
	Format    string            `json:"format,omitempty"`
	Hash      string            `json:"hash"`
	Size      int64             `json:"size"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Retained  *bool             `json:"retained,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// ErrorEntry records a stage-reported failure.
type ErrorEntry struct {
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// Status is the terminal disposition of a stage run.
type Status string

const (
	StatusSuccess              Status = "success"
	StatusFailed               Status = "failed"
	StatusSkipped              Status = "skipped"
	StatusSuccessWithWarnings  Status = "success-with-warnings"
)

// StageManifest is the serialized record of one stage execution.
type StageManifest struct {
	Stage         string            `json:"stage"`
	JobID         string            `json:"jobId"`
	StartTime     time.Time         `json:"startTime"`
	EndTime       time.Time         `json:"endTime"`
	ExitCode      int               `json:"exitCode"`
	Status        Status            `json:"status"`
	Config        map[string]string `json:"config,omitempty"`
	Inputs        []FileRecord      `json:"inputs"`
	Outputs       []FileRecord      `json:"outputs"`
	Intermediates []FileRecord      `json:"intermediates"`
	Errors        []ErrorEntry      `json:"errors,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// placeholderHash marks a FileRecord whose content has not been hashed
// yet, either because the file did not exist at tracking time.
const placeholderHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Tracker accumulates a StageManifest in memory. It is not safe for
// concurrent use from multiple goroutines; each stage owns exactly one
// Tracker via its Handle.
type Tracker struct {
	stage     string
	jobID     string
	startTime time.Time
	config    map[string]string
	inputs    []FileRecord
	outputs   []FileRecord
	inter     []FileRecord
	errors    []ErrorEntry
	warnings  []string
}

// New starts a Tracker for a stage run beginning now.
func New(stage, jobID string, startTime time.Time) *Tracker {
	return &Tracker{
		stage:     stage,
		jobID:     jobID,
		startTime: startTime,
		config:    map[string]string{},
	}
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return placeholderHash, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return placeholderHash, 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func record(path, kind string, attrs map[string]string) FileRecord {
	hash, size, err := hashFile(path)
	if err != nil {
		hash = placeholderHash
	}
	return FileRecord{
		Path:  path,
		Kind:  kind,
		Hash:  hash,
		Size:  size,
		Attrs: attrs,
	}
}

// TrackInput records an input file. Hashing happens now, not at
// finalize, since inputs are expected to already exist.
func (t *Tracker) TrackInput(path, kind string, attrs map[string]string) {
	t.inputs = append(t.inputs, record(path, kind, attrs))
}

// TrackOutput records an output file. If the file does not exist yet a
// placeholder hash is stored; Finalize rehashes every output whose hash
// is still the placeholder.
func (t *Tracker) TrackOutput(path, kind string, attrs map[string]string) {
	t.outputs = append(t.outputs, record(path, kind, attrs))
}

// TrackIntermediate records a scratch file produced mid-stage. retained
// indicates whether it survives past stage completion; reason explains
// why it either was or was not kept.
func (t *Tracker) TrackIntermediate(path string, retained bool, reason string) {
	fr := record(path, "intermediate", nil)
	fr.Retained = &retained
	fr.Reason = reason
	t.inter = append(t.inter, fr)
}

func (t *Tracker) AddError(msg, cause string) {
	t.errors = append(t.errors, ErrorEntry{Message: msg, Cause: cause})
}

func (t *Tracker) AddWarning(msg string) {
	t.warnings = append(t.warnings, msg)
}

func (t *Tracker) SetConfig(k, v string) {
	t.config[k] = v
}

// rehashIfNeeded recomputes the hash for any record still carrying the
// placeholder, covering outputs tracked before the file was written.
func rehashIfNeeded(records []FileRecord) {
	for i := range records {
		if records[i].Hash == placeholderHash {
			hash, size, err := hashFile(records[i].Path)
			if err == nil {
				records[i].Hash = hash
				records[i].Size = size
			}
		}
	}
}

// Finalize builds the completed StageManifest, rehashing any
// placeholder outputs, and writes it to manifestPath via
// write-to-temp-then-rename so that concurrent readers never observe a
// partially written file. The manifest is also returned so callers
// (e.g. for resume hash comparison) do not need to re-read it from disk.
func (t *Tracker) Finalize(manifestPath string, endTime time.Time, exitCode int, status Status) (*StageManifest, error) {
	rehashIfNeeded(t.outputs)
	rehashIfNeeded(t.inter)

	sm := &StageManifest{
		Stage:         t.stage,
		JobID:         t.jobID,
		StartTime:     t.startTime,
		EndTime:       endTime,
		ExitCode:      exitCode,
		Status:        status,
		Config:        t.config,
		Inputs:        t.inputs,
		Outputs:       t.outputs,
		Intermediates: t.inter,
		Errors:        t.errors,
		Warnings:      t.warnings,
	}

	data, err := json.MarshalIndent(sm, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}

	if err := writeAtomic(manifestPath, data); err != nil {
		return nil, err
	}
	return sm, nil
}

// writeAtomic writes data to path by creating a temp file in the same
// directory and renaming it into place, so a reader either sees the
// old content or the new content, never a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// Load reads a previously finalized StageManifest from disk.
func Load(manifestPath string) (*StageManifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var sm StageManifest
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", manifestPath, err)
	}
	return &sm, nil
}

// WriteAtomic is exported for other packages (job-level manifest, cost
// log, user-id counter) that need the same write-then-rename guarantee
// over their own JSON documents.
func WriteAtomic(path string, data []byte) error {
	return writeAtomic(path, data)
}

// HashFile is exported so callers outside this package (resume
// comparison in the Pipeline Runner) can hash a candidate output
// without re-tracking it.
func HashFile(path string) (hash string, size int64, err error) {
	return hashFile(path)
}
