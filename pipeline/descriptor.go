package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	cperrors "github.com/cp-whisperx/pipeline/errors"
	"github.com/cp-whisperx/pipeline/registry"
)

// jobDescriptorSchema is the structural shape of job.json (spec §6),
// checked with xeipuuv/gojsonschema (present in the teacher's own
// go.mod) before the document is decoded into JobDescriptor. Schema
// failures are reported as a single InvalidConfig listing
// every violation, rather than stopping at the first one.
const jobDescriptorSchema = `{
  "type": "object",
  "required": ["jobId", "userId", "workflow", "sourceLanguage", "inputMedia"],
  "properties": {
    "jobId": {"type": "string", "minLength": 1},
    "userId": {"type": "integer", "minimum": 1},
    "workflow": {"type": "string", "enum": ["transcribe", "translate", "subtitle"]},
    "sourceLanguage": {"type": "string", "minLength": 1},
    "targetLanguages": {"type": "array", "items": {"type": "string"}},
    "inputMedia": {"type": "string", "minLength": 1}
  }
}`

var jobDescriptorSchemaLoader = gojsonschema.NewStringLoader(jobDescriptorSchema)

// MediaProcessing selects whether a job runs over the full input or a
// clipped [startTime, endTime] window.
type MediaProcessing struct {
	Mode      string `json:"mode"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// VadConfig is the job-level VAD override.
type VadConfig struct {
	Enabled   bool     `json:"enabled"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// TranslationConfig is the job-level translation override.
type TranslationConfig struct {
	Model    string `json:"model,omitempty"`
	Device   string `json:"device,omitempty"`
	NumBeams int    `json:"numBeams,omitempty"`
}

// SourceSeparationConfig is the job-level source-separation override.
type SourceSeparationConfig struct {
	Enabled bool   `json:"enabled"`
	Quality string `json:"quality,omitempty"`
}

// GlossaryConfig points at an optional film-specific glossary file.
type GlossaryConfig struct {
	Path string `json:"path,omitempty"`
}

// YoutubeMetadata carries YouTube-sourced title/description when
// inputMedia came from the Online Media Adapter.
type YoutubeMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// JobDescriptor is the parsed shape of jobDir/job.json (spec §6).
type JobDescriptor struct {
	JobID            string                  `json:"jobId"`
	UserID           int                     `json:"userId"`
	Workflow         registry.Workflow       `json:"workflow"`
	SourceLanguage   string                  `json:"sourceLanguage"`
	TargetLanguages  []string                `json:"targetLanguages,omitempty"`
	InputMedia       string                  `json:"inputMedia"`
	MediaProcessing  MediaProcessing         `json:"mediaProcessing"`
	Glossary         *GlossaryConfig         `json:"glossary,omitempty"`
	Vad              *VadConfig              `json:"vad,omitempty"`
	Translation      *TranslationConfig      `json:"translation,omitempty"`
	SourceSeparation *SourceSeparationConfig `json:"sourceSeparation,omitempty"`
	YoutubeMetadata  *YoutubeMetadata        `json:"youtubeMetadata,omitempty"`
}

// LoadJobDescriptor reads and validates jobDir/job.json. jobDir must
// already exist with job.json present before any stage runs (spec §3
// Job invariant).
func LoadJobDescriptor(jobDir string) (*JobDescriptor, error) {
	path := filepath.Join(jobDir, "job.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cperrors.NewInvalidConfig("job.json", path, err.Error())
	}

	result, err := gojsonschema.Validate(jobDescriptorSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, cperrors.NewInvalidConfig("job.json", path, err.Error())
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return nil, cperrors.NewInvalidConfig("job.json", path, strings.Join(reasons, "; "))
	}

	var d JobDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, cperrors.NewInvalidConfig("job.json", path, err.Error())
	}
	return &d, nil
}
