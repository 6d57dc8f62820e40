// Package registry implements the Stage Registry & Order Resolver (C3):
// the canonical ordered catalogue of stages, and the workflow-to-stage
// mapping of spec §4.3. Grounded on the teacher's Strategy type
// (pipeline/coordinator.go), which is a small closed enum with an
// IsValid() method — generalized here to a fixed, ordered stage
// catalogue instead of a set of mutually exclusive strategies.
package registry

import "fmt"

// Stage is a canonical stage name. The ordinal of a stage is its index
// in canonicalOrder plus one (ordinals are 1-based, matching the
// "{ordinal:02d}_{name}" directory naming of spec §3).
type Stage string

const (
	Demux                Stage = "demux"
	Tmdb                  Stage = "tmdb"
	GlossaryLoad          Stage = "glossary_load"
	SourceSeparation      Stage = "source_separation"
	Vad                   Stage = "vad"
	Asr                   Stage = "asr"
	Alignment             Stage = "alignment"
	ExportTranscript      Stage = "export_transcript"
	Translation           Stage = "translation"
	ExportTranslation     Stage = "export"
	LyricsDetection       Stage = "lyrics_detection"
	HallucinationRemoval  Stage = "hallucination_removal"
	SubtitleGeneration    Stage = "subtitle_generation"
	Mux                   Stage = "mux"
)

// Workflow identifies one of the three supported pipelines.
type Workflow string

const (
	Transcribe Workflow = "transcribe"
	Translate  Workflow = "translate"
	Subtitle   Workflow = "subtitle"
)

func (w Workflow) IsValid() bool {
	switch w {
	case Transcribe, Translate, Subtitle:
		return true
	default:
		return false
	}
}

// canonicalOrder is the single fixed ordering every workflow's stage
// list is a prefix of (spec §4.3, "Workflow sets are strictly increasing
// prefixes").
var canonicalOrder = []Stage{
	Demux,
	Tmdb,
	GlossaryLoad,
	SourceSeparation,
	Vad,
	Asr,
	Alignment,
	ExportTranscript,
	Translation,
	ExportTranslation,
	LyricsDetection,
	HallucinationRemoval,
	SubtitleGeneration,
	Mux,
}

var ordinals = buildOrdinals()

func buildOrdinals() map[Stage]int {
	m := make(map[Stage]int, len(canonicalOrder))
	for i, s := range canonicalOrder {
		m[s] = i + 1
	}
	return m
}

// Ordinal returns the 1-based position of name in the canonical stage
// order, or 0 if name is not a registered stage.
func Ordinal(name Stage) int {
	return ordinals[name]
}

// DirName returns the "{ordinal:02d}_{name}" directory name for a stage.
func DirName(name Stage) string {
	return fmt.Sprintf("%02d_%s", Ordinal(name), name)
}

// NameFromOrdinal returns the stage at the given 1-based ordinal, or ""
// if out of range.
func NameFromOrdinal(ordinal int) Stage {
	if ordinal < 1 || ordinal > len(canonicalOrder) {
		return ""
	}
	return canonicalOrder[ordinal-1]
}

var workflowStages = map[Workflow][]Stage{
	Transcribe: {Demux, Tmdb, GlossaryLoad, SourceSeparation, Vad, Asr, Alignment, ExportTranscript},
}

func init() {
	workflowStages[Translate] = append(append([]Stage{}, workflowStages[Transcribe]...), Translation, ExportTranslation)
	workflowStages[Subtitle] = append(append([]Stage{}, workflowStages[Translate]...), LyricsDetection, HallucinationRemoval, SubtitleGeneration, Mux)
}

// StagesForWorkflow returns the deterministic, ordered stage list for a
// workflow. Returns nil for an unrecognized workflow.
func StagesForWorkflow(workflow Workflow) []Stage {
	stages, ok := workflowStages[workflow]
	if !ok {
		return nil
	}
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}
