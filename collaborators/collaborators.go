// Package collaborators declares the narrow interfaces (§6) through
// which stage code reaches ML models and third-party APIs. No concrete
// implementation lives here or anywhere in this module: every adapter
// (a local Whisper binary, a hosted diarization API, yt-dlp) is wired
// in by the process composing the Pipeline Runner. Grounded on the
// teacher's video.Prober / clients.S3 style of depending on small
// interfaces rather than concrete SDK types (video/probe.go), carried
// forward here as the substrate's only contract with ML/third-party
// work, which is explicitly out of scope for this module.
package collaborators

import "context"

// Segment is one transcribed span of audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Word is one word-level alignment within a Segment.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TranscriptionResult is what a Transcriber returns.
type TranscriptionResult struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// TranscribeOptions carries tunables a caller may pass through to the
// underlying model (beam size, initial prompt/bias terms, etc.).
type TranscribeOptions struct {
	InitialPrompt string
	BiasTerms     []string
	Extra         map[string]interface{}
}

// Transcriber turns audio into timed text segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string, options TranscribeOptions) (TranscriptionResult, error)
}

// SpeakerSegment is one diarized speaker turn.
type SpeakerSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Diarizer assigns speaker labels to spans of audio.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, minSpeakers, maxSpeakers int) ([]SpeakerSegment, error)
}

// VoiceSpan is one detected span of voice activity.
type VoiceSpan struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// VadDetector detects voice activity spans in audio.
type VadDetector interface {
	Detect(ctx context.Context, audioPath string, threshold float64) ([]VoiceSpan, error)
}

// Translator batch-translates strings between two languages.
type Translator interface {
	TranslateBatch(ctx context.Context, strs []string, srcLang, tgtLang string) ([]string, error)
}

// ProgressCallback reports download progress as a fraction in [0, 1].
type ProgressCallback func(fraction float64)

// DownloadResult is what a Downloader returns on success.
type DownloadResult struct {
	LocalPath string
	Metadata  map[string]interface{}
}

// Downloader fetches media from a URL. Retries inside an implementation
// are its own concern; media.Adapter makes a single attempt unless the
// caller sets DownloadOptions.MaxRetries.
type Downloader interface {
	Download(ctx context.Context, url, formatSelector, outputTemplate string, progress ProgressCallback) (DownloadResult, error)
}

// SeparationResult is what a SourceSeparator returns.
type SeparationResult struct {
	VocalsPath       string
	AccompanimentPath string
}

// SourceSeparator splits audio into vocal and accompaniment stems.
type SourceSeparator interface {
	Separate(ctx context.Context, audioPath, quality string) (SeparationResult, error)
}

// SummaryRequest is the input to AiSummarizer.Summarize.
type SummaryRequest struct {
	TranscriptText    string
	MediaURL          string
	MaxTokens         int
	Language          string
	IncludeTimestamps bool
}

// SummaryTimestamp is one timestamped highlight in a SummaryResponse.
type SummaryTimestamp struct {
	Timestamp   float64 `json:"timestamp"`
	Description string  `json:"description"`
}

// Provider discriminates which backend produced a SummaryResponse,
// rendering the Python original's duck-typed provider configs as an
// explicit tagged union (spec §9 design note).
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderLocal  Provider = "local"
)

// SummaryResponse is what AiSummarizer.Summarize returns.
type SummaryResponse struct {
	Summary           string             `json:"summary"`
	KeyPoints         []string           `json:"keyPoints"`
	Timestamps        []SummaryTimestamp `json:"timestamps,omitempty"`
	SourceAttribution string             `json:"sourceAttribution,omitempty"`
	Provider          Provider           `json:"provider"`
	TokensUsed        int                `json:"tokensUsed"`
}

// AiSummarizer produces a transcript summary via some external or
// local provider.
type AiSummarizer interface {
	Validate(ctx context.Context) (bool, error)
	Summarize(ctx context.Context, req SummaryRequest) (SummaryResponse, error)
}

// AudioDemuxer extracts a mono PCM WAV track from a video container,
// optionally clipped to [startTime, endTime].
type AudioDemuxer interface {
	Demux(ctx context.Context, videoPath string, sampleRate, channels int, startTime, endTime string) (wavPath string, err error)
}

// TextClassifier is a language-specific detector (lyrics, hallucinated
// filler phrases, etc.) that the substrate treats as a stage-internal
// concern. Per spec §9's open question, no implementation ships in
// this module for non-English sources; callers must supply their own.
type TextClassifier interface {
	Classify(ctx context.Context, text string) (bool, error)
}
