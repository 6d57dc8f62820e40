// Package media implements the Online Media Adapter (C9): URL
// detection, filename sanitization, a download cache, and delegation
// to an injected collaborators.Downloader with retry handled by
// cenkalti/backoff/v4, the teacher's own retry library
// (pipeline/coordinator.go's ClippingRetryBackoff), generalized here to
// wrap a network download instead of a clipping job poll.
package media

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cp-whisperx/pipeline/collaborators"
	cperrors "github.com/cp-whisperx/pipeline/errors"
)

const defaultMaxFilenameLen = 35

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=)([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtu\.be/)([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtube\.com/embed/)([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:youtube\.com/v/)([A-Za-z0-9_-]{11})`),
}

var cachedVideoExts = []string{"mp4", "mkv", "webm", "wav", "m4a"}

// IsUrl reports whether s parses as a URL with both a scheme and a
// host.
func IsUrl(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// IsYouTubeUrl reports whether s matches one of the recognized YouTube
// URL shapes.
func IsYouTubeUrl(s string) bool {
	for _, p := range youtubePatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// ExtractVideoId returns the 11-character video id from whichever
// YouTube URL pattern matches, or "" if none do.
func ExtractVideoId(rawURL string) string {
	for _, p := range youtubePatterns {
		if m := p.FindStringSubmatch(rawURL); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

var (
	sanitizeKeepRegex    = regexp.MustCompile(`[^A-Za-z0-9 _]`)
	sanitizeUnderscoreRun = regexp.MustCompile(`_+`)
)

// SanitizeFilename keeps only letters, digits, spaces, and underscores,
// maps spaces to underscores, collapses underscore runs, trims leading/trailing
// underscores, and truncates to maxLen. An empty result becomes
// "video". Idempotent (spec §8 property 8): applying it twice is the
// same as applying it once.
func SanitizeFilename(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultMaxFilenameLen
	}
	kept := sanitizeKeepRegex.ReplaceAllString(s, "")
	underscored := strings.ReplaceAll(kept, " ", "_")
	collapsed := sanitizeUnderscoreRun.ReplaceAllString(underscored, "_")
	trimmed := strings.Trim(collapsed, "_")
	if len(trimmed) > maxLen {
		trimmed = strings.Trim(trimmed[:maxLen], "_")
	}
	if trimmed == "" {
		return "video"
	}
	return trimmed
}

// CachedVideo describes a hit in getCachedVideo.
type CachedVideo struct {
	Path string
	Ext  string
}

// GetCachedVideo looks in cacheDir for any file matching
// {videoId}.{ext}, *_{videoId}.{ext}, or *{videoId}*, across the known
// media extensions.
func GetCachedVideo(cacheDir, videoID string) (*CachedVideo, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, ext := range cachedVideoExts {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if name == videoID+"."+ext ||
				strings.HasSuffix(name, "_"+videoID+"."+ext) ||
				(strings.Contains(name, videoID) && strings.HasSuffix(name, "."+ext)) {
				return &CachedVideo{Path: filepath.Join(cacheDir, name), Ext: ext}, nil
			}
		}
	}
	return nil, nil
}

// FormatQuality selects the requested resolution/audio tier.
type FormatQuality string

const (
	QualityBest  FormatQuality = "best"
	Quality1080p FormatQuality = "1080p"
	Quality720p  FormatQuality = "720p"
	Quality480p  FormatQuality = "480p"
	QualityAudio FormatQuality = "audio"
)

func formatSelector(quality FormatQuality, audioOnly bool) string {
	if audioOnly || quality == QualityAudio {
		return "bestaudio/best"
	}
	switch quality {
	case Quality1080p:
		return "bestvideo[height<=1080]+bestaudio/best[height<=1080]"
	case Quality720p:
		return "bestvideo[height<=720]+bestaudio/best[height<=720]"
	case Quality480p:
		return "bestvideo[height<=480]+bestaudio/best[height<=480]"
	default:
		return "bestvideo+bestaudio/best"
	}
}

// DownloadOptions configures Adapter.Download.
type DownloadOptions struct {
	OutputFilename  string
	UseTitleAsFilename bool
	FormatQuality   FormatQuality
	AudioOnly       bool
	MaxRetries      uint64
}

// Adapter is the Online Media Adapter, bound to a cache directory and a
// Downloader collaborator.
type Adapter struct {
	cacheDir      string
	downloader    collaborators.Downloader
	retryInterval time.Duration
}

func NewAdapter(cacheDir string, downloader collaborators.Downloader) *Adapter {
	return &Adapter{cacheDir: cacheDir, downloader: downloader, retryInterval: 2 * time.Second}
}

// SetRetryInterval overrides the constant backoff interval between
// download retries; intended for tests that exercise retry behavior
// without waiting on production-scale delays.
func (a *Adapter) SetRetryInterval(d time.Duration) {
	a.retryInterval = d
}

// Result is what Adapter.Download returns: the local path plus
// whatever metadata the underlying Downloader reported, and whether it
// was served from the cache.
type Result struct {
	LocalPath string
	Metadata  map[string]interface{}
	FromCache bool
}

// Download validates rawURL, enforces the Phase-1 YouTube-only policy,
// consults the download cache, and otherwise delegates to the injected
// Downloader, retrying up to opts.MaxRetries times at a constant
// interval (a single attempt when MaxRetries is zero). On success the fetched file is
// renamed to {sanitizedTitle}_{videoId}.ext or {videoId}.ext.
func (a *Adapter) Download(ctx context.Context, rawURL string, opts DownloadOptions) (Result, error) {
	if !IsUrl(rawURL) {
		return Result{}, cperrors.NewInvalidMediaReference(rawURL)
	}
	if !IsYouTubeUrl(rawURL) {
		u, _ := url.Parse(rawURL)
		return Result{}, cperrors.NewUnsupportedPlatform(u.Host)
	}

	videoID := ExtractVideoId(rawURL)
	if videoID == "" {
		return Result{}, cperrors.NewInvalidMediaReference(rawURL)
	}

	if cached, err := GetCachedVideo(a.cacheDir, videoID); err == nil && cached != nil {
		return Result{LocalPath: cached.Path, FromCache: true}, nil
	}

	selector := formatSelector(opts.FormatQuality, opts.AudioOnly)
	outputTemplate := filepath.Join(a.cacheDir, videoID+".%(ext)s")

	maxRetries := opts.MaxRetries

	var dlResult collaborators.DownloadResult
	operation := func() error {
		res, err := a.downloader.Download(ctx, rawURL, selector, outputTemplate, nil)
		if err != nil {
			return err
		}
		dlResult = res
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(a.retryInterval), maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return Result{}, cperrors.NewDownloadFailed(rawURL, err)
	}

	ext := strings.TrimPrefix(filepath.Ext(dlResult.LocalPath), ".")
	if ext == "" {
		ext = "mp4"
	}

	var finalName string
	if opts.OutputFilename != "" {
		finalName = opts.OutputFilename
	} else if opts.UseTitleAsFilename {
		title, _ := dlResult.Metadata["title"].(string)
		sanitized := SanitizeFilename(title, defaultMaxFilenameLen)
		finalName = fmt.Sprintf("%s_%s.%s", sanitized, videoID, ext)
	} else {
		finalName = fmt.Sprintf("%s.%s", videoID, ext)
	}

	finalPath := filepath.Join(a.cacheDir, finalName)
	if dlResult.LocalPath != finalPath {
		if err := os.Rename(dlResult.LocalPath, finalPath); err != nil {
			return Result{}, fmt.Errorf("renaming downloaded file into place: %w", err)
		}
	}

	return Result{LocalPath: finalPath, Metadata: dlResult.Metadata}, nil
}
