// Package glossarycache implements the Glossary Cache (C7): an on-disk
// TTL cache keyed by film slug, with hit/miss statistics and expiry
// cleanup. Grounded on manifest.WriteAtomic for the per-entry rename
// discipline spec §5 requires ("concurrent writes of different entries
// are safe; same-entry races resolve last-writer-wins"), and on
// config.TimestampGenerator for deterministic TTL tests (spec §8
// property 7).
package glossarycache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cp-whisperx/pipeline/config"
	"github.com/cp-whisperx/pipeline/manifest"
)

const DefaultTTLDays = 30

var nonWordRegex = regexp.MustCompile(`\W+`)

// FilmSlug computes the cache key: lower(remove_non_word(title))_year.
func FilmSlug(title string, year int) string {
	cleaned := nonWordRegex.ReplaceAllString(strings.ToLower(title), "")
	return fmt.Sprintf("%s_%d", cleaned, year)
}

// Metadata is the cached entry's sidecar, tracking freshness.
type Metadata struct {
	FilmSlug  string    `json:"filmSlug"`
	Title     string    `json:"title"`
	Year      int       `json:"year"`
	CachedAt  time.Time `json:"cachedAt"`
	TTLDays   int       `json:"ttlDays"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Glossary is the cached source->translations map.
type Glossary map[string][]string

// indexEntry is one row of tmdb/index.json.
type indexEntry struct {
	Title    string    `json:"title"`
	Year     int       `json:"year"`
	CachedAt time.Time `json:"cachedAt"`
}

// Stats reports cache hit/miss counters and size.
type Stats struct {
	TmdbHits    int     `json:"tmdbHits"`
	TmdbMisses  int     `json:"tmdbMisses"`
	HitRate     float64 `json:"hitRate"`
	EntryCount  int     `json:"entryCount"`
	SizeBytes   int64   `json:"sizeBytes"`
}

// Cache is rooted at cacheDir, which gets tmdb/ and learned/ subtrees.
type Cache struct {
	cacheDir   string
	ttlDays    int
	clock      config.TimestampGenerator
	tmdbHits   int
	tmdbMisses int
}

func New(cacheDir string, ttlDays int) *Cache {
	if ttlDays <= 0 {
		ttlDays = DefaultTTLDays
	}
	return &Cache{cacheDir: cacheDir, ttlDays: ttlDays, clock: config.Clock}
}

func (c *Cache) tmdbDir(slug string) string    { return filepath.Join(c.cacheDir, "tmdb", slug) }
func (c *Cache) learnedDir(slug string) string { return filepath.Join(c.cacheDir, "learned", slug) }
func (c *Cache) indexPath() string             { return filepath.Join(c.cacheDir, "tmdb", "index.json") }

// GetTmdbGlossary returns the cached glossary if present and not
// expired, incrementing tmdbHits; otherwise increments tmdbMisses and
// returns (nil, false).
func (c *Cache) GetTmdbGlossary(title string, year int) (Glossary, bool) {
	slug := FilmSlug(title, year)
	metaPath := filepath.Join(c.tmdbDir(slug), "metadata.json")

	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		c.tmdbMisses++
		return nil, false
	}
	var meta Metadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		c.tmdbMisses++
		return nil, false
	}
	if !c.clock.GetTime().Before(meta.ExpiresAt) {
		c.tmdbMisses++
		return nil, false
	}

	glossData, err := os.ReadFile(filepath.Join(c.tmdbDir(slug), "glossary.json"))
	if err != nil {
		c.tmdbMisses++
		return nil, false
	}
	var g Glossary
	if err := json.Unmarshal(glossData, &g); err != nil {
		c.tmdbMisses++
		return nil, false
	}

	c.tmdbHits++
	return g, true
}

// SaveTmdbGlossary writes glossary.json, metadata.json, and (if
// non-nil) enrichment.json for filmSlug, and updates tmdb/index.json.
func (c *Cache) SaveTmdbGlossary(title string, year int, glossary Glossary, enrichment map[string]interface{}) error {
	slug := FilmSlug(title, year)
	dir := c.tmdbDir(slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	now := c.clock.GetTime()
	meta := Metadata{
		FilmSlug:  slug,
		Title:     title,
		Year:      year,
		CachedAt:  now,
		TTLDays:   c.ttlDays,
		ExpiresAt: now.AddDate(0, 0, c.ttlDays),
	}

	if err := writeJSON(filepath.Join(dir, "glossary.json"), glossary); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return err
	}
	if enrichment != nil {
		if err := writeJSON(filepath.Join(dir, "enrichment.json"), enrichment); err != nil {
			return err
		}
	}

	return c.updateIndex(slug, indexEntry{Title: title, Year: year, CachedAt: now})
}

func (c *Cache) updateIndex(slug string, entry indexEntry) error {
	if err := os.MkdirAll(filepath.Dir(c.indexPath()), 0o755); err != nil {
		return err
	}
	index := map[string]indexEntry{}
	if data, err := os.ReadFile(c.indexPath()); err == nil {
		_ = json.Unmarshal(data, &index)
	}
	index[slug] = entry
	return writeJSON(c.indexPath(), index)
}

// GetLearnedTerms is a best-effort read; a missing file yields {}.
func (c *Cache) GetLearnedTerms(title string, year int) map[string]map[string]float64 {
	slug := FilmSlug(title, year)
	data, err := os.ReadFile(filepath.Join(c.learnedDir(slug), "term_frequency.json"))
	if err != nil {
		return map[string]map[string]float64{}
	}
	var out map[string]map[string]float64
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]map[string]float64{}
	}
	return out
}

// UpdateLearnedTerms overwrites the learned-term frequencies for a film
// atomically.
func (c *Cache) UpdateLearnedTerms(title string, year int, frequencies map[string]map[string]float64) error {
	slug := FilmSlug(title, year)
	dir := c.learnedDir(slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "term_frequency.json"), frequencies); err != nil {
		return err
	}
	meta := Metadata{FilmSlug: slug, Title: title, Year: year, CachedAt: c.clock.GetTime()}
	return writeJSON(filepath.Join(dir, "metadata.json"), meta)
}

// CleanupExpired removes every TMDB entry whose metadata.expiresAt is
// before now, returning the count removed.
func (c *Cache) CleanupExpired() (int, error) {
	tmdbRoot := filepath.Join(c.cacheDir, "tmdb")
	entries, err := os.ReadDir(tmdbRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		metaPath := filepath.Join(tmdbRoot, e.Name(), "metadata.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		if c.clock.GetTime().After(meta.ExpiresAt) {
			if err := os.RemoveAll(filepath.Join(tmdbRoot, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// GetCacheStatistics reports hit/miss counters, entry counts, and
// approximate on-disk size.
func (c *Cache) GetCacheStatistics() Stats {
	stats := Stats{TmdbHits: c.tmdbHits, TmdbMisses: c.tmdbMisses}
	total := c.tmdbHits + c.tmdbMisses
	if total > 0 {
		stats.HitRate = float64(c.tmdbHits) / float64(total)
	}

	tmdbRoot := filepath.Join(c.cacheDir, "tmdb")
	entries, err := os.ReadDir(tmdbRoot)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				stats.EntryCount++
			}
		}
	}

	var size int64
	_ = filepath.Walk(c.cacheDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	stats.SizeBytes = size
	return stats
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return manifest.WriteAtomic(path, data)
}

// ParseFilmYear is a small helper for callers building a slug from a
// free-form year string (job descriptors carry years as strings).
func ParseFilmYear(yearStr string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(yearStr))
}
