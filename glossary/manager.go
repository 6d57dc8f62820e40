// Package glossary implements the Glossary Manager (C8): loads master,
// TMDB-derived, film-specific, and learned term sources, and exposes
// priority-cascade resolution and text rewriting. Grounded on
// encoding/csv for the master TSV (no third-party TSV/CSV library
// appears anywhere in the example pack, so the standard library's
// csv.Reader with a tab Comma is the correct, idiomatic choice rather
// than a hand-rolled splitter) and on glossarycache for the TMDB and
// learned tiers' persistence.
package glossary

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cp-whisperx/pipeline/glossarycache"
	"github.com/cp-whisperx/pipeline/log"
)

// Strategy picks among multiple translations within a tier.
type Strategy string

const (
	StrategyCascade   Strategy = "cascade"
	StrategyFirst     Strategy = "first"
	StrategyFrequency Strategy = "frequency"
	StrategyContext   Strategy = "context"
)

// Context is a heuristic register hint for StrategyContext.
type Context string

const (
	ContextFormal    Context = "formal"
	ContextCasual    Context = "casual"
	ContextEmotional Context = "emotional"
)

var contextKeywords = map[Context][]string{
	ContextFormal:    {"sir", "brother", "formal"},
	ContextCasual:    {"dude", "bro", "man"},
	ContextEmotional: {"dear", "love", "heart"},
}

type termMap map[string][]string

// Stats reports tier sizes and resolution hit counts.
type Stats struct {
	FilmTerms    int            `json:"filmTerms"`
	TmdbTerms    int            `json:"tmdbTerms"`
	MasterTerms  int            `json:"masterTerms"`
	LearnedTerms int            `json:"learnedTerms"`
	Hits         map[string]int `json:"hits"` // "film"|"tmdb"|"master"|"learned"|"misses"
	TotalRequests int           `json:"totalRequests"`
	HitRate      float64        `json:"hitRate"`
}

// tmdbCrewRoles lists the crew job titles whose names are extracted.
var tmdbCrewRoles = map[string]bool{
	"Director":   true,
	"Writer":     true,
	"Screenplay": true,
	"Producer":   true,
}

var parentheticalRegex = regexp.MustCompile(`\([^)]*\)`)

// TmdbEnrichment is the shape of a TMDB film-credits payload, minimal
// to the fields the glossary extraction needs.
type TmdbEnrichment struct {
	Cast []struct {
		Name      string `json:"name"`
		Character string `json:"character"`
	} `json:"cast"`
	Crew []struct {
		Name string `json:"name"`
		Job  string `json:"job"`
	} `json:"crew"`
}

// Config selects which optional sources load.
type Config struct {
	ProjectRoot     string
	FilmTitle       string
	FilmYear        int
	Enrichment      *TmdbEnrichment
	LearningEnabled bool
	TopNCast        int // defaults to 10 when zero
}

// Manager owns the four tiers plus the Glossary Cache used to persist
// the tmdb and learned tiers.
type Manager struct {
	cfg    Config
	cache  *glossarycache.Cache
	master termMap
	tmdb   termMap
	film   termMap
	learned map[string]map[string]float64

	hits          map[string]int
	totalRequests int
}

func NewManager(cfg Config, cache *glossarycache.Cache) *Manager {
	if cfg.TopNCast == 0 {
		cfg.TopNCast = 10
	}
	return &Manager{
		cfg:   cfg,
		cache: cache,
		hits:  map[string]int{"film": 0, "tmdb": 0, "master": 0, "learned": 0, "misses": 0},
	}
}

// LoadAllSources loads master, tmdb-derived, film-specific, and learned
// tiers in that order, per §4.8. Missing optional sources are silently
// skipped; a missing master file proceeds with an empty master tier and
// a warning.
func (m *Manager) LoadAllSources() error {
	m.master = m.loadMaster()
	m.tmdb = m.loadTmdbDerived()
	m.film = m.loadFilmSpecific()
	m.learned = m.loadLearned()
	return nil
}

func (m *Manager) masterPath() string {
	return filepath.Join(m.cfg.ProjectRoot, "glossary", "hinglish_master.tsv")
}

func (m *Manager) filmSpecificPath() string {
	slug := glossarycache.FilmSlug(m.cfg.FilmTitle, m.cfg.FilmYear)
	return filepath.Join(m.cfg.ProjectRoot, "glossary", "films", "popular", slug+".json")
}

// loadMaster parses the TSV at {projectRoot}/glossary/hinglish_master.tsv.
// Malformed rows are skipped with a warning; a missing file yields an
// empty master with a warning rather than failing the load.
func (m *Manager) loadMaster() termMap {
	out := termMap{}
	f, err := os.Open(m.masterPath())
	if err != nil {
		log.LogNoJob("master glossary TSV not found, proceeding with empty master", "path", m.masterPath())
		return out
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		log.LogNoJob("master glossary TSV is empty", "path", m.masterPath())
		return out
	}
	sourceIdx, prefIdx := columnIndex(header, "source"), columnIndex(header, "preferred_english")
	if sourceIdx < 0 || prefIdx < 0 {
		log.LogNoJob("master glossary TSV missing required columns", "path", m.masterPath())
		return out
	}

	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if sourceIdx >= len(row) || prefIdx >= len(row) {
			log.LogNoJob("skipping malformed master glossary row", "row", row)
			continue
		}
		source := strings.TrimSpace(row[sourceIdx])
		if source == "" {
			continue
		}
		alts := strings.Split(row[prefIdx], "|")
		var translations []string
		for _, a := range alts {
			a = strings.TrimSpace(a)
			if a != "" {
				translations = append(translations, a)
			}
		}
		if len(translations) == 0 {
			log.LogNoJob("skipping master glossary row with no translations", "source", source)
			continue
		}
		out[strings.ToLower(source)] = translations
	}
	return out
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// loadTmdbDerived consults the Glossary Cache; on miss, extracts terms
// from the configured enrichment payload and saves the result.
func (m *Manager) loadTmdbDerived() termMap {
	if m.cfg.FilmTitle == "" || m.cache == nil {
		return termMap{}
	}

	if cached, ok := m.cache.GetTmdbGlossary(m.cfg.FilmTitle, m.cfg.FilmYear); ok {
		return termMap(cached)
	}

	if m.cfg.Enrichment == nil {
		return termMap{}
	}

	extracted := extractFromEnrichment(*m.cfg.Enrichment, m.cfg.TopNCast)
	if err := m.cache.SaveTmdbGlossary(m.cfg.FilmTitle, m.cfg.FilmYear, glossarycache.Glossary(extracted), nil); err != nil {
		log.LogNoJob("failed to persist tmdb-derived glossary", "err", err.Error())
	}
	return extracted
}

// extractFromEnrichment pulls top-N cast character names and crew names
// for the roles glossary.tmdbCrewRoles names, cleaning cast character
// names of parenthetical qualifiers and "/"-separated aliases.
func extractFromEnrichment(e TmdbEnrichment, topN int) termMap {
	out := termMap{}
	for i, c := range e.Cast {
		if i >= topN {
			break
		}
		if c.Name == "" || c.Character == "" {
			continue
		}
		character := cleanCharacterName(c.Character)
		if character == "" {
			continue
		}
		out[strings.ToLower(c.Name)] = append(out[strings.ToLower(c.Name)], character)
	}
	for _, c := range e.Crew {
		if !tmdbCrewRoles[c.Job] || c.Name == "" {
			continue
		}
		key := strings.ToLower(c.Name)
		if len(out[key]) == 0 {
			out[key] = []string{c.Name}
		}
	}
	return out
}

// cleanCharacterName strips parenthetical qualifiers ("(voice)") and
// keeps only the first alias from a "/"-separated list.
func cleanCharacterName(character string) string {
	cleaned := parentheticalRegex.ReplaceAllString(character, "")
	parts := strings.SplitN(cleaned, "/", 2)
	return strings.TrimSpace(parts[0])
}

// filmSpecificRaw accepts either {"terms": {...}} or a bare
// {source: translation|[translations]} object.
type filmSpecificRaw struct {
	Terms map[string]json.RawMessage `json:"terms"`
}

func (m *Manager) loadFilmSpecific() termMap {
	out := termMap{}
	if m.cfg.FilmTitle == "" {
		return out
	}
	data, err := os.ReadFile(m.filmSpecificPath())
	if err != nil {
		return out
	}

	var wrapped filmSpecificRaw
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Terms != nil {
		raw = wrapped.Terms
	} else if err := json.Unmarshal(data, &raw); err != nil {
		log.LogNoJob("film-specific glossary is malformed JSON, skipping", "path", m.filmSpecificPath())
		return out
	}

	for source, rawVal := range raw {
		var asList []string
		if err := json.Unmarshal(rawVal, &asList); err == nil {
			out[strings.ToLower(source)] = asList
			continue
		}
		var asString string
		if err := json.Unmarshal(rawVal, &asString); err == nil {
			out[strings.ToLower(source)] = []string{asString}
		}
	}
	return out
}

func (m *Manager) loadLearned() map[string]map[string]float64 {
	if m.cache == nil || m.cfg.FilmTitle == "" {
		return map[string]map[string]float64{}
	}
	return m.cache.GetLearnedTerms(m.cfg.FilmTitle, m.cfg.FilmYear)
}

// GetTerm resolves source through the tiers in priority order
// film > tmdb > master > learned, applying strategy within the
// winning tier when it offers multiple translations.
func (m *Manager) GetTerm(source string, ctx Context, strategy Strategy) (string, bool) {
	m.totalRequests++
	key := strings.ToLower(source)

	if translations, ok := m.film[key]; ok && len(translations) > 0 {
		m.hits["film"]++
		return pick(translations, ctx, strategy, nil), true
	}
	if translations, ok := m.tmdb[key]; ok && len(translations) > 0 {
		m.hits["tmdb"]++
		return pick(translations, ctx, strategy, nil), true
	}
	if translations, ok := m.master[key]; ok && len(translations) > 0 {
		m.hits["master"]++
		return pick(translations, ctx, strategy, m.learned[key]), true
	}
	if freqs, ok := m.learned[key]; ok && len(freqs) > 0 {
		m.hits["learned"]++
		translations := make([]string, 0, len(freqs))
		for t := range freqs {
			translations = append(translations, t)
		}
		sort.Strings(translations)
		return pick(translations, ctx, strategy, freqs), true
	}

	m.hits["misses"]++
	return "", false
}

func pick(translations []string, ctx Context, strategy Strategy, freqs map[string]float64) string {
	if len(translations) == 0 {
		return ""
	}
	switch strategy {
	case StrategyFrequency:
		if freqs != nil {
			best, bestScore := translations[0], -1.0
			for _, t := range translations {
				if score := freqs[t]; score > bestScore {
					best, bestScore = t, score
				}
			}
			return best
		}
		return translations[0]
	case StrategyContext:
		if keywords, ok := contextKeywords[ctx]; ok {
			for _, t := range translations {
				lower := strings.ToLower(t)
				for _, kw := range keywords {
					if strings.Contains(lower, kw) {
						return t
					}
				}
			}
		}
		return translations[0]
	default: // StrategyCascade, StrategyFirst, or unset
		return translations[0]
	}
}

var wordSplitRegex = regexp.MustCompile(`\S+|\s+`)
var punctTrimRegex = regexp.MustCompile(`^[^A-Za-z0-9]*(.*?)[^A-Za-z0-9]*$`)

// ApplyToText rewrites text word-by-word using GetTerm, preserving
// surrounding whitespace and restoring punctuation trimmed for lookup.
func (m *Manager) ApplyToText(text string, ctx Context) string {
	tokens := wordSplitRegex.FindAllString(text, -1)
	var b strings.Builder
	for _, tok := range tokens {
		if strings.TrimSpace(tok) == "" {
			b.WriteString(tok)
			continue
		}
		b.WriteString(m.applyToWord(tok, ctx))
	}
	return b.String()
}

func (m *Manager) applyToWord(word string, ctx Context) string {
	match := punctTrimRegex.FindStringSubmatch(word)
	if match == nil || match[1] == "" {
		return word
	}
	core := match[1]
	prefix := word[:strings.Index(word, core)]
	suffix := word[strings.Index(word, core)+len(core):]

	translation, ok := m.GetTerm(core, ctx, StrategyCascade)
	if !ok {
		return word
	}
	return prefix + translation + suffix
}

// TrackUsage adjusts a learned-term frequency score: +1 on success,
// -0.5 on failure, clamped at 0, then persists via the cache.
func (m *Manager) TrackUsage(source, translation string, success bool) error {
	if !m.cfg.LearningEnabled {
		return nil
	}
	key := strings.ToLower(source)
	if m.learned == nil {
		m.learned = map[string]map[string]float64{}
	}
	if m.learned[key] == nil {
		m.learned[key] = map[string]float64{}
	}
	if success {
		m.learned[key][translation] += 1
	} else {
		m.learned[key][translation] -= 0.5
		if m.learned[key][translation] < 0 {
			m.learned[key][translation] = 0
		}
	}
	return m.saveLearnedTerms()
}

func (m *Manager) saveLearnedTerms() error {
	if m.cache == nil || m.cfg.FilmTitle == "" {
		return nil
	}
	return m.cache.UpdateLearnedTerms(m.cfg.FilmTitle, m.cfg.FilmYear, m.learned)
}

// GetBiasTerms returns a deduplicated union of keys from film, tmdb,
// and master (in that priority order), truncated to maxTerms.
func (m *Manager) GetBiasTerms(maxTerms int) []string {
	seen := map[string]bool{}
	var out []string

	addAll := func(tier termMap) {
		keys := make([]string, 0, len(tier))
		for k := range tier {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	addAll(m.film)
	addAll(m.tmdb)
	addAll(m.master)

	if len(out) > maxTerms {
		out = out[:maxTerms]
	}
	return out
}

// GetStatistics reports tier sizes and per-tier resolution hit counts.
func (m *Manager) GetStatistics() Stats {
	hitsCopy := map[string]int{}
	for k, v := range m.hits {
		hitsCopy[k] = v
	}
	stats := Stats{
		FilmTerms:     len(m.film),
		TmdbTerms:     len(m.tmdb),
		MasterTerms:   len(m.master),
		LearnedTerms:  len(m.learned),
		Hits:          hitsCopy,
		TotalRequests: m.totalRequests,
	}
	if m.totalRequests > 0 {
		stats.HitRate = float64(m.totalRequests-m.hits["misses"]) / float64(m.totalRequests)
	}
	return stats
}
