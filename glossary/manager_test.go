package glossary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cp-whisperx/pipeline/glossarycache"
)

func writeMasterTSV(t *testing.T, projectRoot string, rows [][2]string) {
	t.Helper()
	dir := filepath.Join(projectRoot, "glossary")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	var b []byte
	b = append(b, []byte("source\tpreferred_english\n")...)
	for _, r := range rows {
		b = append(b, []byte(r[0]+"\t"+r[1]+"\n")...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hinglish_master.tsv"), b, 0o644))
}

func writeFilmSpecific(t *testing.T, projectRoot, slug string, content string) {
	t.Helper()
	dir := filepath.Join(projectRoot, "glossary", "films", "popular")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, slug+".json"), []byte(content), 0o644))
}

func TestLoadMasterParsesPipeSeparatedAlternatives(t *testing.T) {
	root := t.TempDir()
	writeMasterTSV(t, root, [][2]string{{"yaar", "friend|buddy|pal"}})

	m := NewManager(Config{ProjectRoot: root}, nil)
	require.NoError(t, m.LoadAllSources())

	term, ok := m.GetTerm("yaar", "", StrategyFirst)
	require.True(t, ok)
	require.Equal(t, "friend", term)
}

func TestLoadMasterMissingFileYieldsEmptyMaster(t *testing.T) {
	m := NewManager(Config{ProjectRoot: t.TempDir()}, nil)
	require.NoError(t, m.LoadAllSources())
	_, ok := m.GetTerm("anything", "", StrategyFirst)
	require.False(t, ok)
}

func TestLoadMasterSkipsMalformedRows(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "glossary")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "source\tpreferred_english\nyaar\tfriend\nincomplete_row_no_tab\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hinglish_master.tsv"), []byte(content), 0o644))

	m := NewManager(Config{ProjectRoot: root}, nil)
	require.NoError(t, m.LoadAllSources())

	term, ok := m.GetTerm("yaar", "", StrategyFirst)
	require.True(t, ok)
	require.Equal(t, "friend", term)
}

// TestGlossaryPriorityCascade is spec §8 scenario S4 / property 6.
func TestGlossaryPriorityCascade(t *testing.T) {
	root := t.TempDir()
	writeMasterTSV(t, root, [][2]string{{"test", "master_translation"}})

	slug := glossarycache.FilmSlug("Film Title", 2020)
	writeFilmSpecific(t, root, slug, `{"test": "film_translation"}`)

	cache := glossarycache.New(t.TempDir(), 30)
	require.NoError(t, cache.SaveTmdbGlossary("Film Title", 2020, glossarycache.Glossary{
		"test": {"tmdb_translation"},
	}, nil))

	m := NewManager(Config{ProjectRoot: root, FilmTitle: "Film Title", FilmYear: 2020}, cache)
	require.NoError(t, m.LoadAllSources())

	term, ok := m.GetTerm("test", "", StrategyCascade)
	require.True(t, ok)
	require.Equal(t, "film_translation", term)
}

func TestFilmSpecificAcceptsBareListForm(t *testing.T) {
	root := t.TempDir()
	slug := glossarycache.FilmSlug("Bare Form Film", 2022)
	writeFilmSpecific(t, root, slug, `{"dost": ["friend", "mate"]}`)

	m := NewManager(Config{ProjectRoot: root, FilmTitle: "Bare Form Film", FilmYear: 2022}, nil)
	require.NoError(t, m.LoadAllSources())

	term, ok := m.GetTerm("dost", "", StrategyFirst)
	require.True(t, ok)
	require.Equal(t, "friend", term)
}

func TestExtractFromEnrichmentCleansCharacterNames(t *testing.T) {
	e := TmdbEnrichment{}
	e.Cast = append(e.Cast, struct {
		Name      string `json:"name"`
		Character string `json:"character"`
	}{Name: "Amitabh Bachchan", Character: "Vijay (voice) / Raj"})
	e.Crew = append(e.Crew, struct {
		Name string `json:"name"`
		Job  string `json:"job"`
	}{Name: "Karan Johar", Job: "Director"})
	e.Crew = append(e.Crew, struct {
		Name string `json:"name"`
		Job  string `json:"job"`
	}{Name: "Some Gaffer", Job: "Gaffer"})

	out := extractFromEnrichment(e, 10)
	require.Equal(t, []string{"Vijay"}, out["amitabh bachchan"])
	require.Equal(t, []string{"Karan Johar"}, out["karan johar"])
	require.NotContains(t, out, "some gaffer")
}

func TestGetTermFrequencyStrategyPicksHighestScore(t *testing.T) {
	root := t.TempDir()
	writeMasterTSV(t, root, [][2]string{{"yaar", "friend|buddy"}})
	cache := glossarycache.New(t.TempDir(), 30)
	require.NoError(t, cache.UpdateLearnedTerms("Score Film", 2021, map[string]map[string]float64{
		"yaar": {"friend": 1, "buddy": 5},
	}))

	m := NewManager(Config{ProjectRoot: root, FilmTitle: "Score Film", FilmYear: 2021}, cache)
	require.NoError(t, m.LoadAllSources())

	term, ok := m.GetTerm("yaar", "", StrategyFrequency)
	require.True(t, ok)
	require.Equal(t, "buddy", term)
}

func TestGetTermContextStrategyFallsBackToFirst(t *testing.T) {
	root := t.TempDir()
	writeMasterTSV(t, root, [][2]string{{"yaar", "dude|pal"}})
	m := NewManager(Config{ProjectRoot: root}, nil)
	require.NoError(t, m.LoadAllSources())

	term, ok := m.GetTerm("yaar", ContextCasual, StrategyContext)
	require.True(t, ok)
	require.Equal(t, "dude", term)

	term, ok = m.GetTerm("yaar", ContextFormal, StrategyContext)
	require.True(t, ok)
	require.Equal(t, "dude", term) // no formal keyword match, falls back to first
}

func TestApplyToTextPreservesPunctuationAndWhitespace(t *testing.T) {
	root := t.TempDir()
	writeMasterTSV(t, root, [][2]string{{"yaar", "friend"}})
	m := NewManager(Config{ProjectRoot: root}, nil)
	require.NoError(t, m.LoadAllSources())

	out := m.ApplyToText("Hello, yaar!  How are you?", "")
	require.Equal(t, "Hello, friend!  How are you?", out)
}

func TestTrackUsageIncrementsOnSuccessAndDecrementsOnFailureClamped(t *testing.T) {
	cache := glossarycache.New(t.TempDir(), 30)
	m := NewManager(Config{FilmTitle: "Usage Film", FilmYear: 2023, LearningEnabled: true}, cache)
	require.NoError(t, m.LoadAllSources())

	require.NoError(t, m.TrackUsage("yaar", "friend", true))
	require.Equal(t, 1.0, m.learned["yaar"]["friend"])

	require.NoError(t, m.TrackUsage("yaar", "friend", false))
	require.Equal(t, 0.5, m.learned["yaar"]["friend"])
	require.NoError(t, m.TrackUsage("yaar", "friend", false))
	require.NoError(t, m.TrackUsage("yaar", "friend", false))
	require.Equal(t, 0.0, m.learned["yaar"]["friend"])
}

func TestTrackUsageNoopWhenLearningDisabled(t *testing.T) {
	m := NewManager(Config{FilmTitle: "No Learning", FilmYear: 2023, LearningEnabled: false}, glossarycache.New(t.TempDir(), 30))
	require.NoError(t, m.LoadAllSources())
	require.NoError(t, m.TrackUsage("yaar", "friend", true))
	require.Empty(t, m.learned)
}

func TestGetBiasTermsDedupesAcrossTiersInPriorityOrder(t *testing.T) {
	root := t.TempDir()
	writeMasterTSV(t, root, [][2]string{{"yaar", "friend"}, {"dost", "pal"}})
	slug := glossarycache.FilmSlug("Bias Film", 2020)
	writeFilmSpecific(t, root, slug, `{"yaar": "buddy_film"}`)

	m := NewManager(Config{ProjectRoot: root, FilmTitle: "Bias Film", FilmYear: 2020}, nil)
	require.NoError(t, m.LoadAllSources())

	terms := m.GetBiasTerms(10)
	require.Contains(t, terms, "yaar")
	require.Contains(t, terms, "dost")

	limited := m.GetBiasTerms(1)
	require.Len(t, limited, 1)
}

func TestGetStatisticsTracksHitsAndMisses(t *testing.T) {
	root := t.TempDir()
	writeMasterTSV(t, root, [][2]string{{"yaar", "friend"}})
	m := NewManager(Config{ProjectRoot: root}, nil)
	require.NoError(t, m.LoadAllSources())

	_, _ = m.GetTerm("yaar", "", StrategyFirst)
	_, _ = m.GetTerm("absent", "", StrategyFirst)

	stats := m.GetStatistics()
	require.Equal(t, 2, stats.TotalRequests)
	require.Equal(t, 1, stats.Hits["master"])
	require.Equal(t, 1, stats.Hits["misses"])
	require.InDelta(t, 0.5, stats.HitRate, 1e-9)
}
