package jobconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestLoadMergesProcessAndJobConfig(t *testing.T) {
	dir := t.TempDir()
	processConfigPath := filepath.Join(dir, "process.env")
	writeFile(t, processConfigPath, "SOURCELANGUAGE=en\nVAD_THRESHOLD=0.5\n")

	jobDir := filepath.Join(dir, "job-1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	writeFile(t, filepath.Join(jobDir, "job.json"), `{
		"jobId": "job-1",
		"sourceLanguage": "hi",
		"vad": {"enabled": true, "threshold": 0.7}
	}`)

	r := NewResolver(processConfigPath, "")
	v, err := r.Load(jobDir, false)
	require.NoError(t, err)

	// job.json overrides the process config for a shared key.
	require.Equal(t, "hi", GetString(v, "sourceLanguage", ""))
	require.True(t, GetBool(v, "vad.enabled", false))
	require.InDelta(t, 0.7, GetFloat(v, "vad.threshold", 0), 1e-9)
}

func TestLoadCachesUntilForceReload(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(dir, "job-1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	writeFile(t, filepath.Join(jobDir, "job.json"), `{"jobId": "job-1"}`)

	r := NewResolver(filepath.Join(dir, "missing.env"), "")
	v1, err := r.Load(jobDir, false)
	require.NoError(t, err)

	writeFile(t, filepath.Join(jobDir, "job.json"), `{"jobId": "job-1", "workflow": "translate"}`)

	v2, err := r.Load(jobDir, false)
	require.NoError(t, err)
	require.Same(t, v1, v2)
	require.False(t, v2.IsSet("workflow"))

	v3, err := r.Load(jobDir, true)
	require.NoError(t, err)
	require.Equal(t, "translate", GetString(v3, "workflow", ""))
}

func TestUnknownKeyReturnsCallerDefault(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(dir, "job-1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	writeFile(t, filepath.Join(jobDir, "job.json"), `{"jobId": "job-1"}`)

	r := NewResolver(filepath.Join(dir, "missing.env"), "")
	v, err := r.Load(jobDir, false)
	require.NoError(t, err)

	require.Equal(t, "fallback", GetString(v, "doesNotExist", "fallback"))
	require.Equal(t, 42, GetInt(v, "doesNotExist", 42))
	require.False(t, GetBool(v, "doesNotExist", false))
}

func TestGetIntRejectsNonNumeric(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(dir, "job-1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	writeFile(t, filepath.Join(jobDir, "job.json"), `{"jobId": "job-1", "numBeams": "not-a-number"}`)

	r := NewResolver(filepath.Join(dir, "missing.env"), "")
	v, err := r.Load(jobDir, false)
	require.NoError(t, err)
	require.Equal(t, 5, GetInt(v, "numBeams", 5))
}

func TestGetList(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(dir, "job-1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	writeFile(t, filepath.Join(jobDir, "job.json"), `{"jobId": "job-1", "targetLanguages": "en, fr,de"}`)

	r := NewResolver(filepath.Join(dir, "missing.env"), "")
	v, err := r.Load(jobDir, false)
	require.NoError(t, err)
	require.Equal(t, []string{"en", "fr", "de"}, GetList(v, "targetLanguages", nil))
}

func TestLegacySecretBackwardCompat(t *testing.T) {
	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets.env")
	writeFile(t, secretsPath, "HUGGINGFACE_TOKEN=hf_legacy_token\n")

	r := NewResolver(filepath.Join(dir, "missing.env"), secretsPath)
	val, ok := r.LegacySecret("HUGGINGFACE_TOKEN")
	require.True(t, ok)
	require.Equal(t, "hf_legacy_token", val)

	_, ok = r.LegacySecret("NOT_PRESENT")
	require.False(t, ok)
}
