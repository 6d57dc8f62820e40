package userprofile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cp-whisperx/pipeline/registry"
)

// TestCreateNewUserSequence is spec §8 scenario S1.
func TestCreateNewUserSequence(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	p1, err := store.CreateNewUser("Alice", "", nil)
	require.NoError(t, err)
	require.Equal(t, 1, p1.UserID)
	require.Equal(t, "Alice", p1.User.Name)

	data, err := os.ReadFile(filepath.Join(dir, "1", "profile.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"userId": 1`)

	counter, err := os.ReadFile(filepath.Join(dir, ".userIdCounter"))
	require.NoError(t, err)
	require.Equal(t, "2", strings.TrimSpace(string(counter)))

	p2, err := store.CreateNewUser("Bob", "", nil)
	require.NoError(t, err)
	require.Equal(t, 2, p2.UserID)
}

// TestGetNextUserIdMonotoneUnderConcurrency is spec §8 property 1.
func TestGetNextUserIdMonotoneUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	const n = 20
	results := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id, err := store.GetNextUserId()
			require.NoError(t, err)
			results[idx] = id
		}(i)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, id := range results {
		require.False(t, seen[id], "duplicate id issued: %d", id)
		seen[id] = true
	}
	for i := 1; i <= n; i++ {
		require.True(t, seen[i], "id %d never issued", i)
	}
}

func TestLoadRejectsMismatchedSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	userDir := filepath.Join(dir, "1")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "profile.json"), []byte(`{
		"userId": 1, "schemaVersion": "bogus", "credentials": {}
	}`), 0o644))

	_, err := store.Load(1, "")
	require.Error(t, err)
}

func TestLoadCorrectsMismatchedUserIdWithWarning(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	userDir := filepath.Join(dir, "1")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "profile.json"), []byte(`{
		"userId": 999, "schemaVersion": "1.0", "credentials": {}
	}`), 0o644))

	p, err := store.Load(1, "")
	require.NoError(t, err)
	require.Equal(t, 1, p.UserID)
}

func TestLoadMissingProfileMigratesLegacySecrets(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	legacyPath := filepath.Join(dir, "legacy.env")
	require.NoError(t, os.WriteFile(legacyPath, []byte("HUGGINGFACE_TOKEN=hf_abc\nTMDB_API_KEY=tmdb_xyz\n"), 0o644))

	p, err := store.Load(5, legacyPath)
	require.NoError(t, err)
	require.Equal(t, 5, p.UserID)
	cred := p.GetCredential("huggingface", "token")
	require.NotNil(t, cred)
	require.Equal(t, "hf_abc", *cred)

	// Second load reads the persisted profile, not the legacy file again.
	p2, err := store.Load(5, legacyPath)
	require.NoError(t, err)
	require.Equal(t, p.SchemaVersion, p2.SchemaVersion)
}

func TestGetCredentialReturnsNilForEmptyString(t *testing.T) {
	p := &Profile{Credentials: map[string]CredentialPair{"huggingface": {"token": ""}}}
	require.Nil(t, p.GetCredential("huggingface", "token"))
	require.Nil(t, p.GetCredential("nonexistent", "token"))
}

func TestSetCredentialPrefersExistingSection(t *testing.T) {
	p := &Profile{
		Credentials:    map[string]CredentialPair{"huggingface": {}},
		OnlineServices: map[string]onlineServiceJSON{},
	}
	p.SetCredential("huggingface", "token", "hf_new")
	require.Equal(t, "hf_new", p.Credentials["huggingface"]["token"])

	p.SetCredential("newservice", "apiKey", "xyz")
	require.Equal(t, "xyz", p.OnlineServices["newservice"]["apiKey"])
	require.Equal(t, false, p.OnlineServices["newservice"]["enabled"])
}

func TestHasServiceRequiresEnabledTrue(t *testing.T) {
	p := &Profile{OnlineServices: map[string]onlineServiceJSON{
		"tmdb": {"enabled": true},
		"yt":   {"enabled": false},
	}}
	require.True(t, p.HasService("tmdb"))
	require.False(t, p.HasService("yt"))
	require.False(t, p.HasService("absent"))
}

func TestValidateForWorkflowReportsAllMissing(t *testing.T) {
	p := &Profile{Credentials: map[string]CredentialPair{}}
	err := p.ValidateForWorkflow(registry.Subtitle)
	require.Error(t, err)
	require.Contains(t, err.Error(), "huggingface.token")
	require.Contains(t, err.Error(), "tmdb.api_key")
}

func TestValidateForWorkflowPassesWhenPresent(t *testing.T) {
	p := &Profile{Credentials: map[string]CredentialPair{
		"huggingface": {"token": "hf_abc"},
	}}
	require.NoError(t, p.ValidateForWorkflow(registry.Transcribe))
}

func TestSaveRoundTripsThroughJSON(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	p, err := store.CreateNewUser("Carol", "carol@example.com", nil)
	require.NoError(t, err)

	p.BudgetCfg.MonthlyLimitUsd = 100
	require.NoError(t, p.Save())

	data, err := os.ReadFile(filepath.Join(dir, strconv.Itoa(p.UserID), "profile.json"))
	require.NoError(t, err)
	var reloaded Profile
	require.NoError(t, json.Unmarshal(data, &reloaded))
	require.InDelta(t, 100, reloaded.BudgetCfg.MonthlyLimitUsd, 1e-9)
}
