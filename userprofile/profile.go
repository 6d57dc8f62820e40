// Package userprofile implements the User Profile Store (C5): monotonic
// user-id issuance, profile load/save, legacy credential migration, and
// workflow capability validation. Grounded on the teacher's pattern of a
// small on-disk JSON resource guarded by an explicit save() (config/cli.go
// treats CLI-sourced values similarly as an explicit, validated struct)
// and on gofrs/flock, present in the teacher's own go.mod and several
// sibling example repos' manifests, for the counter file's
// serialize-across-processes requirement that a Go sync.Mutex alone
// cannot provide.
package userprofile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/cp-whisperx/pipeline/config"
	cperrors "github.com/cp-whisperx/pipeline/errors"
	"github.com/cp-whisperx/pipeline/log"
	"github.com/cp-whisperx/pipeline/manifest"
	"github.com/cp-whisperx/pipeline/registry"
)

var schemaVersionPattern = regexp.MustCompile(`^\d+\.\d+$`)

const currentSchemaVersion = "1.0"

// CredentialPair is one service's credential section: {key: value, ...}.
type CredentialPair map[string]string

// Budget holds the monthly spend ceiling consulted by the Cost Tracker.
type Budget struct {
	MonthlyLimitUsd      float64 `json:"monthlyLimitUsd"`
	AlertThresholdPercent float64 `json:"alertThresholdPercent"`
}

// UserInfo is the human-facing identity portion of a profile.
type UserInfo struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Profile is the persisted shape of users/{userId}/profile.json.
type Profile struct {
	UserID         int                          `json:"userId"`
	SchemaVersion  string                       `json:"schemaVersion"`
	User           UserInfo                     `json:"user"`
	Credentials    map[string]CredentialPair    `json:"credentials"`
	OnlineServices map[string]onlineServiceJSON `json:"onlineServices"`
	Preferences    map[string]interface{}       `json:"preferences,omitempty"`
	BudgetCfg      Budget                       `json:"budget"`

	dir string
}

// onlineServiceJSON is one entry under onlineServices: arbitrary
// string keys live alongside the fixed "enabled" key.
type onlineServiceJSON map[string]interface{}

// Store roots all profile storage at baseDir (typically the process's
// users/ directory) and serializes getNextUserId across processes via
// an advisory lock on baseDir/.userIdCounter.lock.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) counterPath() string { return filepath.Join(s.baseDir, ".userIdCounter") }
func (s *Store) lockPath() string    { return filepath.Join(s.baseDir, ".userIdCounter.lock") }
func (s *Store) userDir(userID int) string {
	return filepath.Join(s.baseDir, strconv.Itoa(userID))
}
func (s *Store) profilePath(userID int) string {
	return filepath.Join(s.userDir(userID), "profile.json")
}

// GetNextUserId returns the id held in the durable counter (1 when the
// counter is absent) and advances the counter to the following id, under
// an advisory file lock so concurrent processes issue distinct,
// contiguous, increasing ids (spec §8 property 1).
func (s *Store) GetNextUserId() (int, error) {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating base dir: %w", err)
	}

	fl := flock.New(s.lockPath())
	if err := fl.Lock(); err != nil {
		return 0, fmt.Errorf("acquiring user-id counter lock: %w", err)
	}
	defer fl.Unlock()

	next := 1
	if data, err := os.ReadFile(s.counterPath()); err == nil {
		if stored, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && stored > 0 {
			next = stored
		}
	}
	if err := manifest.WriteAtomic(s.counterPath(), []byte(strconv.Itoa(next+1))); err != nil {
		return 0, fmt.Errorf("writing user-id counter: %w", err)
	}
	return next, nil
}

// CreateNewUser issues a new id, scaffolds its directory tree, and
// writes a populated template profile.
func (s *Store) CreateNewUser(name, email string, initialCredentials map[string]CredentialPair) (*Profile, error) {
	userID, err := s.GetNextUserId()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(s.userDir(userID), "cache"), 0o755); err != nil {
		return nil, fmt.Errorf("creating user directories: %w", err)
	}

	creds := initialCredentials
	if creds == nil {
		creds = map[string]CredentialPair{}
	}

	p := &Profile{
		UserID:        userID,
		SchemaVersion: currentSchemaVersion,
		User: UserInfo{
			Name:      name,
			Email:     email,
			CreatedAt: config.Clock.GetTime().Format("2006-01-02T15:04:05Z07:00"),
		},
		Credentials:    creds,
		OnlineServices: map[string]onlineServiceJSON{},
		Preferences:    map[string]interface{}{},
		BudgetCfg:      Budget{MonthlyLimitUsd: 0, AlertThresholdPercent: 80},
		dir:            s.userDir(userID),
	}
	if err := p.Save(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads users/{userId}/profile.json, performing a one-shot legacy
// migration from legacySecretsPath (may be empty) if the profile does
// not yet exist, and validates the schema on every load.
func (s *Store) Load(userID int, legacySecretsPath string) (*Profile, error) {
	path := s.profilePath(userID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) || legacySecretsPath == "" {
			if os.IsNotExist(err) {
				return nil, cperrors.NewInvalidProfile(userID, "profile does not exist", err)
			}
			return nil, fmt.Errorf("reading profile %s: %w", path, err)
		}
		return s.migrateLegacy(userID, legacySecretsPath)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, cperrors.NewInvalidProfile(userID, "malformed profile JSON", err)
	}
	p.dir = s.userDir(userID)

	if err := validateSchema(&p, userID); err != nil {
		return nil, err
	}
	if p.UserID != userID {
		log.LogNoJob("profile userId mismatch with directory, correcting", "directory", userID, "stored", p.UserID)
		p.UserID = userID
	}
	return &p, nil
}

func validateSchema(p *Profile, dirUserID int) error {
	if p.UserID <= 0 {
		return cperrors.NewInvalidProfile(dirUserID, "userId must be a positive integer", nil)
	}
	if !schemaVersionPattern.MatchString(p.SchemaVersion) {
		return cperrors.NewInvalidProfile(dirUserID, fmt.Sprintf("schemaVersion %q does not match ^\\d+\\.\\d+$", p.SchemaVersion), nil)
	}
	if p.Credentials == nil {
		return cperrors.NewInvalidProfile(dirUserID, "credentials section is required", nil)
	}
	return nil
}

// migrateLegacy synthesizes a profile from a legacy flat secrets file
// (KEY=value lines, e.g. HUGGINGFACE_TOKEN) the first time a userId is
// loaded with no profile.json on disk, then persists it under the new
// schema so the migration runs exactly once.
func (s *Store) migrateLegacy(userID int, legacySecretsPath string) (*Profile, error) {
	data, err := os.ReadFile(legacySecretsPath)
	if err != nil {
		return nil, cperrors.NewInvalidProfile(userID, "profile missing and no legacy secrets file found", err)
	}

	creds := map[string]CredentialPair{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		service, credKey := legacyKeyToServiceKey(key)
		if service == "" {
			continue
		}
		if creds[service] == nil {
			creds[service] = CredentialPair{}
		}
		creds[service][credKey] = value
	}

	p := &Profile{
		UserID:         userID,
		SchemaVersion:  currentSchemaVersion,
		Credentials:    creds,
		OnlineServices: map[string]onlineServiceJSON{},
		Preferences:    map[string]interface{}{},
		BudgetCfg:      Budget{MonthlyLimitUsd: 0, AlertThresholdPercent: 80},
		dir:            s.userDir(userID),
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, err
	}
	if err := p.Save(); err != nil {
		return nil, err
	}
	log.LogNoJob("migrated legacy secrets into profile", "userId", userID)
	return p, nil
}

// legacyKeyToServiceKey maps a flat legacy env key like
// HUGGINGFACE_TOKEN to the ("huggingface", "token") it corresponds to
// under the new nested credentials schema.
func legacyKeyToServiceKey(flatKey string) (service, key string) {
	switch flatKey {
	case "HUGGINGFACE_TOKEN":
		return "huggingface", "token"
	case "TMDB_API_KEY":
		return "tmdb", "api_key"
	case "OPENAI_API_KEY":
		return "openai", "api_key"
	default:
		return "", ""
	}
}

// GetCredential returns nil for missing or empty-string values,
// checking credentials first, then onlineServices.
func (p *Profile) GetCredential(service, key string) *string {
	if pair, ok := p.Credentials[service]; ok {
		if v, ok := pair[key]; ok && v != "" {
			return &v
		}
	}
	if svc, ok := p.OnlineServices[service]; ok {
		if raw, ok := svc[key]; ok {
			if s, ok := raw.(string); ok && s != "" {
				return &s
			}
		}
	}
	return nil
}

// SetCredential writes to whichever section already has this service
// as a key; if neither does, it creates the entry under onlineServices.
func (p *Profile) SetCredential(service, key, value string) {
	if _, ok := p.Credentials[service]; ok {
		p.Credentials[service][key] = value
		return
	}
	if _, ok := p.OnlineServices[service]; ok {
		p.OnlineServices[service][key] = value
		return
	}
	if p.OnlineServices == nil {
		p.OnlineServices = map[string]onlineServiceJSON{}
	}
	p.OnlineServices[service] = onlineServiceJSON{key: value, "enabled": false}
}

// HasService reports whether service is present under onlineServices
// and explicitly enabled.
func (p *Profile) HasService(service string) bool {
	svc, ok := p.OnlineServices[service]
	if !ok {
		return false
	}
	enabled, _ := svc["enabled"].(bool)
	return enabled
}

// workflowRequirements lists the "service.key" credential paths each
// workflow needs before its first stage may run.
var workflowRequirements = map[registry.Workflow][]string{
	registry.Transcribe: {"huggingface.token"},
	registry.Translate:  {"huggingface.token"},
	registry.Subtitle:   {"huggingface.token", "tmdb.api_key"},
}

// ValidateForWorkflow returns MissingCredential, naming every absent
// required credential, or nil if all are present.
func (p *Profile) ValidateForWorkflow(workflow registry.Workflow) error {
	required := workflowRequirements[workflow]
	var missing []string
	for _, path := range required {
		parts := strings.SplitN(path, ".", 2)
		if len(parts) != 2 {
			continue
		}
		if p.GetCredential(parts[0], parts[1]) == nil {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return cperrors.NewMissingCredential(string(workflow), missing)
	}
	return nil
}

// Save atomically writes the profile JSON.
func (p *Profile) Save() error {
	if p.dir == "" {
		return cperrors.NewInternalConsistency("profile has no backing directory; was it loaded via Store?")
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}
	return manifest.WriteAtomic(filepath.Join(p.dir, "profile.json"), data)
}

// Budget returns the profile's configured monthly budget.
func (p *Profile) Budget() Budget {
	return p.BudgetCfg
}
