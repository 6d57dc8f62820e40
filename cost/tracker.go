// Package cost implements the Cost Tracker (C6): per-call cost
// computation from an injectable pricing table, atomic monthly log
// append, and budget threshold alerts. Grounded on userprofile's
// gofrs/flock-guarded read-modify-write for the same reason (multiple
// pipeline processes may log usage for the same user concurrently) and
// on manifest.WriteAtomic for the append-and-rename step; google/uuid
// (present in the teacher's own transitive dependency set) gives each
// CostEntry a stable correlation id independent of timestamp collisions.
package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/cp-whisperx/pipeline/config"
	"github.com/cp-whisperx/pipeline/log"
	"github.com/cp-whisperx/pipeline/manifest"
)

const defaultAlertThresholdPercent = 80.0

// Rate is one (service, model) pricing entry, expressed per 1,000
// tokens.
type Rate struct {
	InputPer1k  float64 `json:"inputPer1k"`
	OutputPer1k float64 `json:"outputPer1k"`
}

// PricingTable maps service -> model -> Rate. Callers load this from a
// versioned JSON file (per the spec's injectability requirement) rather
// than compiling prices into the binary.
type PricingTable map[string]map[string]Rate

// LoadPricingTable reads a PricingTable from a JSON file of the shape
// {"service": {"model": {"inputPer1k":..,"outputPer1k":..}}}.
func LoadPricingTable(path string) (PricingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing table %s: %w", path, err)
	}
	var pt PricingTable
	if err := json.Unmarshal(data, &pt); err != nil {
		return nil, fmt.Errorf("parsing pricing table %s: %w", path, err)
	}
	return pt, nil
}

func (pt PricingTable) rate(service, model string) (Rate, bool) {
	byModel, ok := pt[service]
	if !ok {
		return Rate{}, false
	}
	rate, ok := byModel[model]
	return rate, ok
}

// CostEntry is one append-only record of a metered external-service
// call.
type CostEntry struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	UserID       int                    `json:"userId"`
	JobID        string                 `json:"jobId,omitempty"`
	Service      string                 `json:"service"`
	Model        string                 `json:"model"`
	TokensInput  int                    `json:"tokensInput"`
	TokensOutput int                    `json:"tokensOutput"`
	TokensTotal  int                    `json:"tokensTotal"`
	CostUsd      float64                `json:"costUsd"`
	Stage        string                 `json:"stage,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

type monthlyLog struct {
	Entries  []CostEntry            `json:"entries"`
	Metadata map[string]interface{} `json:"metadata"`
}

// MonthlySummary aggregates one UTC month's usage for a user.
type MonthlySummary struct {
	Month         string             `json:"month"`
	TotalCost     float64            `json:"totalCost"`
	TotalTokens   int                `json:"totalTokens"`
	TotalCalls    int                `json:"totalCalls"`
	UniqueJobs    int                `json:"uniqueJobs"`
	AvgCostPerJob float64            `json:"avgCostPerJob"`
	ByService     map[string]float64 `json:"byService"`
	ByModel       map[string]float64 `json:"byModel"`
}

// BudgetLookup supplies the monthly limit and alert threshold for a
// user without coupling this package to userprofile directly.
type BudgetLookup func(userID int) (monthlyLimitUsd, alertThresholdPercent float64, err error)

// Tracker is bound to a storage directory, a pricing table, a userId,
// and optionally a jobDir.
type Tracker struct {
	storageDir string
	pricing    PricingTable
	userID     int
	jobDir     string
	budget     BudgetLookup
	clock      config.TimestampGenerator
}

// New constructs a Tracker. storageDir defaults to ~/.cp-whisperx/costs
// when empty.
func New(storageDir string, pricing PricingTable, userID int, jobDir string, budget BudgetLookup) *Tracker {
	if storageDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			storageDir = filepath.Join(home, ".cp-whisperx", "costs")
		} else {
			storageDir = filepath.Join(".", ".cp-whisperx", "costs")
		}
	}
	return &Tracker{
		storageDir: storageDir,
		pricing:    pricing,
		userID:     userID,
		jobDir:     jobDir,
		budget:     budget,
		clock:      config.Clock,
	}
}

func (t *Tracker) monthKey(at time.Time) string {
	return at.Format("2006-01")
}

func (t *Tracker) logPath(month string) string {
	return filepath.Join(t.storageDir, month+".json")
}

func (t *Tracker) lockPath(month string) string {
	return filepath.Join(t.storageDir, "."+month+".lock")
}

// defaultJobID derives the job identifier used to filter cost entries; callers
// may override by passing an explicit jobID to methods that accept one.
func (t *Tracker) defaultJobID() string {
	if t.jobDir == "" {
		return ""
	}
	return filepath.Base(t.jobDir)
}

func computeCost(pricing PricingTable, service, model string, tokensIn, tokensOut int) (float64, bool) {
	if service == "local" {
		return 0, true
	}
	rate, ok := pricing.rate(service, model)
	if !ok {
		return 0, false
	}
	return (float64(tokensIn)/1000.0)*rate.InputPer1k + (float64(tokensOut)/1000.0)*rate.OutputPer1k, true
}

// EstimateCost uses the mean of input/output rates applied to the full
// token estimate, for pre-gate budget checks before exact token counts
// are known.
func (t *Tracker) EstimateCost(service, model string, totalTokens int) float64 {
	rate, ok := t.pricing.rate(service, model)
	if !ok || service == "local" {
		return 0
	}
	meanRate := (rate.InputPer1k + rate.OutputPer1k) / 2.0
	return (float64(totalTokens) / 1000.0) * meanRate
}

// LogUsage computes the cost of one call, appends a CostEntry to the
// current UTC month's log atomically, checks budget alerts, and returns
// the computed cost.
func (t *Tracker) LogUsage(service, model string, tokensIn, tokensOut int, stage string, metadata map[string]interface{}) (float64, error) {
	now := t.clock.GetTime()
	cost, known := computeCost(t.pricing, service, model, tokensIn, tokensOut)
	if !known {
		log.LogNoJob("unknown pricing for service/model, recording zero cost", "service", service, "model", model)
	}

	entry := CostEntry{
		ID:           uuid.NewString(),
		Timestamp:    now,
		UserID:       t.userID,
		JobID:        t.defaultJobID(),
		Service:      service,
		Model:        model,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		TokensTotal:  tokensIn + tokensOut,
		CostUsd:      cost,
		Stage:        stage,
		Metadata:     metadata,
	}

	if err := t.appendEntry(now, entry); err != nil {
		return 0, err
	}

	if alerts, err := t.CheckBudgetAlerts(t.userID); err == nil {
		for _, a := range alerts {
			log.LogNoJob("budget alert", "userId", t.userID, "alert", a)
		}
	}

	return cost, nil
}

// appendEntry performs the lock-guarded read-modify-write-then-rename
// cycle onto the current month's log file.
func (t *Tracker) appendEntry(at time.Time, entry CostEntry) error {
	if err := os.MkdirAll(t.storageDir, 0o755); err != nil {
		return fmt.Errorf("creating cost storage dir: %w", err)
	}
	month := t.monthKey(at)

	fl := flock.New(t.lockPath(month))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquiring cost log lock: %w", err)
	}
	defer fl.Unlock()

	ml, err := t.readMonthLocked(month)
	if err != nil {
		return err
	}
	ml.Entries = append(ml.Entries, entry)
	ml.Metadata["month"] = month

	data, err := json.MarshalIndent(ml, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling monthly cost log: %w", err)
	}
	return manifest.WriteAtomic(t.logPath(month), data)
}

func (t *Tracker) readMonthLocked(month string) (*monthlyLog, error) {
	data, err := os.ReadFile(t.logPath(month))
	if err != nil {
		if os.IsNotExist(err) {
			return &monthlyLog{Entries: nil, Metadata: map[string]interface{}{"month": month}}, nil
		}
		return nil, fmt.Errorf("reading monthly cost log: %w", err)
	}
	var ml monthlyLog
	if err := json.Unmarshal(data, &ml); err != nil {
		return nil, fmt.Errorf("parsing monthly cost log %s: %w", t.logPath(month), err)
	}
	if ml.Metadata == nil {
		ml.Metadata = map[string]interface{}{}
	}
	return &ml, nil
}

// readMonth reads without holding the lock, tolerating the file being
// momentarily replaced mid-read (the write-then-rename protocol means a
// reader only ever sees a complete old or new file).
func (t *Tracker) readMonth(month string) (*monthlyLog, error) {
	return t.readMonthLocked(month)
}

// GetJobCost sums costUsd for entries matching jobID, defaulting to the
// bound jobDir's base name.
func (t *Tracker) GetJobCost(jobID string) (float64, error) {
	if jobID == "" {
		jobID = t.defaultJobID()
	}
	ml, err := t.readMonth(t.monthKey(t.clock.GetTime()))
	if err != nil {
		return 0, err
	}
	var total float64
	for _, e := range ml.Entries {
		if e.JobID == jobID {
			total += e.CostUsd
		}
	}
	return total, nil
}

// GetMonthlyCost sums costUsd for the current UTC month filtered by
// userID, defaulting to the bound userID.
func (t *Tracker) GetMonthlyCost(userID int) (float64, error) {
	if userID == 0 {
		userID = t.userID
	}
	ml, err := t.readMonth(t.monthKey(t.clock.GetTime()))
	if err != nil {
		return 0, err
	}
	var total float64
	for _, e := range ml.Entries {
		if e.UserID == userID {
			total += e.CostUsd
		}
	}
	return total, nil
}

// GetStageCosts returns a stage->cost map for jobID, defaulting to the
// bound jobDir.
func (t *Tracker) GetStageCosts(jobID string) (map[string]float64, error) {
	if jobID == "" {
		jobID = t.defaultJobID()
	}
	ml, err := t.readMonth(t.monthKey(t.clock.GetTime()))
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, e := range ml.Entries {
		if e.JobID == jobID && e.Stage != "" {
			out[e.Stage] += e.CostUsd
		}
	}
	return out, nil
}

// GetMonthlySummary aggregates the current UTC month's usage for
// userID, defaulting to the bound userID.
func (t *Tracker) GetMonthlySummary(userID int) (MonthlySummary, error) {
	if userID == 0 {
		userID = t.userID
	}
	month := t.monthKey(t.clock.GetTime())
	ml, err := t.readMonth(month)
	if err != nil {
		return MonthlySummary{}, err
	}

	summary := MonthlySummary{
		Month:     month,
		ByService: map[string]float64{},
		ByModel:   map[string]float64{},
	}
	jobs := map[string]bool{}
	for _, e := range ml.Entries {
		if e.UserID != userID {
			continue
		}
		summary.TotalCost += e.CostUsd
		summary.TotalTokens += e.TokensTotal
		summary.TotalCalls++
		summary.ByService[e.Service] += e.CostUsd
		summary.ByModel[e.Model] += e.CostUsd
		if e.JobID != "" {
			jobs[e.JobID] = true
		}
	}
	summary.UniqueJobs = len(jobs)
	if summary.UniqueJobs > 0 {
		summary.AvgCostPerJob = summary.TotalCost / float64(summary.UniqueJobs)
	}
	return summary, nil
}

// CheckBudgetAlerts compares the current month's spend against the
// user's configured limit, returning a WARNING line at
// percent>=threshold and a CRITICAL line at percent>=100.
func (t *Tracker) CheckBudgetAlerts(userID int) ([]string, error) {
	if userID == 0 {
		userID = t.userID
	}
	if t.budget == nil {
		return nil, nil
	}
	limit, threshold, err := t.budget(userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = defaultAlertThresholdPercent
	}

	spend, err := t.GetMonthlyCost(userID)
	if err != nil {
		return nil, err
	}
	percent := (spend / limit) * 100

	var alerts []string
	if percent >= 100 {
		alerts = append(alerts, fmt.Sprintf("CRITICAL: monthly spend $%.4f has reached %.0f%% of the $%.2f limit", spend, percent, limit))
	} else if percent >= threshold {
		alerts = append(alerts, fmt.Sprintf("WARNING: monthly spend $%.4f has reached %.0f%% of the $%.2f limit", spend, percent, limit))
	}
	return alerts, nil
}

// IsOverBudget reports whether the current month's spend has reached or
// exceeded the user's monthly limit.
func (t *Tracker) IsOverBudget(userID int) (bool, error) {
	if userID == 0 {
		userID = t.userID
	}
	if t.budget == nil {
		return false, nil
	}
	limit, _, err := t.budget(userID)
	if err != nil {
		return false, err
	}
	if limit <= 0 {
		return false, nil
	}
	spend, err := t.GetMonthlyCost(userID)
	if err != nil {
		return false, err
	}
	return spend >= limit, nil
}
