package cost

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openAIPricing() PricingTable {
	return PricingTable{
		"openai": {
			"gpt-4":    {InputPer1k: 0.03, OutputPer1k: 0.06},
			"gpt-4o":   {InputPer1k: 0.0025, OutputPer1k: 0.01},
		},
	}
}

func fixedBudget(limit, threshold float64) BudgetLookup {
	return func(userID int) (float64, float64, error) {
		return limit, threshold, nil
	}
}

// TestLogUsageComputesCost is spec §8 scenario S3.
func TestLogUsageComputesCost(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir, openAIPricing(), 1, "", nil)

	cost, err := tr.LogUsage("openai", "gpt-4", 1000, 200, "", nil)
	require.NoError(t, err)
	require.InDelta(t, 0.042, cost, 1e-4)

	month := tr.monthKey(tr.clock.GetTime())
	data, err := os.ReadFile(tr.logPath(month))
	require.NoError(t, err)

	var ml monthlyLog
	require.NoError(t, json.Unmarshal(data, &ml))
	require.Len(t, ml.Entries, 1)
	require.Equal(t, 1200, ml.Entries[0].TokensTotal)
	require.InDelta(t, 0.042, ml.Entries[0].CostUsd, 1e-4)
	require.Nil(t, ml.Entries[0].Metadata)
}

// TestBudgetWarningAtThreshold is spec §8 scenario S2.
func TestBudgetWarningAtThreshold(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir, openAIPricing(), 7, "", fixedBudget(50, 80))

	month := tr.monthKey(tr.clock.GetTime())
	seed := monthlyLog{
		Entries: []CostEntry{
			{ID: "seed-1", UserID: 7, Service: "openai", Model: "gpt-4", CostUsd: 40.00, Timestamp: time.Now()},
		},
		Metadata: map[string]interface{}{"month": month},
	}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(tr.logPath(month), data, 0o644))

	cost, err := tr.LogUsage("openai", "gpt-4o", 1000, 200, "", nil)
	require.NoError(t, err)
	require.InDelta(t, 0.0045, cost, 1e-4)

	alerts, err := tr.CheckBudgetAlerts(7)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Contains(t, alerts[0], "WARNING")
	require.Contains(t, alerts[0], "80%")
}

func TestCheckBudgetAlertsCriticalAtOrOverLimit(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir, openAIPricing(), 1, "", fixedBudget(10, 80))

	_, err := tr.LogUsage("openai", "gpt-4", 200000, 0, "", nil) // $6.00, under
	require.NoError(t, err)
	_, err = tr.LogUsage("openai", "gpt-4", 200000, 0, "", nil) // +$6.00 => $12 >= $10
	require.NoError(t, err)

	alerts, err := tr.CheckBudgetAlerts(1)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Contains(t, alerts[0], "CRITICAL")
}

func TestUnknownPricingYieldsZeroCost(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir, openAIPricing(), 1, "", nil)

	cost, err := tr.LogUsage("unknownservice", "unknownmodel", 1000, 1000, "", nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, cost)
}

func TestLocalServiceAlwaysZero(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir, openAIPricing(), 1, "", nil)

	cost, err := tr.LogUsage("local", "whisper-large", 5000, 0, "asr", nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, cost)
}

// TestCostConservation is spec §8 property 4.
func TestCostConservation(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(t.TempDir(), "job-42")
	tr := New(dir, openAIPricing(), 3, jobDir, nil)

	var sum float64
	for i := 0; i < 5; i++ {
		c, err := tr.LogUsage("openai", "gpt-4o", 500, 100, "translation", nil)
		require.NoError(t, err)
		sum += c
	}

	jobCost, err := tr.GetJobCost("")
	require.NoError(t, err)
	require.InDelta(t, sum, jobCost, 1e-9)
}

func TestGetStageCostsGroupsByStage(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(t.TempDir(), "job-9")
	tr := New(dir, openAIPricing(), 1, jobDir, nil)

	_, err := tr.LogUsage("openai", "gpt-4", 1000, 0, "asr", nil)
	require.NoError(t, err)
	_, err = tr.LogUsage("openai", "gpt-4", 1000, 0, "translation", nil)
	require.NoError(t, err)
	_, err = tr.LogUsage("openai", "gpt-4", 1000, 0, "translation", nil)
	require.NoError(t, err)

	stages, err := tr.GetStageCosts("")
	require.NoError(t, err)
	require.InDelta(t, 0.03, stages["asr"], 1e-9)
	require.InDelta(t, 0.06, stages["translation"], 1e-9)
}

func TestEstimateCostUsesMeanRate(t *testing.T) {
	tr := New(t.TempDir(), openAIPricing(), 1, "", nil)
	// mean of 0.03/0.06 = 0.045 per 1k; 2000 tokens => 0.09
	require.InDelta(t, 0.09, tr.EstimateCost("openai", "gpt-4", 2000), 1e-9)
	require.Equal(t, 0.0, tr.EstimateCost("local", "whisper", 2000))
}

func TestIsOverBudgetWithNoLimitConfiguredIsFalse(t *testing.T) {
	tr := New(t.TempDir(), openAIPricing(), 1, "", fixedBudget(0, 80))
	over, err := tr.IsOverBudget(1)
	require.NoError(t, err)
	require.False(t, over)
}

func TestGetMonthlySummaryAggregates(t *testing.T) {
	dir := t.TempDir()
	jobDirA := filepath.Join(t.TempDir(), "job-a")
	jobDirB := filepath.Join(t.TempDir(), "job-b")
	trA := New(dir, openAIPricing(), 1, jobDirA, nil)
	trB := New(dir, openAIPricing(), 1, jobDirB, nil)

	_, err := trA.LogUsage("openai", "gpt-4", 1000, 0, "asr", nil)
	require.NoError(t, err)
	_, err = trB.LogUsage("openai", "gpt-4o", 1000, 0, "translation", nil)
	require.NoError(t, err)

	summary, err := trA.GetMonthlySummary(1)
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalCalls)
	require.Equal(t, 2, summary.UniqueJobs)
	require.InDelta(t, summary.TotalCost/2, summary.AvgCostPerJob, 1e-9)
}
