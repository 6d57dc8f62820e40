package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cp-whisperx/pipeline/cost"
	"github.com/cp-whisperx/pipeline/userprofile"
)

var costsCmd = &cobra.Command{
	Use:   "costs <userId>",
	Short: "Print the current month's cost summary for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runCosts,
}

func init() {
	rootCmd.AddCommand(costsCmd)
}

func runCosts(_ *cobra.Command, args []string) error {
	userID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("userId must be an integer: %w", err)
	}

	store := userprofile.NewStore(usersDir)
	profile, err := store.Load(userID, legacySecrets)
	if err != nil {
		return err
	}

	pricing, err := cost.LoadPricingTable(pricingPath)
	if err != nil {
		pricing = cost.PricingTable{}
	}

	budgetLookup := func(int) (float64, float64, error) {
		b := profile.Budget()
		return b.MonthlyLimitUsd, b.AlertThresholdPercent, nil
	}
	tracker := cost.New(costStorageDir, pricing, userID, "", budgetLookup)

	summary, err := tracker.GetMonthlySummary(userID)
	if err != nil {
		return err
	}
	alerts, err := tracker.CheckBudgetAlerts(userID)
	if err != nil {
		return err
	}

	out := struct {
		cost.MonthlySummary
		Alerts []string `json:"alerts,omitempty"`
	}{summary, alerts}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
