package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cp-whisperx/pipeline/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-dir>",
	Short: "Print the job-level manifest for a job directory without running anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, args []string) error {
	jm, err := pipeline.Summarize(args[0])
	if err != nil {
		return fmt.Errorf("reading job manifest: %w", err)
	}
	data, err := json.MarshalIndent(jm, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
