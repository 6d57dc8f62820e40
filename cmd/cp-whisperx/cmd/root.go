// Package cmd implements the cp-whisperx CLI commands.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	usersDir        string
	costStorageDir  string
	pricingPath     string
	processEnvPath  string
	legacySecrets   string
	glossaryRoot    string
	mediaCacheDir   string
)

var rootCmd = &cobra.Command{
	Use:   "cp-whisperx",
	Short: "Staged transcription, translation, and subtitling pipeline",
	Long: `cp-whisperx drives a job of Whisper-based transcription, MarianMT
translation, and subtitle muxing through an ordered, resumable stage
pipeline, tracking per-call cost against a user's monthly budget.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfigDefaults()
	},
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing command: %w", err)
	}
	return nil
}

func init() {
	home, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(home, ".cp-whisperx")

	rootCmd.PersistentFlags().StringVar(&usersDir, "users-dir", filepath.Join(defaultRoot, "users"), "user profile store root")
	rootCmd.PersistentFlags().StringVar(&costStorageDir, "cost-dir", filepath.Join(defaultRoot, "costs"), "monthly cost log directory")
	rootCmd.PersistentFlags().StringVar(&pricingPath, "pricing-table", filepath.Join(defaultRoot, "pricing.json"), "path to the cost-per-call pricing table")
	rootCmd.PersistentFlags().StringVar(&processEnvPath, "process-config", filepath.Join(defaultRoot, "process.env"), "process-level config file")
	rootCmd.PersistentFlags().StringVar(&legacySecrets, "legacy-secrets", "", "legacy flat secrets file for one-shot profile migration")
	rootCmd.PersistentFlags().StringVar(&glossaryRoot, "glossary-root", filepath.Join(defaultRoot, "glossary-root"), "project root containing glossary/ sources")
	rootCmd.PersistentFlags().StringVar(&mediaCacheDir, "media-cache", filepath.Join(defaultRoot, "media-cache"), "downloaded media cache directory")
}

func initConfigDefaults() error {
	viper.SetEnvPrefix("CP_WHISPERX")
	viper.AutomaticEnv()
	return nil
}
