package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cp-whisperx/pipeline/cost"
	cperrors "github.com/cp-whisperx/pipeline/errors"
	"github.com/cp-whisperx/pipeline/glossarycache"
	"github.com/cp-whisperx/pipeline/jobconfig"
	"github.com/cp-whisperx/pipeline/pipeline"
	"github.com/cp-whisperx/pipeline/registry"
	"github.com/cp-whisperx/pipeline/userprofile"
)

var runCmd = &cobra.Command{
	Use:   "run <job-dir> <workflow>",
	Short: "Run transcribe, translate, or subtitle over a job directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(_ *cobra.Command, args []string) error {
	jobDir, workflow := args[0], registry.Workflow(args[1])
	if !workflow.IsValid() {
		return cperrors.NewInvalidConfig("workflow", args[1], "must be one of transcribe, translate, subtitle")
	}

	pricing, err := cost.LoadPricingTable(pricingPath)
	if err != nil {
		pricing = cost.PricingTable{}
	}

	deps := pipeline.Dependencies{
		ConfigResolver:      jobconfig.NewResolver(processEnvPath, legacySecrets),
		ProfileStore:        userprofile.NewStore(usersDir),
		LegacySecretsPath:   legacySecrets,
		PricingTable:        pricing,
		CostStorageDir:      costStorageDir,
		GlossaryCache:       glossarycache.New(glossaryCacheDirFor(usersDir), glossarycache.DefaultTTLDays),
		GlossaryProjectRoot: glossaryRoot,
		MediaCacheDir:       mediaCacheDir,
		// Executors is left empty: this distribution carries no ML/ffmpeg
		// collaborators (out of scope). A deployment wires its own
		// map[registry.Stage]pipeline.StageExecutor before calling Run.
		Executors: map[registry.Stage]pipeline.StageExecutor{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	defer signal.Stop(sigCh)

	runner := pipeline.NewRunner(deps)
	runErr := runner.Run(ctx, jobDir, workflow)
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
	}
	os.Exit(cperrors.ExitCode(runErr))
	return nil
}

func glossaryCacheDirFor(usersRoot string) string {
	return filepath.Join(usersRoot, ".glossary-cache")
}
