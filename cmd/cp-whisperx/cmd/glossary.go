package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cp-whisperx/pipeline/glossary"
	"github.com/cp-whisperx/pipeline/glossarycache"
)

var (
	glossaryFilmYear int
	glossaryMaxTerms int
)

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Inspect the priority-cascade glossary for a film",
}

var glossaryBiasTermsCmd = &cobra.Command{
	Use:   "bias-terms <film-title>",
	Short: "Print the deduplicated bias-term list for --initial-prompt seeding",
	Args:  cobra.ExactArgs(1),
	RunE:  runGlossaryBiasTerms,
}

func init() {
	glossaryBiasTermsCmd.Flags().IntVar(&glossaryFilmYear, "year", 0, "film release year, used in the cache slug")
	glossaryBiasTermsCmd.Flags().IntVar(&glossaryMaxTerms, "max-terms", 50, "maximum number of bias terms to print")
	glossaryCmd.AddCommand(glossaryBiasTermsCmd)
	rootCmd.AddCommand(glossaryCmd)
}

func runGlossaryBiasTerms(_ *cobra.Command, args []string) error {
	cache := glossarycache.New(glossaryCacheDirFor(usersDir), glossarycache.DefaultTTLDays)
	mgr := glossary.NewManager(glossary.Config{
		ProjectRoot: glossaryRoot,
		FilmTitle:   args[0],
		FilmYear:    glossaryFilmYear,
	}, cache)

	if err := mgr.LoadAllSources(); err != nil {
		return fmt.Errorf("loading glossary sources: %w", err)
	}

	for _, term := range mgr.GetBiasTerms(glossaryMaxTerms) {
		fmt.Println(term)
	}
	return nil
}
