package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cp-whisperx/pipeline/userprofile"
)

var (
	createUserEmail string
)

var createUserCmd = &cobra.Command{
	Use:   "create-user <name>",
	Short: "Provision a new user profile and print the assigned userId",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreateUser,
}

func init() {
	createUserCmd.Flags().StringVar(&createUserEmail, "email", "", "contact email stored on the profile")
	rootCmd.AddCommand(createUserCmd)
}

func runCreateUser(_ *cobra.Command, args []string) error {
	store := userprofile.NewStore(usersDir)
	profile, err := store.CreateNewUser(args[0], createUserEmail, nil)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	fmt.Println(profile.UserID)
	return nil
}
