package cli

import (
	"fmt"

	"github.com/pks-run/runnerd/internal/store"
	"github.com/spf13/cobra"
)

// NewRegisterCmd creates the 'register' command.
// Args: owner, repo (required)
// Flags: --labels (string, default "")
func NewRegisterCmd(a *App) *cobra.Command {
	var labels string

	cmd := &cobra.Command{
		Use:   "register <owner> <repo>",
		Short: "Register a repository for the dispatch loop to service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(a.configPath)
			if err != nil {
				return err
			}

			reg, err := s.AddRegistration(args[0], args[1], labels)
			if err != nil {
				return err
			}

			fmt.Printf("Registered %s/%s as %s (labels: %s)\n", reg.Owner, reg.Repo, reg.ID, reg.Labels)
			return nil
		},
	}

	cmd.Flags().StringVar(&labels, "labels", "", "Comma-separated labels (default: "+store.DefaultDistinguishingLabel+")")
	return cmd
}
