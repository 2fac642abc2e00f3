package cli

import (
	"fmt"

	"github.com/pks-run/runnerd/internal/store"
	"github.com/spf13/cobra"
)

// NewUnregisterCmd creates the 'unregister' command.
// Args: registration-id (required)
func NewUnregisterCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <registration-id>",
		Short: "Remove a registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(a.configPath)
			if err != nil {
				return err
			}

			found, err := s.RemoveRegistration(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no registration with id %q", args[0])
			}

			fmt.Printf("Removed registration %s\n", args[0])
			return nil
		},
	}
}
