package cli

import (
	"fmt"

	"github.com/pks-run/runnerd/internal/store"
	"github.com/spf13/cobra"
)

// NewStatusCmd creates the 'status' command.
func NewStatusCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and registration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(a.configPath)
			if err != nil {
				return err
			}
			fmt.Print(renderStatus(s.Load()))
			return nil
		},
	}
}
