package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pks-run/runnerd/internal/store"
	"github.com/spf13/cobra"
)

// NewListCmd creates the 'list' command, printing every registration in
// tabular form.
func NewListCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(a.configPath)
			if err != nil {
				return err
			}
			displayRegistrations(s.ListRegistrations())
			return nil
		},
	}
}

// displayRegistrations renders registrations as a tabwriter-aligned table.
func displayRegistrations(regs []store.RunnerRegistration) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tOWNER/REPO\tLABELS\tENABLED")
	for _, r := range regs {
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t%t\n", r.ID, r.Owner, r.Repo, r.Labels, r.Enabled)
	}
}
