// Package cli wires cmd/runnerd's subcommands over the daemon's internal
// packages, giving the module a runnable entry point.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// App holds the root command and the flags shared across subcommands.
type App struct {
	rootCmd *cobra.Command

	verbose    bool
	configPath string

	version string
	commit  string
	date    string
}

// New creates a runnerd CLI application.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the version string reported by the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "runnerd",
		Short: "Self-hosted dispatch daemon for devcontainer-backed CI runners",
		Long: `runnerd polls a forge for queued workflow jobs and provisions
devcontainer workspaces to run them, reusing named containers when a job
requests one by label.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")
	a.rootCmd.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(), "Path to the daemon configuration document")

	a.rootCmd.AddCommand(NewRunCmd(a))
	a.rootCmd.AddCommand(NewRegisterCmd(a))
	a.rootCmd.AddCommand(NewUnregisterCmd(a))
	a.rootCmd.AddCommand(NewListCmd(a))
	a.rootCmd.AddCommand(NewStatusCmd(a))
	a.rootCmd.AddCommand(NewVersionCmd(a))
}

// defaultConfigPath returns the standard configuration location.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".runnerd/config.json"
	}
	return filepath.Join(home, ".runnerd", "config.json")
}
