package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/pks-run/runnerd/internal/containerengine"
	"github.com/pks-run/runnerd/internal/daemon"
	"github.com/pks-run/runnerd/internal/events"
	"github.com/pks-run/runnerd/internal/executor"
	"github.com/pks-run/runnerd/internal/forge"
	"github.com/pks-run/runnerd/internal/pool"
	"github.com/pks-run/runnerd/internal/procrunner"
	"github.com/pks-run/runnerd/internal/store"
	"github.com/pks-run/runnerd/internal/workspacetool"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the 'run' command, which starts the dispatch daemon in
// the foreground. There is no background/daemonize mode; an operator
// wanting one runs runnerd under systemd, supervisord, or similar.
func NewRunCmd(a *App) *cobra.Command {
	var baseURL string
	var workspaceBin string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the dispatch daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), a.configPath, baseURL, workspaceBin)
		},
	}

	cmd.Flags().StringVar(&baseURL, "forge-url", "https://api.github.com", "Forge REST API root")
	cmd.Flags().StringVar(&workspaceBin, "workspace-tool", "devcontainer", "Workspace tool binary name")
	return cmd
}

// resolveToken prefers a dedicated variable, falling back to the one the
// GitHub CLI and Actions convention already sets.
func resolveToken() (string, error) {
	if t := os.Getenv("RUNNERD_TOKEN"); t != "" {
		return t, nil
	}
	if t := os.Getenv("GITHUB_TOKEN"); t != "" {
		return t, nil
	}
	return "", fmt.Errorf("no token in RUNNERD_TOKEN or GITHUB_TOKEN")
}

func runDaemon(ctx context.Context, configPath, baseURL, workspaceBin string) error {
	s, err := store.Open(configPath)
	if err != nil {
		return err
	}

	token, err := resolveToken()
	if err != nil {
		return err
	}

	proc := procrunner.New()
	engine, err := containerengine.Detect(ctx, proc)
	if err != nil {
		return err
	}
	workspace := workspacetool.New(workspaceBin, proc)
	exec := executor.New(engine, workspace, proc)

	if engineOK, workspaceOK, msg := exec.CheckPrerequisites(ctx); !engineOK || !workspaceOK {
		return fmt.Errorf("prerequisites not satisfied: %s", msg)
	}

	p := pool.New()
	bus := events.NewBus(64)
	sub := bus.Subscribe()
	go func() {
		for e := range sub {
			log.Println(e.String())
		}
	}()

	forgeClient := forge.New(forge.Config{BaseURL: baseURL, Token: token})
	d := daemon.New(s, forgeClient, exec, p, bus, func(ctx context.Context) (string, error) {
		return token, nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := NewSignalHandler(
		func() {
			log.Println("runnerd: shutdown requested, draining active jobs")
			d.RequestShutdown()
		},
		cancel,
	)
	handler.Start()
	defer handler.Stop()

	return d.Run(runCtx)
}
