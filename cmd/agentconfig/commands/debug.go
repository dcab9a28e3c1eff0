package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentconfig/internal/app"
	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/event"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting configuration and setup.`,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

var debugWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print changes made to the config file by other processes",
	RunE:  runDebugWatch,
}

func init() {
	debugCmd.AddCommand(debugPathsCmd)
	debugCmd.AddCommand(debugWatchCmd)
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	if configDir != "" {
		paths.Config = configDir
	}
	if dataDir != "" {
		paths.Data = dataDir
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "agentconfig paths:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:   %s\n", paths.ConfigFile())
	fmt.Fprintf(out, "  Secrets:  %s\n", paths.SecretsFile())
	fmt.Fprintf(out, "  Log:      %s\n", paths.LogFile())
	return nil
}

func runDebugWatch(cmd *cobra.Command, args []string) error {
	opts, err := appOptions()
	if err != nil {
		return err
	}
	opts.Watch = true
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	unsubscribe := a.Bus.Subscribe(event.ConfigFileChanged, func(e event.Event) {
		data := e.Data.(event.ConfigChangeData)
		fmt.Fprintf(out, "changed: %s\n", data.Key)
	})
	defer unsubscribe()

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s\n", a.Store.Path())
	<-ctx.Done()
	return nil
}
