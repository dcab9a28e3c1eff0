package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentconfig/internal/app"
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Toggle experimental features",
}

var experimentListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List experiment flags",
	RunE:    runExperimentList,
}

var experimentEnableCmd = &cobra.Command{
	Use:   "enable <flag>",
	Short: "Turn a flag on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setExperiment(cmd, args[0], true)
	},
}

var experimentDisableCmd = &cobra.Command{
	Use:   "disable <flag>",
	Short: "Turn a flag off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setExperiment(cmd, args[0], false)
	},
}

func init() {
	experimentCmd.AddCommand(experimentListCmd)
	experimentCmd.AddCommand(experimentEnableCmd)
	experimentCmd.AddCommand(experimentDisableCmd)
}

func runExperimentList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		flags, err := a.Experiments.List(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(flags))
		for name := range flags {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			state := "off"
			if flags[name] {
				state = "on"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", name, state)
		}
		return nil
	})
}

func setExperiment(cmd *cobra.Command, flag string, on bool) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Experiments.Set(ctx, flag, on)
	})
}
