package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentconfig/internal/app"
	"github.com/opencode-ai/agentconfig/internal/permission"
)

var permissionCmd = &cobra.Command{
	Use:     "permission",
	Aliases: []string{"perm"},
	Short:   "Manage tool permissions",
	Long: `Manage the permission levels of extension tools.

Levels: always_allow, ask_once, ask_every_time, deny.

A tool record wins over a wildcard record ("read_*"), which wins over the
extension-wide record, which wins over the default level.`,
}

var permissionGetCmd = &cobra.Command{
	Use:   "get <extension> [tool]",
	Short: "Print the effective level",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPermissionGet,
}

var permissionSetCmd = &cobra.Command{
	Use:   "set <extension> <level>",
	Short: "Store a level for an extension or, with --tool, one of its tools",
	Args:  cobra.ExactArgs(2),
	RunE:  runPermissionSet,
}

var permissionDecideCmd = &cobra.Command{
	Use:   "decide <extension> <tool>",
	Short: "Print the decision for a tool call",
	Args:  cobra.ExactArgs(2),
	RunE:  runPermissionDecide,
}

var permissionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored records",
	RunE:    runPermissionList,
}

var permissionTool string

func init() {
	permissionSetCmd.Flags().StringVar(&permissionTool, "tool", "", "Tool name or '*' pattern")

	permissionCmd.AddCommand(permissionGetCmd)
	permissionCmd.AddCommand(permissionSetCmd)
	permissionCmd.AddCommand(permissionDecideCmd)
	permissionCmd.AddCommand(permissionListCmd)
}

func runPermissionGet(cmd *cobra.Command, args []string) error {
	tool := ""
	if len(args) == 2 {
		tool = args[1]
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		level, err := a.Permissions.Level(ctx, args[0], tool)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), level)
		return nil
	})
}

func runPermissionSet(cmd *cobra.Command, args []string) error {
	level, err := permission.ParseLevel(args[1])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Permissions.SetLevel(ctx, args[0], permissionTool, level)
	})
}

func runPermissionDecide(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		d, err := a.Permissions.Decide(ctx, args[0], args[1])
		fmt.Fprintln(cmd.OutOrStdout(), d)
		return err
	})
}

func runPermissionList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		records, err := a.Permissions.All(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, rec := range records {
			def := rec.Default
			if def == "" {
				def = "-"
			}
			fmt.Fprintf(out, "%s (default %s)\n", rec.Extension, def)
			tools := make([]string, 0, len(rec.Tools))
			for t := range rec.Tools {
				tools = append(tools, t)
			}
			sort.Strings(tools)
			for _, t := range tools {
				fmt.Fprintf(out, "  %-24s %s\n", t, rec.Tools[t])
			}
		}
		return nil
	})
}
