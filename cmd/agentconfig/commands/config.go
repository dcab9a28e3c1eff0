package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentconfig/internal/app"
	"github.com/opencode-ai/agentconfig/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write settings",
	Long: `Read and write plain settings.

Values are parsed as JSON when possible ("3" is an int, "true" a bool,
'{"a":1}' a document); anything else is stored as a string. Use --type to
force a kind. An environment variable such as AGENT_MODEL overrides the
stored "model" setting.`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configDeleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Aliases: []string{"rm"},
	Short:   "Remove a setting",
	Args:    cobra.ExactArgs(1),
	RunE:    runConfigDelete,
}

var configListCmd = &cobra.Command{
	Use:     "list [prefix]",
	Aliases: []string{"ls"},
	Short:   "List settings, optionally under a key prefix",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runConfigList,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every plain setting as JSON",
	RunE:  runConfigDump,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	RunE:  runConfigPath,
}

var (
	configSecret  bool
	configType    string
	configDefault string
)

func init() {
	configGetCmd.Flags().BoolVar(&configSecret, "secret", false, "Read from the secret namespace")
	configGetCmd.Flags().StringVar(&configDefault, "default", "", "Value printed when the key is missing")
	configSetCmd.Flags().BoolVar(&configSecret, "secret", false, "Write to the secret namespace")
	configSetCmd.Flags().StringVar(&configType, "type", "", "Value kind (string|int|float|bool|document)")
	configDeleteCmd.Flags().BoolVar(&configSecret, "secret", false, "Delete from the secret namespace")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configDeleteCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		ns := namespaceFor(configSecret)
		var (
			v   config.Value
			err error
		)
		if cmd.Flags().Changed("default") {
			v, err = a.Store.GetWithDefault(ctx, args[0], ns, config.ParseValue(configDefault))
		} else {
			v, err = a.Store.Get(ctx, args[0], ns)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v.String())
		return nil
	})
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	v, err := parseValueFlag(args[1], configType)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Store.Set(ctx, args[0], v, namespaceFor(configSecret))
	})
}

func runConfigDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Store.Delete(ctx, args[0], namespaceFor(configSecret))
	})
}

func runConfigList(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		values, err := a.Store.List(ctx, prefix)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := cmd.OutOrStdout()
		for _, k := range keys {
			fmt.Fprintf(out, "%s = %s\n", k, values[k])
		}
		return nil
	})
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		entries, err := a.Store.Dump(ctx)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	})
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		fmt.Fprintln(cmd.OutOrStdout(), a.Store.Path())
		return nil
	})
}

func parseValueFlag(raw, kind string) (config.Value, error) {
	if kind == "" {
		return config.ParseValue(raw), nil
	}
	k, err := config.ParseKind(kind)
	if err != nil {
		return config.Value{}, err
	}
	return config.ParseAs(raw, k)
}
