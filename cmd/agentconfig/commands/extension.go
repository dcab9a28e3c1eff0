package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentconfig/internal/app"
	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/extension"
)

var extensionCmd = &cobra.Command{
	Use:     "extension",
	Aliases: []string{"ext"},
	Short:   "Manage extensions",
	Long: `Manage the extensions the agent can load.

An extension is launched in one of four ways:
  --builtin            runs inside the agent
  --cmd "npx -y srv"   child process speaking over stdio
  --url https://...    remote HTTP server
  --python "code"      inline Python source`,
}

var extensionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List extensions in install order",
	RunE:    runExtensionList,
}

var extensionAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Install an extension",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtensionAdd,
}

var extensionEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable an extension",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtensionEnable,
}

var extensionDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable an extension",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtensionDisable,
}

var extensionRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove an extension, its unshared settings and its permissions",
	Args:    cobra.ExactArgs(1),
	RunE:    runExtensionRemove,
}

var extensionSetCmd = &cobra.Command{
	Use:   "set <name> <key> <value>",
	Short: "Store one of an extension's declared settings",
	Args:  cobra.ExactArgs(3),
	RunE:  runExtensionSet,
}

var extensionHealthCmd = &cobra.Command{
	Use:   "health [name]",
	Short: "Report missing required settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExtensionHealth,
}

var addFlags struct {
	displayName string
	description string
	timeout     int
	disabled    bool
	builtin     bool
	cmdline     string
	cwd         string
	url         string
	headers     map[string]string
	python      string
	deps        []string
	env         []string
	secretEnv   []string
	required    []string
}

func init() {
	f := extensionAddCmd.Flags()
	f.StringVar(&addFlags.displayName, "display-name", "", "Human readable name")
	f.StringVar(&addFlags.description, "description", "", "Short description")
	f.IntVar(&addFlags.timeout, "timeout", 0, fmt.Sprintf("Timeout in seconds (default %d)", extension.DefaultTimeout))
	f.BoolVar(&addFlags.disabled, "disabled", false, "Install without enabling")
	f.BoolVar(&addFlags.builtin, "builtin", false, "Run inside the agent")
	f.StringVar(&addFlags.cmdline, "cmd", "", "Command line of a stdio extension")
	f.StringVar(&addFlags.cwd, "cwd", "", "Working directory of a stdio extension")
	f.StringVar(&addFlags.url, "url", "", "URL of a remote extension")
	f.StringToStringVar(&addFlags.headers, "header", nil, "Request header of a remote extension (K=V)")
	f.StringVar(&addFlags.python, "python", "", "Inline Python source")
	f.StringSliceVar(&addFlags.deps, "dep", nil, "Python dependency of an inline extension")
	f.StringSliceVar(&addFlags.env, "env", nil, "Plain setting the extension reads")
	f.StringSliceVar(&addFlags.secretEnv, "secret-env", nil, "Secret setting the extension reads")
	f.StringSliceVar(&addFlags.required, "required", nil, "Declared setting that must be set")
	extensionAddCmd.MarkFlagsMutuallyExclusive("builtin", "cmd", "url", "python")
	extensionAddCmd.MarkFlagsOneRequired("builtin", "cmd", "url", "python")

	extensionCmd.AddCommand(extensionListCmd)
	extensionCmd.AddCommand(extensionAddCmd)
	extensionCmd.AddCommand(extensionEnableCmd)
	extensionCmd.AddCommand(extensionDisableCmd)
	extensionCmd.AddCommand(extensionRemoveCmd)
	extensionCmd.AddCommand(extensionSetCmd)
	extensionCmd.AddCommand(extensionHealthCmd)
}

func runExtensionList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		entries, err := a.Extensions.List(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			state := "disabled"
			if e.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(out, "  %-20s %-9s %-13s %s\n", e.Name, state, extension.LaunchType(e.Launch), launchSummary(e.Launch))
		}
		return nil
	})
}

func runExtensionAdd(cmd *cobra.Command, args []string) error {
	launch, err := launchFromFlags()
	if err != nil {
		return err
	}
	required := map[string]bool{}
	for _, k := range addFlags.required {
		required[k] = true
	}
	var keys []extension.EnvKey
	for _, k := range addFlags.env {
		keys = append(keys, extension.EnvKey{Name: k, Required: required[k]})
		delete(required, k)
	}
	for _, k := range addFlags.secretEnv {
		keys = append(keys, extension.EnvKey{Name: k, Secret: true, Required: required[k]})
		delete(required, k)
	}
	for k := range required {
		return fmt.Errorf("--required %s does not name an --env or --secret-env setting", k)
	}

	e := extension.Entry{
		Name:        args[0],
		DisplayName: addFlags.displayName,
		Description: addFlags.description,
		Enabled:     !addFlags.disabled,
		Timeout:     addFlags.timeout,
		EnvKeys:     keys,
		Launch:      launch,
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Extensions.Add(ctx, e); err != nil {
			return err
		}
		h, err := a.Extensions.Health(ctx, e.Name)
		if err != nil {
			return err
		}
		printHealth(cmd, h)
		return nil
	})
}

func launchFromFlags() (extension.Launch, error) {
	switch {
	case addFlags.builtin:
		return extension.Builtin{}, nil
	case addFlags.cmdline != "":
		stdio, err := extension.ParseCommandLine(addFlags.cmdline)
		if err != nil {
			return nil, err
		}
		stdio.Cwd = addFlags.cwd
		return stdio, nil
	case addFlags.url != "":
		return extension.RemoteHTTP{URL: addFlags.url, Headers: addFlags.headers}, nil
	case addFlags.python != "":
		return extension.InlinePython{Code: addFlags.python, Dependencies: addFlags.deps}, nil
	}
	return nil, fmt.Errorf("one of --builtin, --cmd, --url or --python is required")
}

func launchSummary(l extension.Launch) string {
	switch l := l.(type) {
	case extension.Stdio:
		return extension.CommandLine(l)
	case extension.RemoteHTTP:
		return l.URL
	case extension.InlinePython:
		return fmt.Sprintf("%d bytes", len(l.Code))
	}
	return ""
}

func runExtensionEnable(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		h, err := a.Extensions.Enable(ctx, args[0])
		if err != nil {
			return err
		}
		printHealth(cmd, h)
		return nil
	})
}

func runExtensionDisable(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Extensions.Disable(ctx, args[0])
	})
}

func runExtensionRemove(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Extensions.Remove(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	})
}

func runExtensionSet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Extensions.UpdateSetting(ctx, args[0], args[1], config.ParseValue(args[2]))
	})
}

func runExtensionHealth(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if len(args) == 1 {
			h, err := a.Extensions.Health(ctx, args[0])
			if err != nil {
				return err
			}
			printHealth(cmd, h)
			return nil
		}
		all, err := a.Extensions.Validate(ctx)
		if err != nil {
			return err
		}
		for _, h := range all {
			printHealth(cmd, h)
		}
		return nil
	})
}

func printHealth(cmd *cobra.Command, h extension.Health) {
	out := cmd.OutOrStdout()
	if len(h.Missing) == 0 {
		fmt.Fprintf(out, "%s: %s\n", h.Name, h.Status)
		return
	}
	fmt.Fprintf(out, "%s: %s (missing %v)\n", h.Name, h.Status, h.Missing)
}
