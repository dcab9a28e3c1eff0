package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentconfig/internal/app"
	"github.com/opencode-ai/agentconfig/internal/config"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets",
	Long: `Manage values in the secret namespace.

Secrets are kept in the platform keyring. When it is unavailable they are
written to an encrypted file in the data directory and 'secret status'
reports the reason. Secret values are never printed by this command.`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a secret (read from stdin when no value is given)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSecretSet,
}

var secretDeleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Aliases: []string{"rm"},
	Short:   "Remove a secret",
	Args:    cobra.ExactArgs(1),
	RunE:    runSecretDelete,
}

var secretStatusCmd = &cobra.Command{
	Use:   "status [key...]",
	Short: "Show the secret backend and whether keys are set",
	RunE:  runSecretStatus,
}

func init() {
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretCmd.AddCommand(secretStatusCmd)
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	value := ""
	if len(args) == 2 {
		value = args[1]
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Enter value for %s: ", args[0])
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return err
		}
		value = strings.TrimSpace(line)
	}
	if value == "" {
		return fmt.Errorf("secret value cannot be empty")
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Store.Set(ctx, args[0], config.String(value), config.Secret)
	})
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Store.Delete(ctx, args[0], config.Secret)
	})
}

func runSecretStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Backend: %s\n", a.Store.SecretBackend())
		if err := a.Store.Degraded(); err != nil {
			var cerr *config.Error
			reason := err.Error()
			if errors.As(err, &cerr) && cerr.Err != nil {
				reason = cerr.Err.Error()
			}
			fmt.Fprintf(out, "Degraded: %s\n", reason)
		}
		for _, key := range args {
			ok, err := a.Store.Exists(ctx, key, config.Secret)
			if err != nil {
				return err
			}
			status := "not set"
			if ok {
				status = "set"
			}
			fmt.Fprintf(out, "  %-24s %s\n", key, status)
		}
		return nil
	})
}
