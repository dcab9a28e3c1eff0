package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentconfig/internal/app"
	"github.com/opencode-ai/agentconfig/internal/signup"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider credentials",
	Long: `Manage API keys for model providers.

Subcommands:
  login    Store a provider's API key and make it the active provider`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Store a provider's API key",
	Long: `Store a provider's API key as the secret <PROVIDER>_API_KEY and make
the provider active. The key is read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthLogin,
}

var (
	authModel         string
	authRequireSecure bool
)

func init() {
	authLoginCmd.Flags().StringVar(&authModel, "model", "", "Model to make active")
	authLoginCmd.Flags().BoolVar(&authRequireSecure, "require-keyring", false, "Fail instead of using the encrypted file")
	authCmd.AddCommand(authLoginCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	provider := args[0]

	fmt.Fprintf(cmd.ErrOrStderr(), "Enter API key for %s: ", provider)
	reader := bufio.NewReader(cmd.InOrStdin())
	apiKey, err := reader.ReadString('\n')
	if err != nil && apiKey == "" {
		return err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		svc := a.Signup
		if authRequireSecure {
			svc = signup.New(signup.Options{Store: a.Store, RequireSecureStorage: true})
		}
		if err := svc.ConfigureProvider(ctx, provider, apiKey, authModel); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", signup.DerivedKey(provider))
		return nil
	})
}
