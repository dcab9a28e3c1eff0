// Package commands provides the CLI commands for agentconfig.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentconfig/internal/app"
	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/logging"
	"github.com/opencode-ai/agentconfig/internal/permission"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs         bool
	logLevel          string
	configDir         string
	dataDir           string
	envFile           string
	disableKeyring    bool
	defaultPermission string
)

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "agentconfig",
	Short: "Manage agent configuration, secrets, extensions and permissions",
	Long: `agentconfig edits the persistent configuration of an AI agent runtime.

Plain settings live in a YAML file, secrets in the platform keyring (or an
encrypted file when no keyring is available). Extensions and tool
permissions are stored as settings in the same file.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
			logCloser = nil
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding "+config.ConfigFileName)
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the encrypted secret file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Dotenv file consulted for overrides")
	rootCmd.PersistentFlags().BoolVar(&disableKeyring, "no-keyring", false, "Store secrets in the encrypted file")
	rootCmd.PersistentFlags().StringVar(&defaultPermission, "default-permission", string(permission.DefaultLevel),
		"Level applied to tools without a record")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentconfig %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(extensionCmd)
	rootCmd.AddCommand(permissionCmd)
	rootCmd.AddCommand(experimentCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func setupLogging(cmd *cobra.Command, args []string) error {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	cfg.Output = cmd.ErrOrStderr()
	if printLogs {
		cfg.Pretty = true
	} else {
		cfg.File = config.GetPaths().LogFile()
	}
	closer, err := logging.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logCloser = closer
	return nil
}

// appOptions builds app options from the global flags.
func appOptions() (app.Options, error) {
	level, err := permission.ParseLevel(defaultPermission)
	if err != nil {
		return app.Options{}, err
	}
	return app.Options{
		Config: config.Options{
			Dir:            configDir,
			DataDir:        dataDir,
			EnvFile:        envFile,
			DisableKeyring: disableKeyring,
		},
		DefaultPermission: level,
	}, nil
}

// openApp opens the store described by the global flags. The caller closes it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	opts, err := appOptions()
	if err != nil {
		return nil, err
	}
	return app.Open(cmd.Context(), opts)
}

// withApp runs fn against an opened App and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func namespaceFor(secret bool) config.Namespace {
	if secret {
		return config.Secret
	}
	return config.Plain
}
