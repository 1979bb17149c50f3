package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/cfgtree/pkg/telemetry"
)

// envPrefix prefixes environment overrides, e.g. CFGTREE_SCHEMA.
const envPrefix = "CFGTREE"

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	v := viper.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "cfgtree",
		Short: "cfgtree - schema-driven configuration checker",
		Long: `cfgtree parses configuration files in the classic "name = value" /
"section { ... }" format against a schema, and checks the result with
Rego policies and CUE constraints.

Settings can come from flags, a cfgtree.yaml file in the working directory
(or --config), or CFGTREE_* environment variables.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initSettings(v, cmd, configFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "settings file (default ./cfgtree.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.Bool("json", false, "output in JSON format")
	flags.String("history", "", "SQLite database recording every load")

	rootCmd.AddCommand(newCheckCommand(v))
	rootCmd.AddCommand(newDumpCommand(v))
	rootCmd.AddCommand(newWatchCommand(v))
	rootCmd.AddCommand(newHistoryCommand(v))

	return rootCmd
}

// initSettings binds the flags of the running command into v and reads
// the settings file.
func initSettings(v *viper.Viper, cmd *cobra.Command, configFile string) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("cfgtree")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read settings: %w", err)
		}
	}

	if lvl := v.GetString("log-level"); lvl != "" {
		zerolog.SetGlobalLevel(telemetry.ParseLevel(lvl))
	}
	return nil
}
