package commands

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settings holds everything a command needs to build a loader. Keys match
// flag names, the settings file, and CFGTREE_* variables.
type settings struct {
	LogLevel  string `mapstructure:"log-level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `mapstructure:"log-format" validate:"oneof=console json"`
	JSON      bool   `mapstructure:"json"`
	History   string `mapstructure:"history"`

	Schema          string        `mapstructure:"schema"`
	StarlarkTimeout time.Duration `mapstructure:"starlark-timeout" validate:"gte=0"`
	NoCase          bool          `mapstructure:"nocase"`
	NoEnv           bool          `mapstructure:"no-env"`
	MaxIncludeDepth int           `mapstructure:"max-include-depth" validate:"gte=0"`

	Environment       string   `mapstructure:"environment"`
	Policies          []string `mapstructure:"policy"`
	NoBuiltinPolicies bool     `mapstructure:"no-builtin-policies"`
	Constraints       []string `mapstructure:"constraints"`

	MetricsAddr   string `mapstructure:"metrics-addr"`
	Trace         string `mapstructure:"trace" validate:"oneof=none stdout otlp"`
	TraceEndpoint string `mapstructure:"trace-endpoint" validate:"required_if=Trace otlp"`

	SFTPUser       string `mapstructure:"sftp-user"`
	SFTPKey        string `mapstructure:"sftp-key"`
	SFTPKnownHosts string `mapstructure:"sftp-known-hosts"`
	SFTPInsecure   bool   `mapstructure:"sftp-insecure"`
}

var validate = validator.New()

// loadFlags adds the flags that control parsing and checking.
func loadFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("schema", "s", "", "schema file (YAML or JSON)")
	flags.Duration("starlark-timeout", 5*time.Second, "time limit for each Starlark callback")
	flags.Bool("nocase", false, "match option names and section titles case-insensitively")
	flags.Bool("no-env", false, "do not expand ${NAME} in double-quoted strings")
	flags.Int("max-include-depth", 0, "maximum include nesting (0 keeps the default)")

	flags.String("environment", "development", "environment passed to policies")
	flags.StringSlice("policy", nil, "Rego policy file or directory (repeatable)")
	flags.Bool("no-builtin-policies", false, "disable the built-in policies")
	flags.StringSlice("constraints", nil, "CUE constraint file or directory (repeatable)")

	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.String("trace", "none", "trace exporter: none, stdout, otlp")
	flags.String("trace-endpoint", "", "OTLP collector endpoint")

	flags.String("sftp-user", "", "user for sftp:// sources without one")
	flags.String("sftp-key", "", "private key for sftp:// sources")
	flags.String("sftp-known-hosts", "", "known_hosts file for sftp:// sources")
	flags.Bool("sftp-insecure", false, "skip host key checking for sftp:// sources")
}

// readSettings decodes and validates the settings bound in v.
func readSettings(v *viper.Viper) (*settings, error) {
	s := &settings{LogFormat: "console", Trace: "none"}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}
