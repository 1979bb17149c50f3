package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newDumpCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Print the parsed tree with defaults applied",
		Long: `Parse FILE against the schema and print the resulting tree as YAML, or
as JSON with --json. Options that were not set show their defaults.`,
		Example: `  cfgtree dump --schema schema.yaml app.conf
  cfgtree dump --schema schema.yaml --json app.conf | jq .server`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := readSettings(v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, s, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.loader.Load(ctx, args[0])
			if err != nil {
				return err
			}
			for _, f := range res.Findings {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", f)
			}

			out := cmd.OutOrStdout()
			if s.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Tree.Map())
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(res.Tree.Map()); err != nil {
				return fmt.Errorf("failed to encode tree: %w", err)
			}
			return enc.Close()
		},
	}

	loadFlags(cmd)
	return cmd
}
