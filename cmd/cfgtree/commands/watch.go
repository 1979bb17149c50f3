package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/cfgtree/pkg/loader"
)

func newWatchCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-check a configuration file whenever it or an include changes",
		Long: `Load FILE, print the outcome, and load it again whenever FILE or one of
the files it included changes. Policy directories given with --policy are
watched too, and edited policies apply to the next load.

Runs until interrupted.`,
		Example: `  cfgtree watch --schema schema.yaml --policy ./policies app.conf`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := readSettings(v)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), s, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if a.policies != nil && len(s.Policies) > 0 {
				if err := a.policies.Watch(ctx, s.Policies); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			return a.loader.Watch(ctx, args[0], func(res *loader.Result) {
				log.Info().
					Str("source", res.Source).
					Str("load_id", res.ID).
					Bool("blocked", res.Blocked()).
					Int("findings", len(res.Findings)).
					Msg("Configuration loaded")
				printResult(out, res)
			})
		},
	}

	loadFlags(cmd)
	return cmd
}
