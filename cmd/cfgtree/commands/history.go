package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/cfgtree/pkg/stores"
)

func newHistoryCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the recorded loads",
		Long: `Inspect the loads recorded with --history.

Every check, dump and watch run with --history DB stores its outcome:
the files read, the parse diagnostics, and the policy and constraint
findings.`,
	}

	cmd.AddCommand(newHistoryListCommand(v))
	cmd.AddCommand(newHistoryShowCommand(v))
	cmd.AddCommand(newHistoryPruneCommand(v))

	return cmd
}

// openHistory opens the database named by --history.
func openHistory(cmd *cobra.Command, v *viper.Viper) (*stores.SQLiteStore, *settings, error) {
	s, err := readSettings(v)
	if err != nil {
		return nil, nil, err
	}
	if s.History == "" {
		return nil, nil, errors.New("a history database is required (--history)")
	}
	store, err := stores.Open(cmd.Context(), s.History)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, s, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHistoryListCommand(v *viper.Viper) *cobra.Command {
	var (
		limit  int
		offset int
		filter stores.LoadFilter
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded loads, newest first",
		Example: `  cfgtree history list --history loads.db
  cfgtree history list --history loads.db --failed --source app.conf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, s, err := openHistory(cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()

			loads, err := store.ListLoads(cmd.Context(), filter, limit, offset)
			if err != nil {
				return err
			}

			if s.JSON {
				return writeJSON(cmd.OutOrStdout(), loads)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tSOURCE\tSTATUS\tDIAGNOSTICS\tFINDINGS\tDURATION")
			for _, l := range loads {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					l.ID, l.StartedAt.Local().Format(time.DateTime), l.Source, status(l),
					l.DiagnosticCount, l.FindingCount, l.Duration)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of loads to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many loads")
	cmd.Flags().StringVar(&filter.Source, "source", "", "only loads of this source")
	cmd.Flags().BoolVar(&filter.FailedOnly, "failed", false, "only loads that failed to parse or check")
	cmd.Flags().BoolVar(&filter.BlockedOnly, "blocked", false, "only loads that failed or had error findings")

	return cmd
}

func status(l *stores.LoadRecord) string {
	switch {
	case l.Code != "":
		return l.Code
	case l.Blocked:
		return "blocked"
	default:
		return "ok"
	}
}

func newHistoryShowCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one recorded load with its diagnostics and findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, s, err := openHistory(cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()

			l, err := store.GetLoad(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if s.JSON {
				return writeJSON(out, l)
			}

			fmt.Fprintf(out, "Load:     %s\n", l.ID)
			fmt.Fprintf(out, "Source:   %s\n", l.Source)
			fmt.Fprintf(out, "Started:  %s\n", l.StartedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "Duration: %s\n", l.Duration)
			fmt.Fprintf(out, "Status:   %s\n", status(l))
			if l.Error != nil {
				fmt.Fprintf(out, "Error:    %s\n", *l.Error)
			}
			if len(l.Sources) > 0 {
				fmt.Fprintln(out, "Sources:")
				for _, src := range l.Sources {
					fmt.Fprintf(out, "  %s\n", src)
				}
			}
			if len(l.Diagnostics) > 0 {
				fmt.Fprintln(out, "Diagnostics:")
				for _, d := range l.Diagnostics {
					fmt.Fprintf(out, "  %s:%d: %s\n", d.File, d.Line, d.Message)
				}
			}
			if len(l.Findings) > 0 {
				fmt.Fprintln(out, "Findings:")
				for _, f := range l.Findings {
					fmt.Fprintf(out, "  %s %s/%s %s: %s\n", f.Severity, f.Checker, f.Rule, f.Path, f.Message)
				}
			}
			return nil
		},
	}
}

func newHistoryPruneCommand(v *viper.Viper) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete loads older than a given age",
		Example: `  cfgtree history prune --history loads.db --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			store, _, err := openHistory(cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			log.Info().Int64("loads", n).Dur("older_than", olderThan).Msg("Pruned history")
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d loads\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete loads started before now minus this age")

	return cmd
}
