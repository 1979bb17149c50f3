package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/cfgtree/pkg/loader"
)

// loadReport is the JSON form of a load result.
type loadReport struct {
	ID          string           `json:"id"`
	Source      string           `json:"source"`
	Sources     []string         `json:"sources"`
	Code        string           `json:"code,omitempty"`
	Error       string           `json:"error,omitempty"`
	Blocked     bool             `json:"blocked"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
	Findings    []loader.Finding `json:"findings,omitempty"`
	Config      map[string]any   `json:"config,omitempty"`
	Duration    string           `json:"duration"`
}

func newLoadReport(res *loader.Result, withConfig bool) loadReport {
	r := loadReport{
		ID:       res.ID,
		Source:   res.Source,
		Sources:  res.Sources,
		Code:     string(res.Code()),
		Blocked:  res.Blocked(),
		Findings: res.Findings,
		Duration: res.Duration.String(),
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	for _, d := range res.Diagnostics {
		r.Diagnostics = append(r.Diagnostics, d.String())
	}
	if withConfig && res.Tree != nil {
		r.Config = res.Tree.Map()
	}
	return r
}

// printResult writes a human readable summary of res.
func printResult(w io.Writer, res *loader.Result) {
	status := "ok"
	if res.Blocked() {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s\t%s\n", status, res.Source)

	for _, d := range res.Diagnostics {
		fmt.Fprintf(w, "  %s\n", d)
	}
	// Parse errors were already reported as diagnostics.
	if res.Err != nil && res.Code() == "check_failed" {
		fmt.Fprintf(w, "  error: %v\n", res.Err)
	}
	for _, f := range res.Findings {
		if f.Path != "" {
			fmt.Fprintf(w, "  %s: %s\n", f.Path, f)
		} else {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}

func newCheckCommand(v *viper.Viper) *cobra.Command {
	var withConfig bool

	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Parse configuration files and run policies and constraints",
		Long: `Parse each FILE against the schema, then check the parsed tree with the
built-in and configured Rego policies and CUE constraints.

The command fails when a file does not parse, a checker fails, or a
policy or constraint reports an error-severity finding.`,
		Example: `  # Check a file
  cfgtree check --schema schema.yaml app.conf

  # Check a remote file with extra policies, recording the outcome
  cfgtree check -s schema.yaml --policy ./policies --history loads.db sftp://web1/etc/app.conf

  # Machine-readable output including the parsed tree
  cfgtree check -s schema.yaml --json --config-tree app.conf`,
		Args: cobra.MinimumNArgs(1),
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

			out := cmd.OutOrStdout()
			var reports []loadReport
			failed := 0
			for _, name := range args {
				res, _ := a.loader.Load(ctx, name)
				if res.Blocked() {
					failed++
				}
				if s.JSON {
					reports = append(reports, newLoadReport(res, withConfig))
				} else {
					printResult(out, res)
				}
			}

			if s.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return fmt.Errorf("failed to encode results: %w", err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	loadFlags(cmd)
	cmd.Flags().BoolVar(&withConfig, "config-tree", false, "include the parsed tree in JSON output")

	return cmd
}
