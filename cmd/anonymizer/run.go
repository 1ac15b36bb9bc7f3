package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/gonkalabs/pii-anonymizer/internal/anonymize"
)

func newRunCmd(a *app) *cobra.Command {
	var strategy, format string
	var showItems bool
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Anonymize a file (or stdin) and print the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "table" {
				return fmt.Errorf("--format must be json or table, got %q", format)
			}
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			if strategy == "" {
				strategy = a.cfg.DefaultStrategy
			}
			svc, err := buildService(a.cfg)
			if err != nil {
				return err
			}
			res, err := svc.Anonymize(cmd.Context(), string(raw), strategy)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printTable(out, res, showItems)
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "Redact, Mask, Label or FakeSubstitute (default from DEFAULT_STRATEGY)")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: json or table")
	cmd.Flags().BoolVar(&showItems, "items", false, "with --format table, also list every replacement with its offsets")
	return cmd
}

// printTable prints the anonymized text followed by the findings report,
// grouped by entity type. The per-replacement items follow when asked for.
func printTable(w io.Writer, res *anonymize.Result, showItems bool) {
	fmt.Fprintln(w, res.Text)
	if res.Findings.Count() == 0 {
		fmt.Fprintln(w, "\nno PII found")
		return
	}

	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
	findings := uitable.New()
	findings.MaxColWidth = 60
	findings.AddRow(headerfmt("TYPE"), headerfmt("TEXT"), headerfmt("CONFIDENCE"))
	for _, t := range res.Findings.Types() {
		for _, f := range res.Findings[t] {
			findings.AddRow(t, f.Text, fmt.Sprintf("%.2f", f.Confidence))
		}
	}
	fmt.Fprint(w, "\n")
	fmt.Fprintln(w, findings)

	if !showItems {
		return
	}
	items := uitable.New()
	items.MaxColWidth = 60
	items.AddRow(headerfmt("TYPE"), headerfmt("START"), headerfmt("END"), headerfmt("REPLACEMENT"))
	for _, it := range res.Items {
		items.AddRow(it.EntityType, it.Start, it.End, it.Replacement)
	}
	fmt.Fprint(w, "\n")
	fmt.Fprintln(w, items)
}
