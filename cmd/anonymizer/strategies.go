package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/pii-anonymizer/internal/anonymize"
)

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the anonymization strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range anonymize.Strategies() {
				fmt.Fprintln(cmd.OutOrStdout(), s.String())
			}
			return nil
		},
	}
}
