package cmd

import (
	"github.com/spf13/cobra"

	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
)

var reportCmd = &cobra.Command{
	Use:   "report <creative-id>",
	Short: "Show the latest quality report for a creative",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := newClient(cmd).GetReport(args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(report)
		}
		printReport(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
