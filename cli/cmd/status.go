package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check monitor health and alert dispatch counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newClient(cmd).Health()
		if h == nil {
			return err
		}
		if jsonOutput(cmd) {
			if jerr := output.JSON(h); jerr != nil {
				return jerr
			}
			return err
		}
		if err != nil {
			return err
		}

		output.Success("Monitor is %s", h.Status)
		keys := make([]string, 0, len(h.Dispatch))
		for k := range h.Dispatch {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-12s %v\n", k, h.Dispatch[k])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
