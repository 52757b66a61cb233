package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adcraft-labs/creative-qa/cli/internal/seeder"
	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Push synthetic metric history to the monitor",
	Long: `Generate synthetic measurement series and send them to the monitor.

Series are described in seeder.yaml (./seeder.yaml, then ~/.qactl/seeder.yaml).
Degradations inject spikes, steps or drifts so the anomaly detector has
something to find. Without --degradation the enabled ones are applied.`,
	Example: `  qactl seed --degradation latency-spike
  qactl seed --seeder-config ./load.yaml --list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("seeder-config")
		seedCfg, err := seeder.LoadConfig(path)
		if err != nil {
			return err
		}

		if list, _ := cmd.Flags().GetBool("list"); list {
			table := output.NewTable([]string{"NAME", "METRIC", "KIND", "START", "MAGNITUDE", "ENABLED"})
			for _, d := range seedCfg.Degradations {
				table.AddRow([]string{
					d.Name, d.Metric, d.Kind,
					fmt.Sprintf("%.0f%%", d.Start*100),
					fmt.Sprintf("%g", d.Magnitude),
					fmt.Sprintf("%t", d.Enabled),
				})
			}
			table.Render()
			return nil
		}

		if count, _ := cmd.Flags().GetInt("count"); count > 0 {
			seedCfg.Defaults.Count = count
		}
		selected, _ := cmd.Flags().GetStringSlice("degradation")

		sum, err := seeder.NewRunner(seedCfg, newClient(cmd)).Run(selected)
		if err != nil {
			return err
		}
		if sum.Failed > 0 {
			output.Warn("%d of %d measurements could not be sent", sum.Failed, sum.Sent)
		}
		output.Success("Seeded %d measurements (%d rejected)", sum.Accepted, sum.Rejected)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("seeder-config", "", "seeder config file")
	seedCmd.Flags().StringSlice("degradation", nil, "degradation to inject (repeatable)")
	seedCmd.Flags().Int("count", 0, "points per metric (overrides the config)")
	seedCmd.Flags().Bool("list", false, "list configured degradations and exit")
}
