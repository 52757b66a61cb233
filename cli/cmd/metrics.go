package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List metrics held by the monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := newClient(cmd).ListMetrics()
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(names)
		}
		if len(names) == 0 {
			output.Info("No metrics recorded")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var windowCmd = &cobra.Command{
	Use:   "window <metric>",
	Short: "Show the recent window of a metric",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("size")
		span, _ := cmd.Flags().GetDuration("span")
		tail, _ := cmd.Flags().GetInt("tail")

		resp, err := newClient(cmd).MetricWindow(args[0], size, span)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(resp)
		}

		if s := resp.Stats; s != nil {
			fmt.Printf("Metric:  %s\n", resp.MetricName)
			fmt.Printf("Samples: %d\n", s.Count)
			fmt.Printf("Mean:    %.4g  (stddev %.4g)\n", s.Mean, s.StdDev)
			fmt.Printf("Range:   %.4g .. %.4g\n", s.Min, s.Max)
			fmt.Printf("Latest:  %.4g\n\n", s.Latest)
		}

		ms := resp.Measurements
		if tail > 0 && len(ms) > tail {
			ms = ms[len(ms)-tail:]
		}
		table := output.NewTable([]string{"TIMESTAMP", "VALUE"})
		for _, m := range ms {
			table.AddRow([]string{m.Timestamp.Format("2006-01-02 15:04:05"), fmt.Sprintf("%g", m.Value)})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(windowCmd)

	windowCmd.Flags().Int("size", 0, "maximum samples (default: server window size)")
	windowCmd.Flags().Duration("span", 0, "maximum age of samples, e.g. 15m")
	windowCmd.Flags().Int("tail", 20, "rows to print (0 for all)")
}
