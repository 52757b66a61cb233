package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/adcraft-labs/creative-qa/cli/internal/client"
	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
)

var measureCmd = &cobra.Command{
	Use:   "measure [metric] [value]",
	Short: "Record metric measurements",
	Long: `Record a single measurement, or a JSON array of measurements with --file.

Each array element has the form:

  {"metric_name": "api.latency_ms", "value": 182, "timestamp": "2026-03-01T12:00:00Z", "tags": {"region": "eu-west-1"}}`,
	Example: `  qactl measure api.latency_ms 182 --tag region=eu-west-1
  qactl measure --file batch.json`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runMeasure,
}

func init() {
	rootCmd.AddCommand(measureCmd)

	measureCmd.Flags().StringToString("tag", nil, "tag as key=value (repeatable)")
	measureCmd.Flags().String("at", "", "RFC3339 timestamp (default: now)")
	measureCmd.Flags().String("file", "", "JSON file holding an array of measurements")
}

func runMeasure(cmd *cobra.Command, args []string) error {
	ms, err := measurementsFromArgs(cmd, args)
	if err != nil {
		return err
	}

	resp, err := newClient(cmd).RecordMeasurements(ms)
	if resp == nil {
		return err
	}
	if jsonOutput(cmd) {
		if jerr := output.JSON(resp); jerr != nil {
			return jerr
		}
		return err
	}
	if err != nil {
		return err
	}

	output.Success("Recorded %d measurement(s)", resp.Accepted)
	if resp.Rejected > 0 {
		output.Warn("Rejected %d: %s", resp.Rejected, resp.Error)
	}
	return nil
}

func measurementsFromArgs(cmd *cobra.Command, args []string) ([]client.Measurement, error) {
	file, _ := cmd.Flags().GetString("file")
	if file != "" {
		if len(args) > 0 {
			return nil, errors.New("use either --file or <metric> <value>, not both")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read measurements: %w", err)
		}
		var ms []client.Measurement
		if err := json.Unmarshal(data, &ms); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		return ms, nil
	}

	if len(args) != 2 {
		return nil, errors.New("requires <metric> <value> or --file")
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	ts := time.Now().UTC()
	if at, _ := cmd.Flags().GetString("at"); at != "" {
		ts, err = time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
	}
	tags, _ := cmd.Flags().GetStringToString("tag")

	return []client.Measurement{{
		MetricName: args[0],
		Value:      value,
		Timestamp:  ts,
		Tags:       tags,
	}}, nil
}
