package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adcraft-labs/creative-qa/cli/internal/client"
	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
)

const timeLayout = "2006-01-02 15:04:05"

var incidentsCmd = &cobra.Command{
	Use:     "incidents",
	Aliases: []string{"incident", "inc"},
	Short:   "Inspect and manage incidents",
}

var incidentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List incidents",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := client.IncidentFilter{}
		f.State, _ = cmd.Flags().GetString("state")
		f.Severity, _ = cmd.Flags().GetString("severity")
		f.Family, _ = cmd.Flags().GetString("family")
		f.Page, _ = cmd.Flags().GetInt("page")
		f.Limit, _ = cmd.Flags().GetInt("limit")

		resp, err := newClient(cmd).ListIncidents(f)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(resp)
		}
		if len(resp.Incidents) == 0 {
			output.Info("No incidents found")
			return nil
		}

		table := output.NewTable([]string{"ID", "SEVERITY", "STATE", "TYPE", "FAMILY", "EVENTS", "LAST EVENT"})
		for _, inc := range resp.Incidents {
			table.AddRow([]string{
				inc.ID,
				output.Severity(inc.Severity),
				output.State(inc.State),
				inc.EventType,
				inc.FamilyKey,
				fmt.Sprintf("%d", len(inc.RelatedEvents)),
				inc.LastEventAt.Format(timeLayout),
			})
		}
		table.Render()
		fmt.Println(output.Muted(fmt.Sprintf("page %d, %d of %d incidents", resp.Page, len(resp.Incidents), resp.Total)))
		return nil
	},
}

var incidentsGetCmd = &cobra.Command{
	Use:   "get <incident-id>",
	Short: "Show an incident and its related events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inc, err := newClient(cmd).GetIncident(args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(inc)
		}
		printIncident(inc)
		return nil
	},
}

var incidentsAckCmd = &cobra.Command{
	Use:     "ack <incident-id>",
	Aliases: []string{"acknowledge"},
	Short:   "Acknowledge an incident",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inc, err := newClient(cmd).Acknowledge(args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(inc)
		}
		output.Success("Incident %s is %s", inc.ID, inc.State)
		if inc.AcknowledgedBy != "" {
			output.Info("Acknowledged by %s", inc.AcknowledgedBy)
		}
		return nil
	},
}

var incidentsResolveCmd = &cobra.Command{
	Use:   "resolve <incident-id>",
	Short: "Resolve an incident",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		inc, err := newClient(cmd).Resolve(args[0], reason)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(inc)
		}
		output.Success("Incident %s is %s", inc.ID, inc.State)
		return nil
	},
}

var incidentsAlertsCmd = &cobra.Command{
	Use:   "alerts <incident-id>",
	Short: "List alerts delivered for an incident",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alerts, err := newClient(cmd).IncidentAlerts(args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(alerts)
		}
		if len(alerts) == 0 {
			output.Info("No alerts sent for this incident")
			return nil
		}

		table := output.NewTable([]string{"SENT", "AUDIENCE", "SEVERITY", "SUBJECT"})
		for _, a := range alerts {
			table.AddRow([]string{
				a.SentAt.Format(timeLayout),
				a.Audience,
				output.Severity(a.Severity),
				a.SubjectLine,
			})
		}
		table.Render()
		return nil
	},
}

func printIncident(inc *client.Incident) {
	fmt.Printf("ID:        %s\n", inc.ID)
	fmt.Printf("Family:    %s\n", inc.FamilyKey)
	fmt.Printf("Type:      %s\n", inc.EventType)
	fmt.Printf("Severity:  %s\n", output.Severity(inc.Severity))
	fmt.Printf("State:     %s\n", output.State(inc.State))
	fmt.Printf("Opened:    %s\n", inc.OpenedAt.Format(timeLayout))
	fmt.Printf("Last:      %s\n", inc.LastEventAt.Format(timeLayout))
	if inc.LastAlertAt != nil {
		fmt.Printf("Alerted:   %s\n", inc.LastAlertAt.Format(timeLayout))
	}
	if inc.AcknowledgedAt != nil {
		fmt.Printf("Acked:     %s by %s\n", inc.AcknowledgedAt.Format(timeLayout), inc.AcknowledgedBy)
	}
	if inc.ResolvedAt != nil {
		fmt.Printf("Resolved:  %s by %s\n", inc.ResolvedAt.Format(timeLayout), inc.ResolvedBy)
		if inc.ResolutionReason != "" {
			fmt.Printf("Reason:    %s\n", inc.ResolutionReason)
		}
	}

	if len(inc.RelatedEvents) > 0 {
		fmt.Println()
		table := output.NewTable([]string{"OCCURRED", "KIND", "SEVERITY", "REF", "SUMMARY"})
		for _, ev := range inc.RelatedEvents {
			table.AddRow([]string{
				ev.OccurredAt.Format(timeLayout),
				ev.Kind,
				output.Severity(ev.Severity),
				ev.Ref,
				ev.Summary,
			})
		}
		table.Render()
	}
}

func init() {
	rootCmd.AddCommand(incidentsCmd)
	incidentsCmd.AddCommand(incidentsListCmd, incidentsGetCmd, incidentsAckCmd, incidentsResolveCmd, incidentsAlertsCmd)

	incidentsListCmd.Flags().String("state", "", "filter by state: open, acknowledged, resolved")
	incidentsListCmd.Flags().String("severity", "", "filter by severity: info, warning, critical")
	incidentsListCmd.Flags().String("family", "", "filter by family key")
	incidentsListCmd.Flags().Int("page", 1, "page number")
	incidentsListCmd.Flags().Int("limit", 20, "results per page")

	incidentsResolveCmd.Flags().String("reason", "", "resolution reason")
}
