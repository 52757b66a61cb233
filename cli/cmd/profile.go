package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adcraft-labs/creative-qa/cli/internal/config"
	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage monitor connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &config.Profile{}
		if existing, ok := cfg.Profiles[args[0]]; ok {
			*p = *existing
		}
		if v, _ := cmd.Flags().GetString("url"); v != "" {
			p.MonitorURL = v
		}
		if v, _ := cmd.Root().PersistentFlags().GetString("token"); v != "" {
			p.Token = v
		}
		if v, _ := cmd.Root().PersistentFlags().GetString("operator"); v != "" {
			p.Operator = v
		}

		if err := cfg.SaveProfile(args[0], p); err != nil {
			return err
		}
		output.Success("Profile '%s' saved", args[0])
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, ok := cfg.Profiles[args[0]]
		if !ok {
			return fmt.Errorf("profile '%s' not found", args[0])
		}
		if err := cfg.SaveProfile(args[0], p); err != nil {
			return err
		}
		output.Success("Using profile '%s'", args[0])
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)

		table := output.NewTable([]string{"", "NAME", "MONITOR", "OPERATOR", "TOKEN"})
		for _, name := range names {
			p := cfg.Profiles[name]
			current, token := "", "no"
			if name == cfg.CurrentProfile {
				current = "*"
			}
			if p.Token != "" {
				token = "yes"
			}
			table.AddRow([]string{current, name, p.MonitorURL, p.Operator, token})
		}
		table.Render()
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileUseCmd, profileListCmd, profileRemoveCmd)

	profileSetCmd.Flags().String("url", "", "monitor base URL")
}
