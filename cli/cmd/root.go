package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adcraft-labs/creative-qa/cli/internal/client"
	"github.com/adcraft-labs/creative-qa/cli/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "qactl",
	Short: "Creative QA monitor CLI",
	Long: `qactl is the command-line interface for the creative QA monitor.

Score creatives before launch, push campaign metrics, inspect metric
windows, and acknowledge or resolve incidents from your terminal.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.qactl/config.yaml)")
	flags.String("profile", "", "profile to use (default: current profile)")
	flags.StringP("output", "o", "table", "output format: table, json")
	flags.String("server", "", "monitor URL, overrides the profile")
	flags.String("token", "", "operator bearer token, overrides the profile")
	flags.String("operator", "", "operator name sent when the monitor runs without auth")

	for _, name := range []string{"server", "token", "operator"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetEnvPrefix("QACTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// activeProfile resolves the selected profile with flag and QACTL_* env
// overrides applied.
func activeProfile(cmd *cobra.Command) *config.Profile {
	name, _ := cmd.Flags().GetString("profile")
	if cfg == nil {
		cfg = config.Default()
	}
	p := cfg.GetProfile(name)
	if v := viper.GetString("server"); v != "" {
		p.MonitorURL = v
	}
	if v := viper.GetString("token"); v != "" {
		p.Token = v
	}
	if v := viper.GetString("operator"); v != "" {
		p.Operator = v
	}
	return p
}

func newClient(cmd *cobra.Command) *client.MonitorClient {
	p := activeProfile(cmd)
	return client.NewMonitorClient(strings.TrimRight(p.MonitorURL, "/"), p.Token, p.Operator)
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}
