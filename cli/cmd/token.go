package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
	"github.com/adcraft-labs/creative-qa/common/middleware"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator token",
	Long: `Sign an operator bearer token with the monitor's JWT secret.

The operator name comes from --operator or the active profile. The secret is
read from --secret or QACTL_JWT_SECRET.`,
	Example: `  QACTL_JWT_SECRET=... qactl token --operator dana --ttl 8h --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = viper.GetString("jwt_secret")
		}
		if secret == "" {
			return errors.New("a signing secret is required (--secret or QACTL_JWT_SECRET)")
		}

		p := activeProfile(cmd)
		if p.Operator == "" {
			return errors.New("an operator name is required (--operator or profile operator)")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := middleware.IssueOperatorToken(secret, p.Operator, ttl)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}

		save, _ := cmd.Flags().GetBool("save")
		if !save {
			fmt.Println(token)
			return nil
		}

		name, _ := cmd.Flags().GetString("profile")
		if name == "" {
			name = cfg.CurrentProfile
		}
		p.Token = token
		if err := cfg.SaveProfile(name, p); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
		output.Success("Token for %s saved to profile '%s'", p.Operator, name)
		output.Info("Expires: %s", time.Now().Add(ttl).Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("secret", "", "JWT signing secret shared with the monitor")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")
	tokenCmd.Flags().Bool("save", false, "store the token in the active profile")
}
