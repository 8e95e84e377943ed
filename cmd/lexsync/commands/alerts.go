package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var alertsUser string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage keyword alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var alertsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Evaluate a user's active alerts now",
	Long: `Run every active alert of the user against both upstream sources and print
the current matches. Alerts are not modified.

Examples:
  lexsync alerts verify --user 42`,
	RunE: runAlertsVerify,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's alerts",
	RunE:  runAlertsList,
}

func init() {
	alertsCmd.PersistentFlags().StringVarP(&alertsUser, "user", "u", "", "User id owning the alerts")
	alertsCmd.AddCommand(alertsVerifyCmd)
	alertsCmd.AddCommand(alertsListCmd)
	rootCmd.AddCommand(alertsCmd)
}

func runAlertsVerify(cmd *cobra.Command, args []string) error {
	if alertsUser == "" {
		return fmt.Errorf("--user is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	eval, err := a.alerts.Evaluate(cmd.Context(), alertsUser)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), eval)
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	if alertsUser == "" {
		return fmt.Errorf("--user is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.alerts.List(cmd.Context(), alertsUser, nil)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), list)
}
