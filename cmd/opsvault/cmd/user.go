package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage login accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a login account",
	Long: `Creates a login account. The password is read from the terminal, or
from the first two lines of stdin when stdin is not a terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := promptNewPassword("Password")
		if err != nil {
			return err
		}
		app, err := openOffline(cmd.Context(), cmd.ErrOrStderr(), true)
		if err != nil {
			return err
		}
		defer app.Close()

		u, err := app.authn.CreateUser(cmd.Context(), cliActor, args[0], password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s)\n", u.Username, u.ID)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List login accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := openOffline(cmd.Context(), cmd.ErrOrStderr(), true)
		if err != nil {
			return err
		}
		defer app.Close()

		users, err := app.authn.Users().List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "USERNAME\tID\t2FA\tSTATUS\tCREATED")
		for _, u := range users {
			status := "active"
			if u.Disabled {
				status = "disabled"
			}
			twoFA := "off"
			if u.SecondFactorEnabled {
				twoFA = "on"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.Username, u.ID, twoFA, status, u.CreatedAt.Format("2006-01-02"))
		}
		return tw.Flush()
	},
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <username>",
	Short: "Disable a login account and revoke its remember tokens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openOffline(cmd.Context(), cmd.ErrOrStderr(), true)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.authn.DisableUser(cmd.Context(), cliActor, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Disabled user %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd, userListCmd, userDisableCmd)
}
