package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Vault administration",
}

var vaultInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the vault under a new vault password",
	Long: `Creates the vault configuration. The vault password is never stored;
losing it makes every stored secret unrecoverable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		password, err := promptNewPassword("Vault password")
		if err != nil {
			return err
		}
		app, err := openOffline(cmd.Context(), cmd.ErrOrStderr(), false)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.vault.Initialize(cmd.Context(), cliActor, password); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Vault initialized")
		return nil
	},
}

var vaultStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the vault is initialized",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := openOffline(cmd.Context(), cmd.ErrOrStderr(), false)
		if err != nil {
			return err
		}
		defer app.Close()

		st, err := app.vault.Status(cmd.Context(), "")
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCmd.AddCommand(vaultInitCmd, vaultStatusCmd)
}
