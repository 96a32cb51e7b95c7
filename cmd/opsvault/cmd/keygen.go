package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/opsvault/auth"
	"github.com/jmcleod/opsvault/internal/util"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new random application key",
	Long: `Prints a hex-encoded application key for --app-key-file or
$OPSVAULT_APP_KEY. Losing the key ends every session and invalidates
every TOTP second factor and remember-device token.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := util.RandomBytes(auth.MinAppKeyLength)
		if err != nil {
			return err
		}
		defer util.WipeBytes(key)
		_, err = fmt.Fprintln(cmd.OutOrStdout(), util.HexEncode(key))
		return err
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
