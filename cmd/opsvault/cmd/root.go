package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// errReported marks a failure whose message has already been printed.
var errReported = errors.New("reported")

var rootCmd = &cobra.Command{
	Use:   "opsvault",
	Short: "opsvault keeps operational secrets behind a vault password",
	Long: `opsvault stores credentials, database and mailbox passwords encrypted
under a key derived from a vault password. Logins support TOTP second
factors and every disclosure lands in a hash-chained audit log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	cfg.bindPersistent(rootCmd)
}
