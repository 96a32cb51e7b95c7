package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/opsvault/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the audit log",
}

var auditListOpts struct {
	userID string
	action string
	since  string
	limit  int
	json   bool
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print audit entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := audit.Filter{UserID: auditListOpts.userID, Action: audit.Action(auditListOpts.action)}
		if auditListOpts.since != "" {
			d, err := time.ParseDuration(auditListOpts.since)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			f.Since = time.Now().Add(-d)
		}

		app, err := openOffline(cmd.Context(), cmd.ErrOrStderr(), false)
		if err != nil {
			return err
		}
		defer app.Close()

		entries, err := app.audits.List(cmd.Context(), f)
		if err != nil {
			return err
		}
		if auditListOpts.limit > 0 && len(entries) > auditListOpts.limit {
			entries = entries[:auditListOpts.limit]
		}
		if auditListOpts.json {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		return printEntries(cmd.OutOrStdout(), entries)
	},
}

func printEntries(w io.Writer, entries []audit.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tACTION\tUSER\tENTITY\tIP\tDESCRIPTION")
	for _, e := range entries {
		entity := ""
		if e.EntityType != "" {
			entity = e.EntityType + "/" + e.EntityID
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.Timestamp.Format(time.RFC3339), e.Action, e.UserID, entity, e.IPAddress, e.Description)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	f := auditListCmd.Flags()
	f.StringVar(&auditListOpts.userID, "user", "", "Only entries for this user ID")
	f.StringVar(&auditListOpts.action, "action", "", "Only entries with this action")
	f.StringVar(&auditListOpts.since, "since", "", "Only entries newer than this duration, e.g. 24h")
	f.IntVar(&auditListOpts.limit, "limit", 100, "Maximum entries to print (0 for all)")
	f.BoolVar(&auditListOpts.json, "json", false, "Output entries as JSON")
}
