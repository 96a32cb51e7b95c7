package cmd

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jmcleod/opsvault/audit"
)

// verifyResult is a chain report plus where the chain came from.
type verifyResult struct {
	Source string `json:"source"`
	audit.Report
}

// auditExport is the body of GET /api/v1/audit.
type auditExport struct {
	Entries []audit.Entry `json:"entries"`
}

// loadExport parses a saved audit listing, either the API response object
// or a bare array, and returns its entries oldest first.
func loadExport(data []byte) ([]audit.Entry, error) {
	var entries []audit.Entry
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
	} else {
		var export auditExport
		if err := json.Unmarshal(data, &export); err != nil {
			return nil, err
		}
		entries = export.Entries
	}
	slices.SortStableFunc(entries, func(a, b audit.Entry) int { return cmp.Compare(a.Seq, b.Seq) })
	return entries, nil
}

func printHumanResult(w io.Writer, result verifyResult) {
	fmt.Fprintf(w, "Audit chain verification: %s\n", result.Source)
	fmt.Fprintf(w, "Entries:  %d\n\n", result.EntryCount)

	failures, warnings := 0, 0
	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case audit.StatusFail:
			tag = "[FAIL]"
			failures++
		case audit.StatusWarn:
			tag = "[WARN]"
			warnings++
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
		return
	}
	fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
}

func printJSONResult(w io.Writer, result verifyResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

var verifyJSONOutput bool

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify the integrity of the audit hash chain",
	Long: `Without arguments, verifies the chain held in the configured storage,
including its head record. With a file, verifies a saved copy of
GET /api/v1/audit output (every page, in any order).

Checks the genesis anchor, contiguous sequence numbers, each entry's hash,
the links between entries, duplicate IDs and timestamp ordering. Exits 1
when the chain is invalid.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	auditCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	var result verifyResult
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("cannot read file: %w", err)
		}
		entries, err := loadExport(data)
		if err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		result = verifyResult{Source: args[0], Report: audit.VerifyChain(entries)}
	} else {
		app, err := openOffline(cmd.Context(), cmd.ErrOrStderr(), false)
		if err != nil {
			return err
		}
		defer app.Close()
		report, err := app.audits.Verify(cmd.Context())
		if err != nil {
			return err
		}
		result = verifyResult{Source: cfg.storage + " storage", Report: report}
	}

	out := cmd.OutOrStdout()
	if verifyJSONOutput {
		if err := printJSONResult(out, result); err != nil {
			return err
		}
	} else {
		printHumanResult(out, result)
	}
	if !result.Valid {
		return errReported
	}
	return nil
}
