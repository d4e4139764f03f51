package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/erazemk/nxledger/internal/ledger"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every version chain for inconsistencies",
		Long: `Check that every serial and container tag has at most one open version,
that chain links point both ways, and that each version's date_replaced equals
its successor's date_created.

Exit codes:
  0 - All chains are consistent
  1 - Inconsistencies found
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.auditor.Verify(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to verify chains", err)
			}
			return printReport(formatter(cmd, rootOpts), report)
		},
	}
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Close dangling heads and report what cannot be repaired",
		Long: `Run verify, then close every open version that already has a successor,
as left behind by an interrupted supersede. Other issues are reported only.

Exit codes:
  0 - All issues were repaired
  1 - Issues remain
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.auditor.Repair(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to repair chains", err)
			}
			return printReport(formatter(cmd, rootOpts), report)
		},
	}
}

func printReport(f *OutputFormatter, report *ledger.Report) error {
	remaining := 0
	for _, issue := range report.Issues {
		if !issue.Repaired {
			remaining++
		}
	}

	err := f.Print(report, func(w io.Writer) {
		fmt.Fprintf(w, "Checked %d versions, %d issues.\n", report.Checked, len(report.Issues))
		for _, issue := range report.Issues {
			status := ""
			if issue.Repaired {
				status = " [repaired]"
			}
			fmt.Fprintf(w, "  %s %s %s: %s", issue.Kind, issue.Entity, issue.ID, issue.Detail)
			if issue.Related != "" {
				fmt.Fprintf(w, " (%s)", issue.Related)
			}
			fmt.Fprintf(w, "%s\n", status)
		}
		if remaining == 0 {
			fmt.Fprintln(w, "All chains consistent.")
		}
	})
	if err != nil {
		return err
	}
	if remaining > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d chain issues", remaining))
	}
	return nil
}
