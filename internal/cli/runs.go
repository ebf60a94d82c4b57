package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent watch runs from the ledger",
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	s, err := loadService()
	if err != nil {
		return err
	}
	defer s.Close()

	if s.Ledger == nil {
		return fmt.Errorf("ledger is disabled (ledger.enabled = false)")
	}
	runs, err := s.Ledger.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tMODE\tSTATUS\tTASKS\tSTARTED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			r.Mode,
			r.Status,
			len(r.TaskIDs),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Error,
		)
	}
	return w.Flush()
}
