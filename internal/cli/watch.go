package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rayvision-network/rendersync/internal/app/orchestrator"
	"github.com/rayvision-network/rendersync/internal/domain"
)

func init() {
	watchCmd.Flags().StringVar(&watchMode, "mode", "", "Completion mode: simple, block, rebuild or auto (default poll.mode)")
	watchCmd.Flags().StringVar(&watchLocalPath, "local-path", "", "Download directory (overrides config)")
	watchCmd.Flags().StringVar(&watchLayout, "layout", "", "Remote layout: block or render (overrides config)")
	watchCmd.Flags().StringVar(&watchRunID, "run-id", "", "Resume the ledger entry of an aborted run")
	watchCmd.Flags().BoolVar(&watchStatus, "status", false, "Serve the status API while watching")
	watchCmd.Flags().StringVar(&watchStatusAddr, "status-addr", "", "Status API address (implies --status)")
	rootCmd.AddCommand(watchCmd)
}

var (
	watchMode       string
	watchLocalPath  string
	watchLayout     string
	watchRunID      string
	watchStatus     bool
	watchStatusAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch TASK_ID...",
	Short: "Poll tasks and download their outputs as they complete",
	Long: `Poll the farm until every task has been downloaded or has failed.

Modes:
  simple   download once the farm reports the task ended
  block    download as soon as any subtask is done (block layout)
  rebuild  download once every rebuild frame is done
  auto     download every cycle until the task ended`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := loadService()
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, err := s.OrchestratorConfig(watchMode)
	if err != nil {
		return err
	}
	if watchLocalPath != "" {
		cfg.LocalPath = watchLocalPath
	}
	if watchLayout != "" {
		if cfg.Layout, err = orchestrator.ParseLayout(watchLayout); err != nil {
			return err
		}
	}

	out := cmd.ErrOrStderr()
	opts := []orchestrator.Option{
		orchestrator.WithObserver(func(r orchestrator.CycleReport) {
			fmt.Fprintf(out, "cycle %d: %d pending, %d downloaded, %d failed\n",
				r.Cycle, len(r.Pending), len(r.Transferred), len(r.Failed))
		}),
	}
	if watchRunID != "" {
		opts = append(opts, orchestrator.WithRunID(watchRunID))
	}

	o, err := s.NewOrchestrator(cfg, taskIDs(args), opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if watchStatus || watchStatusAddr != "" {
		s.Server.SetRun(o)
		go func() {
			if err := s.ServeStatus(ctx, watchStatusAddr); err != nil {
				s.Logger.Printf("[cli] status server: %v", err)
			}
		}()
	}

	fmt.Fprintf(out, "run %s: watching %d task(s) in %s mode\n", o.RunID(), len(o.Pending()), o.Mode())
	err = o.Run(ctx)

	var batch *domain.BatchError
	var sqe *domain.StatusQueryError
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "All tasks downloaded.")
	case errors.As(err, &batch):
		fmt.Fprintf(cmd.OutOrStdout(), "Failed tasks: %s\n", strings.Join(idStrings(batch.TaskIDs()), ", "))
	case errors.As(err, &sqe):
		fmt.Fprintf(out, "resume with: rendersync watch --run-id %s %s\n", o.RunID(), strings.Join(idStrings(o.Pending()), " "))
	}
	return err
}
