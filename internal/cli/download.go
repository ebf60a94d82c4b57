package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rayvision-network/rendersync/internal/app/orchestrator"
)

func init() {
	downloadCmd.Flags().StringSliceVar(&downloadServerPaths, "server-path", nil, "Remote path to download instead of task outputs (repeatable)")
	downloadCmd.Flags().StringVar(&downloadLocalPath, "local-path", "", "Download directory (overrides config)")
	downloadCmd.Flags().StringVar(&downloadLayout, "layout", "", "Remote layout: block or render (overrides config)")
	rootCmd.AddCommand(downloadCmd)
}

var (
	downloadServerPaths []string
	downloadLocalPath   string
	downloadLayout      string
)

var downloadCmd = &cobra.Command{
	Use:   "download [TASK_ID...]",
	Short: "Download task outputs once, without polling",
	Long:  `Download the outputs of finished tasks, or the given --server-path entries.`,
	RunE:  runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	s, err := loadService()
	if err != nil {
		return err
	}
	defer s.Close()

	opts := orchestrator.DownloadOptions{
		LocalPath:   s.Config.Transfer.LocalPath,
		ServerPaths: downloadServerPaths,
		Transfer:    s.TransferOptions(),
	}
	if downloadLocalPath != "" {
		opts.LocalPath = downloadLocalPath
	}
	layout := s.Config.Poll.Layout
	if downloadLayout != "" {
		layout = downloadLayout
	}
	if opts.Layout, err = orchestrator.ParseLayout(layout); err != nil {
		return err
	}

	if err := s.Downloader().Download(cmd.Context(), taskIDs(args), opts); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Download complete.")
	return nil
}
