package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default api.host:api.port)")
	rootCmd.AddCommand(serveCmd)
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status API server",
	Long:  `Serve /health, /api/runs and /metrics until interrupted.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadService()
	if err != nil {
		return err
	}
	defer s.Close()

	return s.ServeStatus(cmd.Context(), serveAddr)
}
