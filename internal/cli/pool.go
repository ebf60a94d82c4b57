package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rayvision-network/rendersync/internal/app/upload"
	"github.com/rayvision-network/rendersync/internal/domain"
)

func init() {
	uploadPoolCmd.Flags().StringVar(&poolManifest, "manifest", "", "YAML manifest listing upload.json files")
	uploadPoolCmd.Flags().IntVar(&poolSize, "pool", 0, "Concurrent uploads (default upload.pool_size)")
	uploadPoolCmd.Flags().StringVar(&poolRecordFlag, "record-flag", "", "Record each successful upload under this flag")
	rootCmd.AddCommand(uploadPoolCmd)
}

var (
	poolManifest   string
	poolSize       int
	poolRecordFlag string
)

var uploadPoolCmd = &cobra.Command{
	Use:   "upload-pool [UPLOAD_JSON...]",
	Short: "Upload many asset lists concurrently",
	Long: `Upload each upload.json as an independent unit with its own retry budget.
One failing unit never stops the others.`,
	RunE: runUploadPool,
}

func runUploadPool(cmd *cobra.Command, args []string) error {
	paths := args
	size := poolSize
	flag := poolRecordFlag
	if poolManifest != "" {
		m, err := upload.LoadManifest(poolManifest)
		if err != nil {
			return err
		}
		paths = append(m.Uploads, paths...)
		if size == 0 {
			size = m.PoolSize
		}
		if flag == "" {
			flag = m.RecordFlag
		}
	}
	if len(paths) == 0 {
		return domain.ErrMissingTargets
	}

	s, err := loadService()
	if err != nil {
		return err
	}
	defer s.Close()

	d := s.Dispatcher(size)
	report, err := d.Dispatch(cmd.Context(), paths, upload.Options{
		Transfer:   s.TransferOptions(),
		Record:     flag != "",
		RecordFlag: flag,
	})
	fmt.Fprintf(cmd.OutOrStdout(), "%d uploaded, %d failed (pool %d)\n", len(report.Succeeded), len(report.Failed), d.PoolSize())
	return err
}
