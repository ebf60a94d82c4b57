package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rayvision-network/rendersync/internal/app/upload"
	"github.com/rayvision-network/rendersync/internal/domain"
)

func init() {
	f := uploadCmd.Flags()
	f.StringVar(&uploadFiles.Task, "task", "", "task.json")
	f.StringVar(&uploadFiles.Tips, "tips", "", "tips.json")
	f.StringVar(&uploadFiles.Asset, "asset", "", "asset.json")
	f.StringVar(&uploadFiles.Upload, "upload", "", "upload.json listing the assets")
	f.BoolVar(&uploadConfigOnly, "config-only", false, "Upload the config files only")
	f.BoolVar(&uploadAssetOnly, "asset-only", false, "Upload the assets only")
	f.BoolVar(&uploadList, "list", false, "Send --upload as an upload_list instead of upload_json")
	f.BoolVar(&uploadNoDB, "no-db", false, "Do not pass a transmitter db ini")
	f.StringVar(&uploadRecordFlag, "record-flag", "", "Record the asset upload under this flag")
	rootCmd.AddCommand(uploadCmd)
}

var (
	uploadFiles      upload.ConfigFiles
	uploadConfigOnly bool
	uploadAssetOnly  bool
	uploadList       bool
	uploadNoDB       bool
	uploadRecordFlag string
)

var uploadCmd = &cobra.Command{
	Use:   "upload TASK_ID",
	Short: "Upload a task's config files and assets",
	Long: `Upload task.json, tips.json, asset.json and upload.json to /<task>/cfg,
then the assets listed in upload.json. Missing config files are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func runUpload(cmd *cobra.Command, args []string) error {
	if uploadConfigOnly && uploadAssetOnly {
		return fmt.Errorf("--config-only and --asset-only are exclusive")
	}
	if !uploadConfigOnly && uploadFiles.Upload == "" {
		return fmt.Errorf("--upload is required: %w", domain.ErrMissingTargets)
	}

	s, err := loadService()
	if err != nil {
		return err
	}
	defer s.Close()

	// The db ini follows database.on unless --no-db is given.
	opts := upload.Options{
		Transfer:   s.TransferOptions(),
		WithDB:     s.DBIni != nil && !uploadNoDB,
		Record:     uploadRecordFlag != "",
		RecordFlag: uploadRecordFlag,
	}
	if uploadList {
		opts.TransmitType = domain.TransmitUploadList
	}

	u := s.Uploader()
	taskID := domain.TaskID(args[0])
	switch {
	case uploadConfigOnly:
		err = u.UploadConfig(cmd.Context(), taskID, uploadFiles.List(), opts)
	case uploadAssetOnly:
		err = u.UploadAsset(cmd.Context(), uploadFiles.Upload, opts)
	default:
		err = u.Upload(cmd.Context(), taskID, uploadFiles, opts)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Upload complete.")
	return nil
}
