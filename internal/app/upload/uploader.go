// Package upload sends scene configuration files and asset lists to the
// farm through the transmitter, one file at a time or as a bounded pool.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/rayvision-network/rendersync/internal/domain"
	"github.com/rayvision-network/rendersync/internal/infra/dbini"
	"github.com/rayvision-network/rendersync/internal/infra/metrics"
	"github.com/rayvision-network/rendersync/internal/infra/retry"
)

// ShareInfo is the parent account an asset upload is shared with.
type ShareInfo struct {
	ParentUserID   string `toml:"parent_user_id"`
	ParentInputBid string `toml:"parent_input_bid"`
}

// Options configures one upload.
type Options struct {
	Transfer     domain.TransferOptions
	TransmitType domain.TransmitType // upload_json (default) or upload_list
	WithDB       bool                // pass a db ini to the transmitter
	Record       bool                // record the asset path after success
	RecordFlag   string
}

// ConfigFiles are the per-task scene files uploaded before the assets.
type ConfigFiles struct {
	Task   string `yaml:"task"`
	Tips   string `yaml:"tips"`
	Asset  string `yaml:"asset"`
	Upload string `yaml:"upload"`
}

// List returns the files in upload order.
func (c ConfigFiles) List() []string {
	return []string{c.Task, c.Tips, c.Asset, c.Upload}
}

// Option customises an Uploader.
type Option func(*Uploader)

// WithRetry sets the per-file retry policy.
func WithRetry(p *retry.Policy) Option { return func(u *Uploader) { u.retry = p } }

// WithDBIni sets the db ini writer used when Options.WithDB is set.
func WithDBIni(w *dbini.Writer) Option { return func(u *Uploader) { u.dbini = w } }

// WithRecorder sets where recorded uploads go.
func WithRecorder(r domain.UploadRecorder) Option { return func(u *Uploader) { u.recorder = r } }

// WithShare shares asset uploads with a parent account.
func WithShare(s ShareInfo) Option { return func(u *Uploader) { u.share = s } }

// WithLogger sets the logging sink.
func WithLogger(l domain.Logger) Option { return func(u *Uploader) { u.logger = l } }

// Uploader runs upload transfers. Safe for concurrent use.
type Uploader struct {
	invoker  domain.TransferInvoker
	retry    *retry.Policy
	dbini    *dbini.Writer
	recorder domain.UploadRecorder
	share    ShareInfo
	logger   domain.Logger
}

// New creates an uploader.
func New(invoker domain.TransferInvoker, opts ...Option) *Uploader {
	u := &Uploader{invoker: invoker}
	for _, opt := range opts {
		opt(u)
	}
	if u.retry == nil {
		u.retry = retry.New(retry.DefaultConfig())
	}
	if u.logger == nil {
		u.logger = log.New(io.Discard, "", 0)
	}
	return u
}

// Upload sends the config files, then the asset list in files.Upload.
func (u *Uploader) Upload(ctx context.Context, taskID domain.TaskID, files ConfigFiles, opts Options) error {
	if err := u.UploadConfig(ctx, taskID, files.List(), opts); err != nil {
		return err
	}
	return u.UploadAsset(ctx, files.Upload, opts)
}

// UploadConfig uploads each existing file to /<task>/cfg/<name>. Missing
// files are skipped. Each file has its own retry budget.
func (u *Uploader) UploadConfig(ctx context.Context, taskID domain.TaskID, files []string, opts Options) error {
	if err := opts.Transfer.Validate(); err != nil {
		return err
	}
	for _, file := range files {
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			u.logger.Printf("[upload] %s does not exist, skipping", file)
			continue
		}

		remote := fmt.Sprintf("/%s/cfg/%s", taskID, filepath.Base(file))
		spec := opts.Transfer.Apply(domain.TransferSpec{
			Type:        domain.TransmitUploadPath,
			LocalPath:   file,
			RemotePaths: []string{remote},
			Bid:         domain.BidConfig,
		})
		if err := u.run(ctx, "upload "+file, spec); err != nil {
			return err
		}
	}
	return nil
}

// UploadAsset uploads the files listed in an upload json (or list) to the
// input bucket root.
func (u *Uploader) UploadAsset(ctx context.Context, path string, opts Options) error {
	if err := opts.Transfer.Validate(); err != nil {
		return err
	}
	typ := opts.TransmitType
	if typ == "" {
		typ = domain.TransmitUploadJSON
	}
	if typ != domain.TransmitUploadJSON && typ != domain.TransmitUploadList {
		return &domain.ConfigError{Field: "transmit_type", Value: string(typ)}
	}
	if opts.Record && u.recorder == nil {
		return &domain.ConfigError{Field: "upload.record", Value: opts.RecordFlag}
	}

	spec := opts.Transfer.Apply(domain.TransferSpec{
		Type:           typ,
		LocalPath:      path,
		RemotePaths:    []string{"/"},
		Bid:            domain.BidInput,
		ParentUserID:   u.share.ParentUserID,
		ParentInputBid: u.share.ParentInputBid,
	})
	if opts.WithDB {
		if u.dbini == nil {
			return &domain.ConfigError{Field: "database.db_path", Value: ""}
		}
		ini, err := u.dbini.Create(path)
		if err != nil {
			return err
		}
		spec.DBIniPath = ini
	}

	if err := u.run(ctx, "upload "+path, spec); err != nil {
		return err
	}

	if opts.Record {
		if err := u.recorder.RecordUpload(ctx, opts.RecordFlag, path); err != nil {
			u.logger.Printf("[upload] WARNING: %v", err)
		}
	}
	return nil
}

// run invokes one spec under the retry policy.
func (u *Uploader) run(ctx context.Context, op string, spec domain.TransferSpec) error {
	err := u.retry.Do(ctx, op, func(ctx context.Context, attempt int) error {
		code, err := u.invoker.Invoke(ctx, spec)
		if err != nil {
			metrics.Transfers.WithLabelValues(string(spec.Type), "error").Inc()
			return err
		}
		if code != 0 {
			metrics.Transfers.WithLabelValues(string(spec.Type), "failed").Inc()
			u.logger.Printf("[upload] %s attempt %d exited %d", spec.LocalPath, attempt, code)
			return &domain.TransferError{Target: spec.LocalPath, ExitCode: code}
		}
		metrics.Transfers.WithLabelValues(string(spec.Type), "ok").Inc()
		return nil
	})
	if errors.Is(err, domain.ErrRetryExhausted) {
		metrics.RetriesExhausted.WithLabelValues("upload").Inc()
	}
	return err
}
