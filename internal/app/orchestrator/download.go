package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rayvision-network/rendersync/internal/domain"
	"github.com/rayvision-network/rendersync/internal/infra/metrics"
)

// LocalDirName is appended to the user's home when no local path is given.
const LocalDirName = "renderfarm_sdk"

// DefaultLocalPath returns <home>/renderfarm_sdk. The home directory is
// USERPROFILE on Windows and HOME elsewhere.
func DefaultLocalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return LocalDirName
	}
	return filepath.Join(home, LocalDirName)
}

// Layout selects which remote paths are downloaded for a task.
type Layout string

const (
	// LayoutOutputs downloads the output names the farm reports.
	LayoutOutputs Layout = ""
	// LayoutBlock downloads <task>\at_result.
	LayoutBlock Layout = "block"
	// LayoutRender downloads <task>\render_result.
	LayoutRender Layout = "render"
)

// ParseLayout validates a layout name.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(s); l {
	case LayoutOutputs, LayoutBlock, LayoutRender:
		return l, nil
	}
	return "", &domain.ConfigError{Field: "download_type", Value: s}
}

// transferrer downloads the remote paths of one task. Shared by the
// polling orchestrator and the one-shot Downloader.
type transferrer struct {
	invoker   domain.TransferInvoker
	localPath string
	layout    Layout
	options   domain.TransferOptions
}

// targets returns the remote paths to download for a task.
func (t *transferrer) targets(st domain.TaskStatus) []string {
	switch t.layout {
	case LayoutBlock:
		return []string{string(st.ID) + `\at_result`}
	case LayoutRender:
		return []string{string(st.ID) + `\render_result`}
	}
	return st.OutputNames
}

// download runs one transmitter per remote path and stops at the first
// failure.
func (t *transferrer) download(ctx context.Context, remotes []string) error {
	for _, remote := range remotes {
		spec := t.options.Apply(domain.TransferSpec{
			Type:           domain.TransmitDownloadPath,
			LocalPath:      t.localPath,
			RemotePaths:    []string{remote},
			FilenameFormat: t.options.FilenameFormat,
			Bid:            domain.BidOutput,
		})
		if err := invoke(ctx, t.invoker, spec, remote); err != nil {
			return err
		}
	}
	return nil
}

// invoke runs one spec and turns a nonzero exit code into a TransferError.
func invoke(ctx context.Context, invoker domain.TransferInvoker, spec domain.TransferSpec, target string) error {
	start := time.Now()
	code, err := invoker.Invoke(ctx, spec)
	metrics.TransferDuration.WithLabelValues(string(spec.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Transfers.WithLabelValues(string(spec.Type), "error").Inc()
		return fmt.Errorf("transfer %s: %w", target, err)
	}
	if code != 0 {
		metrics.Transfers.WithLabelValues(string(spec.Type), "failed").Inc()
		return &domain.TransferError{Target: target, ExitCode: code}
	}
	metrics.Transfers.WithLabelValues(string(spec.Type), "ok").Inc()
	return nil
}

// ─── One-shot Download ──────────────────────────────────────────────────────

// DownloadOptions configures Downloader.Download.
type DownloadOptions struct {
	LocalPath   string   // default DefaultLocalPath()
	ServerPaths []string // custom remote paths; skips the status query
	Layout      Layout
	Transfer    domain.TransferOptions
}

// Downloader downloads finished tasks once, without polling.
type Downloader struct {
	oracle  domain.StatusOracle
	invoker domain.TransferInvoker
	logger  domain.Logger
}

// NewDownloader creates a one-shot downloader. logger may be nil; oracle
// may be nil when only server paths are downloaded.
func NewDownloader(oracle domain.StatusOracle, invoker domain.TransferInvoker, logger domain.Logger) *Downloader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Downloader{oracle: oracle, invoker: invoker, logger: logger}
}

// Download transfers the outputs of ids, or the given server paths. The
// first failed transfer is returned.
func (d *Downloader) Download(ctx context.Context, ids []domain.TaskID, opts DownloadOptions) error {
	if len(ids) == 0 && len(opts.ServerPaths) == 0 {
		return domain.ErrMissingTargets
	}
	if err := opts.Transfer.Validate(); err != nil {
		return err
	}
	if opts.LocalPath == "" {
		opts.LocalPath = DefaultLocalPath()
	}
	t := &transferrer{
		invoker:   d.invoker,
		localPath: opts.LocalPath,
		layout:    opts.Layout,
		options:   opts.Transfer,
	}

	d.logger.Printf("[download] start: task_ids=%v local_path=%s", ids, opts.LocalPath)
	if len(opts.ServerPaths) > 0 {
		if err := t.download(ctx, opts.ServerPaths); err != nil {
			return err
		}
		d.logger.Printf("[download] end")
		return nil
	}

	if d.oracle == nil {
		return &domain.ConfigError{Field: "farm.endpoint", Value: ""}
	}
	statuses, err := d.oracle.TaskStatus(ctx, ids)
	if err != nil {
		return asStatusQueryError(ids, err)
	}
	for _, id := range ids {
		st, ok := statuses[id]
		if !ok {
			return asStatusQueryError([]domain.TaskID{id}, fmt.Errorf("task %s missing from status response", id))
		}
		if err := t.download(ctx, t.targets(st)); err != nil {
			return err
		}
	}
	d.logger.Printf("[download] end")
	return nil
}
