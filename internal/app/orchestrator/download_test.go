package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayvision-network/rendersync/internal/domain"
)

func TestDownload_RequiresTargets(t *testing.T) {
	d := NewDownloader(&fakeOracle{}, &fakeInvoker{}, nil)
	err := d.Download(context.Background(), nil, DownloadOptions{})
	require.ErrorIs(t, err, domain.ErrMissingTargets)
}

func TestDownload_ServerPathsSkipStatusQuery(t *testing.T) {
	oracle := &fakeOracle{}
	inv := &fakeInvoker{}
	d := NewDownloader(oracle, inv, nil)

	err := d.Download(context.Background(), nil, DownloadOptions{
		LocalPath:   "/data/out",
		ServerPaths: []string{"18164087_test/l_layer", "18164087_test/r_layer"},
	})

	require.NoError(t, err)
	assert.Zero(t, oracle.statusCalls())
	assert.Equal(t, []string{"18164087_test/l_layer", "18164087_test/r_layer"}, inv.remotes())
	assert.Equal(t, "/data/out", inv.specs[0].LocalPath)
}

func TestDownload_TaskOutputs(t *testing.T) {
	oracle := &fakeOracle{script: []response{{statuses: statuses(
		domain.TaskStatus{ID: "T1", OutputNames: []string{"a", "b"}},
		domain.TaskStatus{ID: "T2", OutputNames: []string{"c"}},
	)}}}
	inv := &fakeInvoker{}
	d := NewDownloader(oracle, inv, nil)

	require.NoError(t, d.Download(context.Background(), []domain.TaskID{"T1", "T2"}, DownloadOptions{LocalPath: "/out"}))
	assert.Equal(t, 1, oracle.statusCalls())
	assert.Equal(t, []string{"a", "b", "c"}, inv.remotes())
}

func TestDownload_RenderLayout(t *testing.T) {
	oracle := &fakeOracle{script: []response{{statuses: statuses(domain.TaskStatus{ID: "T9"})}}}
	inv := &fakeInvoker{}
	d := NewDownloader(oracle, inv, nil)

	require.NoError(t, d.Download(context.Background(), []domain.TaskID{"T9"}, DownloadOptions{LocalPath: "/out", Layout: LayoutRender}))
	assert.Equal(t, []string{`T9\render_result`}, inv.remotes())
}

func TestDownload_StopsAtFirstFailure(t *testing.T) {
	inv := &fakeInvoker{exit: func(n int, _ domain.TransferSpec) int {
		if n == 1 {
			return 4
		}
		return 0
	}}
	d := NewDownloader(&fakeOracle{}, inv, nil)

	err := d.Download(context.Background(), nil, DownloadOptions{LocalPath: "/out", ServerPaths: []string{"x", "y"}})

	var xferErr *domain.TransferError
	require.ErrorAs(t, err, &xferErr)
	assert.Equal(t, "x", xferErr.Target)
	assert.Equal(t, 4, xferErr.ExitCode)
	assert.Equal(t, 1, inv.count())
}

func TestDownload_MissingTaskIsStatusError(t *testing.T) {
	oracle := &fakeOracle{script: []response{{statuses: statuses(domain.TaskStatus{ID: "T1"})}}}
	d := NewDownloader(oracle, &fakeInvoker{}, nil)

	err := d.Download(context.Background(), []domain.TaskID{"T1", "T2"}, DownloadOptions{LocalPath: "/out"})
	var sqe *domain.StatusQueryError
	require.ErrorAs(t, err, &sqe)
	assert.Equal(t, []domain.TaskID{"T2"}, sqe.IDs)
}

func TestDownload_StatusQueryFailure(t *testing.T) {
	oracle := &fakeOracle{script: []response{{err: errors.New("connection refused")}}}
	d := NewDownloader(oracle, &fakeInvoker{}, nil)

	err := d.Download(context.Background(), []domain.TaskID{"T1"}, DownloadOptions{LocalPath: "/out"})
	require.ErrorIs(t, err, domain.ErrStatusQuery)
}

func TestDownload_RejectsBadEngine(t *testing.T) {
	inv := &fakeInvoker{}
	d := NewDownloader(&fakeOracle{}, inv, nil)

	err := d.Download(context.Background(), nil, DownloadOptions{
		ServerPaths: []string{"x"},
		Transfer:    domain.TransferOptions{Engine: "ftp"},
	})
	require.ErrorIs(t, err, domain.ErrUnsupportedConfiguration)
	assert.Zero(t, inv.count())
}

func TestParseLayout(t *testing.T) {
	for _, s := range []string{"", "block", "render"} {
		_, err := ParseLayout(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseLayout("tiles")
	assert.ErrorIs(t, err, domain.ErrUnsupportedConfiguration)
}

func TestDefaultLocalPath(t *testing.T) {
	t.Setenv("HOME", "/home/render")
	t.Setenv("USERPROFILE", "/home/render")
	assert.Equal(t, filepath.Join("/home/render", LocalDirName), DefaultLocalPath())
}

func TestDownload_NoOracle(t *testing.T) {
	inv := &fakeInvoker{}
	d := NewDownloader(nil, inv, nil)

	require.NoError(t, d.Download(context.Background(), nil, DownloadOptions{LocalPath: "/out", ServerPaths: []string{"x"}}))

	err := d.Download(context.Background(), []domain.TaskID{"T1"}, DownloadOptions{LocalPath: "/out"})
	require.ErrorIs(t, err, domain.ErrUnsupportedConfiguration)
}
