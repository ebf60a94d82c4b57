package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayvision-network/rendersync/internal/domain"
	"github.com/rayvision-network/rendersync/internal/service"
)

// env is a RENDERSYNC_HOME with a scripted transmitter that appends its
// arguments to calls.log.
type env struct {
	home  string
	calls string
}

func newEnv(t *testing.T, exitCode int, extraConfig string) env {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script transmitter")
	}
	home := t.TempDir()
	t.Setenv("RENDERSYNC_HOME", home)

	calls := filepath.Join(home, "calls.log")
	exe := filepath.Join(home, "rayvision_transmitter")
	script := "#!/bin/sh\necho \"$@\" >> " + calls + "\nexit " + strconv.Itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(exe, []byte(script), 0o755))

	cfg := `
[transfer]
transmitter = "` + exe + `"
local_path = "` + filepath.Join(home, "out") + `"

[poll]
interval = "1ms"
grace = "1ms"

[retry]
max_attempts = 2

[logging]
file = ""
` + extraConfig
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(cfg), 0o600))
	return env{home: home, calls: calls}
}

func (e env) invocations(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(e.calls)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// farm serves one task that is done and ended.
func farm(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data any
		switch r.URL.Path {
		case "/api/render/task/status":
			data = []domain.TaskStatus{{
				ID:          "T1",
				SubStatuses: []domain.StatusCode{domain.StatusDone},
				OutputNames: []string{"T1_out"},
			}}
		case "/api/render/task/T1/end":
			data = map[string]bool{"end": true}
		default:
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "message": "success", "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// resetFlags restores every flag to its default between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	home := t.TempDir()
	t.Setenv("RENDERSYNC_HOME", home)

	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, "config.toml"))

	cfg, err := service.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, service.DefaultConfig(), cfg)

	_, err = execute(t, "config", "init")
	require.Error(t, err)
	_, err = execute(t, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigInit_FromIni(t *testing.T) {
	home := t.TempDir()
	t.Setenv("RENDERSYNC_HOME", home)
	ini := filepath.Join(home, "db_config.ini")
	require.NoError(t, os.WriteFile(ini, []byte("[DATABASE_CONFIG]\ntype = redis\ndb_path = /var/rs\n\n[REDIS]\nhost = redis.local\ntable_index = 2\n"), 0o600))

	_, err := execute(t, "config", "init", "--from-ini", ini)
	require.NoError(t, err)

	cfg, err := service.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Database.Type)
	assert.Equal(t, "/var/rs", cfg.Database.Path)
	assert.Equal(t, "redis.local", cfg.Redis.Host)
	assert.Equal(t, "2", cfg.Redis.TableIndex)
	assert.Equal(t, 6379, cfg.Redis.Port)
}

func TestConfigShow(t *testing.T) {
	e := newEnv(t, 0, "")
	out, err := execute(t, "config", "show", "--config", filepath.Join(e.home, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, out, `interval = "1ms"`)
	assert.Contains(t, out, "max_attempts = 2")
}

func TestDownload_ServerPaths(t *testing.T) {
	e := newEnv(t, 0, "")

	out, err := execute(t, "download", "--server-path", "18164087/l_layer", "--server-path", "18164087/r_layer")
	require.NoError(t, err)
	assert.Contains(t, out, "Download complete.")

	calls := e.invocations(t)
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "-T download_path")
	assert.Contains(t, calls[0], "-R 18164087/l_layer")
	assert.Contains(t, calls[1], "-R 18164087/r_layer")
	assert.Contains(t, calls[0], "-B output_bid")
}

func TestDownload_RequiresTargets(t *testing.T) {
	newEnv(t, 0, "")
	_, err := execute(t, "download")
	require.ErrorIs(t, err, domain.ErrMissingTargets)
}

func TestWatch_DownloadsAndRecordsRun(t *testing.T) {
	e := newEnv(t, 0, "\n[farm]\nendpoint = \""+farm(t)+"\"\n")

	out, err := execute(t, "watch", "T1")
	require.NoError(t, err)
	assert.Contains(t, out, "All tasks downloaded.")

	calls := e.invocations(t)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "-R T1_out")

	out, err = execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCEEDED")
	assert.Contains(t, out, "simple")
}

func TestWatch_FailedTransfer(t *testing.T) {
	e := newEnv(t, 3, "\n[farm]\nendpoint = \""+farm(t)+"\"\n")

	out, err := execute(t, "watch", "--mode", "simple", "T1")
	require.ErrorIs(t, err, domain.ErrTransferBatchFailed)
	assert.Contains(t, out, "Failed tasks: T1")
	assert.Len(t, e.invocations(t), 2)
}

func TestWatch_RequiresFarm(t *testing.T) {
	newEnv(t, 0, "")
	_, err := execute(t, "watch", "T1")
	require.ErrorIs(t, err, domain.ErrUnsupportedConfiguration)
}

func TestUpload(t *testing.T) {
	e := newEnv(t, 0, "\n[database]\non = false\n")
	dir := filepath.Join(e.home, "job")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	task := filepath.Join(dir, "task.json")
	up := filepath.Join(dir, "upload.json")
	require.NoError(t, os.WriteFile(task, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(up, []byte(`{"asset":[]}`), 0o644))

	out, err := execute(t, "upload", "T7", "--task", task, "--tips", filepath.Join(dir, "missing.json"), "--upload", up)
	require.NoError(t, err)
	assert.Contains(t, out, "Upload complete.")

	calls := e.invocations(t)
	require.Len(t, calls, 3) // task.json, upload.json, assets
	assert.Contains(t, calls[0], "-R /T7/cfg/task.json")
	assert.Contains(t, calls[2], "-T upload_json")
	assert.Contains(t, calls[2], "-B input_bid")
}

func TestUpload_PassesDBIniByDefault(t *testing.T) {
	e := newEnv(t, 0, "")
	dir := filepath.Join(e.home, "job")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	up := filepath.Join(dir, "upload.json")
	require.NoError(t, os.WriteFile(up, []byte(`{"asset":[]}`), 0o644))

	_, err := execute(t, "upload", "T7", "--asset-only", "--upload", up)
	require.NoError(t, err)

	ini := filepath.Join(e.home, "db_ini", "job.ini")
	assert.FileExists(t, ini)
	calls := e.invocations(t)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "-D "+ini)
}

func TestUpload_NoDB(t *testing.T) {
	e := newEnv(t, 0, "")
	dir := filepath.Join(e.home, "job")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	up := filepath.Join(dir, "upload.json")
	require.NoError(t, os.WriteFile(up, []byte(`{"asset":[]}`), 0o644))

	_, err := execute(t, "upload", "T7", "--asset-only", "--no-db", "--upload", up)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(e.home, "db_ini", "job.ini"))
	calls := e.invocations(t)
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0], "-D ")
}

func TestUpload_RequiresAssetList(t *testing.T) {
	newEnv(t, 0, "")
	_, err := execute(t, "upload", "T7", "--task", "task.json")
	require.ErrorIs(t, err, domain.ErrMissingTargets)
}

func TestUploadPool_Manifest(t *testing.T) {
	e := newEnv(t, 0, "\n[upload]\nrecorder = \"sqlite\"\n")
	for _, name := range []string{"a", "b"} {
		dir := filepath.Join(e.home, "jobs", name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "upload.json"), []byte("{}"), 0o644))
	}
	manifest := filepath.Join(e.home, "jobs", "batch.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("pool_size: 3\nrecord_flag: batch-7\nuploads:\n  - a/upload.json\n  - b/upload.json\n"), 0o644))

	out, err := execute(t, "upload-pool", "--manifest", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "2 uploaded, 0 failed (pool 3)")
	assert.Len(t, e.invocations(t), 2)
}

func TestUploadPool_PartialFailure(t *testing.T) {
	newEnv(t, 1, "")
	out, err := execute(t, "upload-pool", "--pool", "2", "/nowhere/a/upload.json")
	require.ErrorIs(t, err, domain.ErrTransferBatchFailed)
	assert.Contains(t, out, "0 uploaded, 1 failed (pool 2)")
}

func TestRuns_LedgerDisabled(t *testing.T) {
	newEnv(t, 0, "\n[ledger]\nenabled = false\n")
	_, err := execute(t, "runs")
	require.Error(t, err)
}
