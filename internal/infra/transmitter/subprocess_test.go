package transmitter

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayvision-network/rendersync/internal/domain"
)

// ─── Argument Vector ────────────────────────────────────────────────────────

func TestArgs_Download(t *testing.T) {
	spec := domain.TransferSpec{
		Type:           domain.TransmitDownloadPath,
		LocalPath:      "/home/artist/renderfarm_sdk",
		RemotePaths:    []string{"18164087_test/l_layer"},
		FilenameFormat: true,
		Bid:            domain.BidOutput,
		Engine:         domain.EngineRaysync,
		ServerHost:     "transfer.example.com",
		ServerPort:     "2542",
		Network:        domain.NetworkUDP,
	}

	args, err := Args(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-E", "raysync",
		"-T", "download_path",
		"-L", "/home/artist/renderfarm_sdk",
		"-R", "18164087_test/l_layer",
		"-r", "1048576",
		"-K", "true",
		"-B", "output_bid",
		"-M", "2",
		"-H", "transfer.example.com",
		"-P", "2542",
	}, args)
}

func TestArgs_UploadWithDBAndShare(t *testing.T) {
	spec := domain.TransferSpec{
		Type:           domain.TransmitUploadJSON,
		LocalPath:      "/tmp/job/upload.json",
		RemotePaths:    []string{"/"},
		MaxSpeed:       "2048",
		Bid:            domain.BidInput,
		DBIniPath:      "/tmp/db_ini/job.ini",
		ParentUserID:   "100093",
		ParentInputBid: "10202",
	}

	args, err := Args(spec)
	require.NoError(t, err)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-E aspera")
	assert.Contains(t, joined, "-r 2048")
	assert.Contains(t, joined, "-K false")
	assert.Contains(t, joined, "-D /tmp/db_ini/job.ini")
	assert.Contains(t, joined, "-U 100093 -I 10202")
	assert.NotContains(t, joined, "-H")
}

func TestArgs_Invalid(t *testing.T) {
	base := domain.TransferSpec{
		Type:        domain.TransmitDownloadPath,
		LocalPath:   "/tmp",
		RemotePaths: []string{"1/out"},
	}

	tests := []struct {
		name   string
		mutate func(*domain.TransferSpec)
	}{
		{"engine", func(s *domain.TransferSpec) { s.Engine = "ftp" }},
		{"network", func(s *domain.TransferSpec) { s.Network = 7 }},
		{"no remote", func(s *domain.TransferSpec) { s.RemotePaths = nil }},
		{"no local", func(s *domain.TransferSpec) { s.LocalPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := base
			tt.mutate(&spec)
			_, err := Args(spec)
			require.ErrorIs(t, err, domain.ErrUnsupportedConfiguration)
		})
	}
}

func TestToValidUTF8(t *testing.T) {
	assert.Equal(t, "场景.max", toValidUTF8("场景.max"))
	assert.Equal(t, "a�b", toValidUTF8("a\xffb"))
}

// ─── Subprocess ─────────────────────────────────────────────────────────────

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "rayvision_transmitter")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testSpec() domain.TransferSpec {
	return domain.TransferSpec{
		Type:        domain.TransmitDownloadPath,
		LocalPath:   "/tmp",
		RemotePaths: []string{"1/out"},
		Bid:         domain.BidOutput,
	}
}

func TestInvoke_ExitCodes(t *testing.T) {
	ok := writeScript(t, "exit 0")
	inv, err := NewInvoker(ok, "", nil)
	require.NoError(t, err)
	code, err := inv.Invoke(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	fail := writeScript(t, "echo 'connect refused' >&2\nexit 3")
	var sb strings.Builder
	inv, err = NewInvoker(fail, "", log.New(&sb, "", 0))
	require.NoError(t, err)
	code, err = inv.Invoke(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, sb.String(), "connect refused")
}

func TestInvoke_Echo(t *testing.T) {
	script := writeScript(t, "echo progress 50%\necho progress 100%")
	var sb strings.Builder
	inv, err := NewInvoker(script, "", log.New(&sb, "", 0))
	require.NoError(t, err)
	inv.Echo = true

	code, err := inv.Invoke(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, sb.String(), "[transmitter] progress 100%")
}

func TestInvoke_Cancelled(t *testing.T) {
	script := writeScript(t, "sleep 5")
	inv, err := NewInvoker(script, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = inv.Invoke(ctx, testSpec())
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewInvoker_NotFound(t *testing.T) {
	_, err := NewInvoker(filepath.Join(t.TempDir(), "missing"), "", nil)
	require.ErrorIs(t, err, domain.ErrTransmitterNotFound)

	t.Setenv("PATH", t.TempDir())
	_, err = NewInvoker("", t.TempDir(), nil)
	require.ErrorIs(t, err, domain.ErrTransmitterNotFound)
}

func TestNewInvoker_FindsInDataHome(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix executable name")
	}
	home := t.TempDir()
	bin := filepath.Join(home, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	exe := filepath.Join(bin, "rayvision_transmitter")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	inv, err := NewInvoker("", home, nil)
	require.NoError(t, err)
	assert.Equal(t, exe, inv.Path())
}

func TestLimitedBuffer_KeepsTail(t *testing.T) {
	b := &limitedBuffer{max: 4}
	_, _ = b.Write([]byte("abcdef"))
	assert.Equal(t, "cdef", b.String())
}
