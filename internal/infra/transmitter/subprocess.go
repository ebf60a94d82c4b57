// Package transmitter runs the external transfer executable.
// This file implements the REAL invoker that spawns the transmitter as a
// subprocess for each transfer and reports its exit code.
//
// Architecture:
//
//	Orchestrator/Uploader → Invoker.Invoke(spec)
//	  → Args(spec) builds the argument vector
//	  → starts rayvision_transmitter, waits for exit
//	  → returns exit code (0 = transferred)
//
// No retry lives here; callers wrap Invoke with retry.Policy.
package transmitter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rayvision-network/rendersync/internal/domain"
)

// Invoker runs the transmitter executable.
type Invoker struct {
	path   string
	logger domain.Logger
	// Echo streams transmitter output to the logger line by line.
	Echo bool
}

// NewInvoker creates an invoker for the transmitter at path. An empty path
// searches dataHome/bin and then PATH.
func NewInvoker(path, dataHome string, logger domain.Logger) (*Invoker, error) {
	if path == "" {
		found, err := findTransmitter(dataHome)
		if err != nil {
			return nil, err
		}
		path = found
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrTransmitterNotFound, path, err)
	}
	return &Invoker{path: path, logger: logger}, nil
}

// Path returns the executable location.
func (inv *Invoker) Path() string { return inv.path }

// findTransmitter searches for the transmitter binary.
func findTransmitter(dataHome string) (string, error) {
	exe := "rayvision_transmitter"
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}

	// 1. Check dataHome/bin/
	if dataHome != "" {
		binPath := filepath.Join(dataHome, "bin", exe)
		if _, err := os.Stat(binPath); err == nil {
			return binPath, nil
		}
	}

	// 2. Check PATH
	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w: place %s in %s or in PATH, or set transfer.transmitter",
		domain.ErrTransmitterNotFound, exe, filepath.Join(dataHome, "bin"))
}

// Invoke runs one transfer and returns the transmitter's exit code.
func (inv *Invoker) Invoke(ctx context.Context, spec domain.TransferSpec) (int, error) {
	args, err := Args(spec)
	if err != nil {
		return -1, err
	}

	// Capture output in a ring buffer for diagnostics
	out := &limitedBuffer{max: 8192}

	cmd := exec.CommandContext(ctx, inv.path, args...)
	if inv.Echo && inv.logger != nil {
		w := &lineLogger{logger: inv.logger}
		cmd.Stdout = io.MultiWriter(out, w)
		cmd.Stderr = io.MultiWriter(out, w)
	} else {
		cmd.Stdout = out
		cmd.Stderr = out
	}

	// On Windows, don't show a console window
	configureProcess(cmd)

	err = cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		code := exitErr.ExitCode()
		if inv.logger != nil {
			inv.logger.Printf("[transmitter] %s %s exited %d: %s",
				spec.Type, strings.Join(spec.RemotePaths, ";"), code, tail(out.String(), 10))
		}
		return code, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return -1, fmt.Errorf("run transmitter: %w", err)
}

// Args builds the transmitter argument vector for a spec.
func Args(spec domain.TransferSpec) ([]string, error) {
	engine := spec.Engine
	if engine == "" {
		engine = domain.EngineAspera
	}
	if !engine.Valid() {
		return nil, &domain.ConfigError{Field: "engine_type", Value: string(engine)}
	}
	if !spec.Network.Valid() {
		return nil, &domain.ConfigError{Field: "network_mode", Value: fmt.Sprint(int(spec.Network))}
	}
	if spec.Type == "" || spec.LocalPath == "" || len(spec.RemotePaths) == 0 {
		return nil, &domain.ConfigError{Field: "transfer_spec", Value: fmt.Sprintf("%s %q %v", spec.Type, spec.LocalPath, spec.RemotePaths)}
	}

	args := []string{
		"-E", string(engine),
		"-T", string(spec.Type),
		"-L", toValidUTF8(spec.LocalPath),
		"-R", toValidUTF8(strings.Join(spec.RemotePaths, ";")),
		"-r", spec.Speed(),
		"-K", spec.FormatFlag(),
		"-B", string(spec.Bid),
		"-M", fmt.Sprintf("%d", spec.Network),
	}
	if spec.ServerHost != "" {
		args = append(args, "-H", spec.ServerHost)
	}
	if spec.ServerPort != "" {
		args = append(args, "-P", spec.ServerPort)
	}
	if spec.DBIniPath != "" {
		args = append(args, "-D", spec.DBIniPath)
	}
	if spec.ParentUserID != "" && spec.ParentInputBid != "" {
		args = append(args, "-U", spec.ParentUserID, "-I", spec.ParentInputBid)
	}
	return args, nil
}

// toValidUTF8 replaces undecodable bytes so the argument survives the
// transmitter's UTF-8 parsing.
func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// limitedBuffer is a thread-safe buffer that keeps only the last N bytes.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > b.max {
		data := b.buf.Bytes()
		keep := append([]byte(nil), data[len(data)-b.max:]...)
		b.buf.Reset()
		b.buf.Write(keep)
	}
	return n, err
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// lineLogger forwards complete lines to a logger.
type lineLogger struct {
	mu     sync.Mutex
	logger domain.Logger
	rest   []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rest = append(l.rest, p...)
	for {
		i := bytes.IndexByte(l.rest, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(l.rest[:i]), "\r")
		if line != "" {
			l.logger.Printf("[transmitter] %s", line)
		}
		l.rest = l.rest[i+1:]
	}
	return len(p), nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
