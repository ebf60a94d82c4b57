package orchestrator

import (
	"context"
	"sync"

	"github.com/rayvision-network/rendersync/internal/domain"
)

// ─── Fake Oracle ────────────────────────────────────────────────────────────

// response is the scripted answer to one TaskStatus call.
type response struct {
	statuses map[domain.TaskID]domain.TaskStatus
	err      error
}

// fakeOracle answers TaskStatus from a script, one entry per call; the last
// entry repeats. A task is ended once the number of TaskStatus calls reaches
// endFrom[id].
type fakeOracle struct {
	mu      sync.Mutex
	script  []response
	endFrom map[domain.TaskID]int
	calls   int
	queried [][]domain.TaskID
}

func (f *fakeOracle) TaskStatus(ctx context.Context, ids []domain.TaskID) (map[domain.TaskID]domain.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls++
	f.queried = append(f.queried, append([]domain.TaskID(nil), ids...))
	r := f.script[min(f.calls, len(f.script))-1]
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[domain.TaskID]domain.TaskStatus, len(ids))
	for _, id := range ids {
		if st, ok := r.statuses[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (f *fakeOracle) IsTaskEnd(ctx context.Context, id domain.TaskID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	from, ok := f.endFrom[id]
	return ok && f.calls >= from, nil
}

func (f *fakeOracle) statusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// status builds a TaskStatus with one output file per task.
func status(id domain.TaskID, codes ...domain.StatusCode) domain.TaskStatus {
	types := make([]domain.RenderType, len(codes))
	for i := range types {
		types[i] = domain.RenderNormal
	}
	return domain.TaskStatus{
		ID:          id,
		SubStatuses: codes,
		RenderTypes: types,
		OutputNames: []string{string(id) + "_output"},
	}
}

func statuses(sts ...domain.TaskStatus) map[domain.TaskID]domain.TaskStatus {
	m := make(map[domain.TaskID]domain.TaskStatus, len(sts))
	for _, st := range sts {
		m[st.ID] = st
	}
	return m
}

// ─── Fake Invoker ───────────────────────────────────────────────────────────

// fakeInvoker records every spec. exit decides the exit code of the nth
// call (1-based); nil means success.
type fakeInvoker struct {
	mu    sync.Mutex
	specs []domain.TransferSpec
	exit  func(n int, spec domain.TransferSpec) int
	err   error
}

func (f *fakeInvoker) Invoke(_ context.Context, spec domain.TransferSpec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return -1, f.err
	}
	if f.exit == nil {
		return 0, nil
	}
	return f.exit(len(f.specs), spec), nil
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

func (f *fakeInvoker) remotes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.specs {
		out = append(out, s.RemotePaths...)
	}
	return out
}

func alwaysFail(int, domain.TransferSpec) int { return 1 }

// ─── Fake Recorder ──────────────────────────────────────────────────────────

type fakeRecorder struct {
	mu        sync.Mutex
	runs      []domain.RunRecord
	finished  []domain.RunStatus
	transfers []domain.TransferRecord
	failures  []domain.TaskFailure
}

func (r *fakeRecorder) StartRun(run domain.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRecorder) FinishRun(_ string, status domain.RunStatus, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, status)
	return nil
}

func (r *fakeRecorder) InsertTransfer(rec domain.TransferRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, rec)
	return nil
}

func (r *fakeRecorder) InsertFailure(_ string, f domain.TaskFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return nil
}

// testConfig returns a config that never sleeps.
func testConfig(mode Mode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.PollInterval = 0
	cfg.GracePeriod = 0
	cfg.LocalPath = "/tmp/renderfarm_sdk"
	return cfg
}
