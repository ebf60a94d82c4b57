package orchestrator

import (
	"fmt"
	"slices"

	"github.com/rayvision-network/rendersync/internal/domain"
)

// Mode selects how the orchestrator decides a task is ready to transfer.
type Mode string

const (
	// ModeSimple downloads a task once the farm reports it ended.
	ModeSimple Mode = "simple"
	// ModeBlock downloads a task as soon as one subtask is done.
	ModeBlock Mode = "block"
	// ModeRebuild waits for a stable terminal status distribution on
	// rebuild tasks before downloading.
	ModeRebuild Mode = "rebuild"
	// ModeAuto downloads every cycle and drops the task once it ended.
	ModeAuto Mode = "auto"
)

// Modes lists the supported modes.
var Modes = []Mode{ModeSimple, ModeBlock, ModeRebuild, ModeAuto}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := rules[m]; !ok {
		return "", &domain.ConfigError{Field: "mode", Value: s}
	}
	return m, nil
}

func (m Mode) String() string { return string(m) }

// ─── Decision Table ─────────────────────────────────────────────────────────

// rule is one row of the decision table.
type rule struct {
	complete       func(st domain.TaskStatus, ended bool) bool
	needsEnd       bool // query IsTaskEnd before classifying
	grace          bool // sleep GracePeriod before transferring
	retry          bool // wrap the transfer in the retry policy
	keepUntilEnded bool // a task leaves the set only once it ended
	failIfEnded    bool // a failed transfer is terminal only once ended
}

var rules = map[Mode]rule{
	ModeSimple: {
		complete: func(_ domain.TaskStatus, ended bool) bool { return ended },
		needsEnd: true,
		grace:    true,
		retry:    true,
	},
	ModeBlock: {
		complete:    func(st domain.TaskStatus, _ bool) bool { return st.HasStatus(domain.StatusDone) },
		failIfEnded: true,
	},
	ModeRebuild: {
		complete: func(st domain.TaskStatus, _ bool) bool { return RebuildComplete(st) },
		grace:    true,
		retry:    true,
	},
	ModeAuto: {
		complete:       func(domain.TaskStatus, bool) bool { return true },
		needsEnd:       true,
		keepUntilEnded: true,
	},
}

func (m Mode) rule() rule {
	r, ok := rules[m]
	if !ok {
		panic(fmt.Sprintf("orchestrator: unknown mode %q", string(m)))
	}
	return r
}

// Classify returns the state of a task under the mode. ended is the farm's
// "is task end" answer; modes that do not consult it ignore it. An illegal
// subtask wins in every mode.
func (m Mode) Classify(st domain.TaskStatus, ended bool) domain.TaskState {
	r := m.rule()
	if st.HasStatus(domain.StatusIllegal) {
		return domain.TaskIllegal
	}
	if r.complete(st, ended) {
		return domain.TaskPolicyComplete
	}
	if partiallyDone(st) {
		return domain.TaskPartiallyDone
	}
	return domain.TaskPending
}

// partiallyDone reports whether some but not all subtasks are done.
func partiallyDone(st domain.TaskStatus) bool {
	done := 0
	for _, c := range st.SubStatuses {
		if c == domain.StatusDone {
			done++
		}
	}
	return done > 0 && done < len(st.SubStatuses)
}

// RebuildComplete is the rebuild-aware predicate. Rebuild tasks re-render
// subtasks that were already done, so a single done subtask says nothing.
// The task is complete when every subtask shares one code, or the codes are
// exactly {done, done with failures}, and more than two render types are
// recorded with Rebuild among them.
func RebuildComplete(st domain.TaskStatus) bool {
	codes := st.DistinctStatuses()
	stable := len(codes) == 1 ||
		slices.Equal(codes, []domain.StatusCode{domain.StatusDone, domain.StatusDoneWithFailures})
	if !stable {
		return false
	}
	return st.CountRenderType(domain.RenderRebuild) > 0 && len(st.RenderTypes) > 2
}
