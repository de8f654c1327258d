package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/formfill/orchestrator/internal/domain"
)

// runState is the live record for one run. The supervisor goroutine
// that launched the worker is the only writer; pollers read through
// deep-copy snapshots so they never see a torn update.
type runState struct {
	id string

	mu        sync.RWMutex
	detail    domain.RunDetail
	workDir   string
	mergedCSV string
	dataYAML  string
	resultCSV string // set at finalize when the worker produced output
	stderr    []string
	cleaned   bool // workdir removed by the reaper
}

func newRunState(id, workDir, mergedCSV, dataYAML string, total int) *runState {
	return &runState{
		id:        id,
		workDir:   workDir,
		mergedCSV: mergedCSV,
		dataYAML:  dataYAML,
		detail: domain.RunDetail{
			Run: domain.Run{
				ID:         id,
				Status:     domain.RunQueued,
				Total:      total,
				InProgress: total,
				StartedAt:  time.Now(),
			},
			Tasks: []domain.TaskRow{},
		},
	}
}

// snapshot returns a copy of the run summary (task list stripped)
func (st *runState) snapshot() domain.Run {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.detail.Run
}

// snapshotDetail returns a copy of the run including task rows
func (st *runState) snapshotDetail() domain.RunDetail {
	st.mu.RLock()
	defer st.mu.RUnlock()
	detail := st.detail
	detail.Tasks = make([]domain.TaskRow, len(st.detail.Tasks))
	copy(detail.Tasks, st.detail.Tasks)
	return detail
}

// applyResult folds one worker result event into the counters and task
// list. InProgress is floored at 0 so a chatty worker cannot drive the
// run negative.
func (st *runState) applyResult(url string, ok bool, note string, durationMs *int64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	status := domain.TaskSuccess
	if ok {
		st.detail.Success++
	} else {
		st.detail.Failed++
		status = domain.TaskFailed
	}
	if st.detail.InProgress > 0 {
		st.detail.InProgress--
	}
	st.detail.Tasks = append(st.detail.Tasks, domain.TaskRow{
		URL:        url,
		Status:     status,
		DurationMs: durationMs,
		Error:      note,
	})
}

// Registry is the process-wide map from run id to run state. Runs live
// for the lifetime of the process only; there is no deletion API and no
// persistence, callers export results before a restart.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*runState
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*runState)}
}

func (r *Registry) add(st *runState) {
	r.mu.Lock()
	r.runs[st.id] = st
	r.mu.Unlock()
}

func (r *Registry) state(id string) *runState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs[id]
}

func (r *Registry) states() []*runState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*runState, 0, len(r.runs))
	for _, st := range r.runs {
		out = append(out, st)
	}
	return out
}

// Get returns a snapshot of the run summary
func (r *Registry) Get(id string) (domain.Run, bool) {
	st := r.state(id)
	if st == nil {
		return domain.Run{}, false
	}
	return st.snapshot(), true
}

// GetDetail returns a snapshot of the run including its task rows
func (r *Registry) GetDetail(id string) (domain.RunDetail, bool) {
	st := r.state(id)
	if st == nil {
		return domain.RunDetail{}, false
	}
	return st.snapshotDetail(), true
}

// ResultPath returns the finalized result CSV path for a run. The
// second return is false for unknown ids; an empty path means the run
// has not produced a result (yet, or at all).
func (r *Registry) ResultPath(id string) (string, bool) {
	st := r.state(id)
	if st == nil {
		return "", false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.resultCSV, true
}

// List returns snapshots of all runs, most recently started first
func (r *Registry) List() []domain.Run {
	states := r.states()
	runs := make([]domain.Run, 0, len(states))
	for _, st := range states {
		runs = append(runs, st.snapshot())
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// RunningCount returns the number of runs with a live worker
func (r *Registry) RunningCount() int {
	count := 0
	for _, st := range r.states() {
		if st.snapshot().Status == domain.RunRunning {
			count++
		}
	}
	return count
}
