package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/formfill/orchestrator/internal/config"
	"github.com/formfill/orchestrator/internal/domain"
	"github.com/formfill/orchestrator/internal/notify"
)

// Recorder persists run lifecycle updates for the audit trail
type Recorder interface {
	RecordCreate(run domain.Run)
	RecordUpdate(run domain.Run)
}

// Options configures optional supervisor collaborators
type Options struct {
	Recorder Recorder         // nil disables history
	Notifier notify.Notifier  // nil disables notifications
	OnUpdate func(domain.Run) // called after every visible state change
	Logger   *slog.Logger
}

// Supervisor owns the lifecycle of worker invocations: it prepares the
// per-run working directory, launches the worker, feeds progress into
// the registry and finalizes the run when the process exits.
type Supervisor struct {
	engine      config.EngineConfig
	registry    *Registry
	defaultArgs []string
	recorder    Recorder
	notifier    notify.Notifier
	onUpdate    func(domain.Run)
	logger      *slog.Logger
}

// NewSupervisor creates a Supervisor. Operator default arguments are
// sanitized once here.
func NewSupervisor(engine config.EngineConfig, registry *Registry, opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		engine:      engine,
		registry:    registry,
		defaultArgs: SanitizeDefaultArgs(engine.DefaultArgs),
		recorder:    opts.Recorder,
		notifier:    opts.Notifier,
		onUpdate:    opts.OnUpdate,
		logger:      logger,
	}
}

// Registry returns the registry this supervisor writes into
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// StartRun merges the resolved dataset files, writes the defaults
// document and registers a queued run, then launches the worker in the
// background. It returns the initial snapshot without waiting for the
// worker; errors before registration surface to the caller and no run
// is leaked into the registry.
func (s *Supervisor) StartRun(req domain.RunCreateRequest, datasetPaths []string) (domain.Run, error) {
	id := uuid.New().String()

	workRoot := s.engine.WorkRoot
	if workRoot != "" {
		if err := os.MkdirAll(workRoot, 0755); err != nil {
			return domain.Run{}, fmt.Errorf("creating work root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(workRoot, "formfill-"+id+"-")
	if err != nil {
		return domain.Run{}, fmt.Errorf("creating workdir: %w", err)
	}

	mergedCSV := filepath.Join(dir, "urls.csv")
	if err := MergeCSVs(mergedCSV, datasetPaths); err != nil {
		return domain.Run{}, err
	}

	dataYAML := filepath.Join(dir, "data.yaml")
	if err := WriteDefaults(dataYAML, req); err != nil {
		return domain.Run{}, err
	}

	total, err := CountDataLines(mergedCSV)
	if err != nil {
		return domain.Run{}, err
	}

	st := newRunState(id, dir, mergedCSV, dataYAML, total)
	s.registry.add(st)

	run := st.snapshot()
	if s.recorder != nil {
		s.recorder.RecordCreate(run)
	}
	s.emit(run)
	s.logger.Info("run created", "run_id", id, "total", total, "datasets", len(datasetPaths))

	go s.launch(st, req)

	return run, nil
}

// launch drives the worker to completion. Errors past this point never
// reach a caller; they are recorded on the run so pollers see a
// terminal failed state instead of a hang.
func (s *Supervisor) launch(st *runState, req domain.RunCreateRequest) {
	if err := s.runWorker(st, req); err != nil {
		now := time.Now()
		st.mu.Lock()
		st.detail.Status = domain.RunFailed
		st.detail.LastError = err.Error()
		st.detail.InProgress = 0
		st.detail.FinishedAt = &now
		st.mu.Unlock()
		s.logger.Error("run failed", "run_id", st.id, "error", err)
	}
	s.finish(st)
}

func (s *Supervisor) runWorker(st *runState, req domain.RunCreateRequest) error {
	st.mu.Lock()
	st.detail.Status = domain.RunRunning
	st.mu.Unlock()
	run := st.snapshot()
	if s.recorder != nil {
		s.recorder.RecordUpdate(run)
	}
	s.emit(run)

	bin, preArgs := WorkerCommand(s.engine)
	resultCSV := filepath.Join(st.workDir, "result.csv")
	args := append(preArgs, RunArgs(req, st.mergedCSV, st.dataYAML, resultCSV, s.defaultArgs)...)

	cmd := exec.Command(bin, args...)
	if s.engine.Workdir != "" {
		cmd.Dir = s.engine.Workdir
	}
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	s.logger.Info("worker started", "run_id", st.id, "pid", cmd.Process.Pid, "command", bin)

	g := new(errgroup.Group)
	g.Go(func() error {
		s.consumeStdout(st, stdout)
		return nil
	})
	g.Go(func() error {
		s.collectStderr(st, stderr)
		return nil
	})
	g.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("waiting for worker: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}
	s.logger.Info("worker exited", "run_id", st.id, "exit_code", exitCode)

	s.finalize(st, exitCode)
	return nil
}

// finish publishes the current state and, on terminal states, records
// and notifies.
func (s *Supervisor) finish(st *runState) {
	run := st.snapshot()
	if s.recorder != nil {
		s.recorder.RecordUpdate(run)
	}
	s.emit(run)

	if !run.Status.Terminal() || s.notifier == nil {
		return
	}
	n := notify.Notification{
		Title:   "Run finished",
		Message: fmt.Sprintf("%d succeeded, %d failed of %d", run.Success, run.Failed, run.Total),
		Type:    notify.NotifySuccess,
		RunID:   run.ID,
	}
	if run.Status == domain.RunFailed {
		n.Title = "Run failed"
		n.Type = notify.NotifyError
		if run.LastError != "" {
			n.Message = run.LastError
		}
	}
	if err := s.notifier.Send(n); err != nil {
		s.logger.Warn("notification failed", "run_id", run.ID, "error", err)
	}
}

func (s *Supervisor) emit(run domain.Run) {
	if s.onUpdate != nil {
		s.onUpdate(run)
	}
}
