package engine

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/formfill/orchestrator/internal/config"
	"github.com/formfill/orchestrator/internal/domain"
)

// fakeWorker writes a shell script standing in for the worker process
// and returns an engine config invoking it.
func fakeWorker(t *testing.T, script string) config.EngineConfig {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell worker scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "worker.sh")
	header := `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done
`
	if err := os.WriteFile(path, []byte(header+script), 0755); err != nil {
		t.Fatal(err)
	}
	return config.EngineConfig{
		Command:  "/bin/sh " + path,
		WorkRoot: t.TempDir(),
	}
}

func datasetFixture(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	a := writeFile(t, dir, "a.csv", "company,form_url\nAcme,https://acme.example/contact\n")
	b := writeFile(t, dir, "b.csv", "company,form_url\nGlobex,https://globex.example/form\n")
	return []string{a, b}
}

func waitTerminal(t *testing.T, reg *Registry, id string) domain.Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := reg.Get(id)
		if !ok {
			t.Fatalf("run %s vanished from registry", id)
		}
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal state", id)
	return domain.Run{}
}

func TestSupervisor_SuccessfulRun(t *testing.T) {
	cfg := fakeWorker(t, `
echo '{"event":"result","url":"https://acme.example/contact","status":"ok"}'
echo '{"event":"result","url":"https://globex.example/form","status":"ng","note":"no form"}'
printf 'url,status\nhttps://acme.example/contact,success\nhttps://globex.example/form,failed\n' > "$out"
exit 0
`)

	var mu sync.Mutex
	var updates []domain.RunStatus
	s := NewSupervisor(cfg, NewRegistry(), Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnUpdate: func(run domain.Run) {
			mu.Lock()
			updates = append(updates, run.Status)
			mu.Unlock()
		},
	})

	req := sampleRequest()
	run, err := s.StartRun(req, datasetFixture(t))
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != domain.RunQueued {
		t.Errorf("Initial status = %s, want queued", run.Status)
	}
	if run.Total != 2 {
		t.Errorf("Total = %d, want 2", run.Total)
	}

	final := waitTerminal(t, s.Registry(), run.ID)
	if final.Status != domain.RunDone {
		t.Errorf("Final status = %s, want done (lastError %q)", final.Status, final.LastError)
	}
	if final.Success != 1 || final.Failed != 1 || final.InProgress != 0 {
		t.Errorf("Counters = (%d, %d, %d), want (1, 1, 0)",
			final.Success, final.Failed, final.InProgress)
	}

	path, ok := s.Registry().ResultPath(run.ID)
	if !ok || path == "" {
		t.Fatalf("ResultPath = (%q, %v)", path, ok)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Result file missing: %v", err)
	}

	detail, _ := s.Registry().GetDetail(run.ID)
	if len(detail.Tasks) != 2 {
		t.Errorf("Expected 2 task rows from the stream, got %d", len(detail.Tasks))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Fatal("No updates emitted")
	}
	if updates[0] != domain.RunQueued {
		t.Errorf("First update = %s, want queued", updates[0])
	}
	if updates[len(updates)-1] != domain.RunDone {
		t.Errorf("Last update = %s, want done", updates[len(updates)-1])
	}
}

func TestSupervisor_WorkerFailureWithoutResultFile(t *testing.T) {
	cfg := fakeWorker(t, `
echo '{"event":"result","url":"https://acme.example/contact","status":"ok"}'
exit 3
`)
	s := NewSupervisor(cfg, NewRegistry(), Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	run, err := s.StartRun(sampleRequest(), datasetFixture(t))
	if err != nil {
		t.Fatal(err)
	}

	final := waitTerminal(t, s.Registry(), run.ID)
	if final.Status != domain.RunFailed {
		t.Errorf("Final status = %s, want failed", final.Status)
	}
	if final.Success != 0 || final.Failed != 2 {
		t.Errorf("Counters = (%d, %d), want (0, 2) from exit-code fallback",
			final.Success, final.Failed)
	}
	if final.LastError != "worker exited with code 3" {
		t.Errorf("LastError = %q", final.LastError)
	}
	if path, _ := s.Registry().ResultPath(run.ID); path != "" {
		t.Errorf("ResultPath should be empty, got %q", path)
	}
}

func TestSupervisor_MissingBinaryFailsRun(t *testing.T) {
	cfg := config.EngineConfig{
		Command:  filepath.Join(t.TempDir(), "does-not-exist"),
		WorkRoot: t.TempDir(),
	}
	s := NewSupervisor(cfg, NewRegistry(), Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	run, err := s.StartRun(sampleRequest(), datasetFixture(t))
	if err != nil {
		t.Fatal(err)
	}

	final := waitTerminal(t, s.Registry(), run.ID)
	if final.Status != domain.RunFailed {
		t.Errorf("Final status = %s, want failed", final.Status)
	}
	if final.LastError == "" {
		t.Error("LastError should describe the launch failure")
	}
	if final.InProgress != 0 {
		t.Errorf("InProgress = %d, want 0", final.InProgress)
	}
}

func TestSupervisor_WorkdirArtifacts(t *testing.T) {
	cfg := fakeWorker(t, `exit 0`)
	s := NewSupervisor(cfg, NewRegistry(), Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	run, err := s.StartRun(sampleRequest(), datasetFixture(t))
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, s.Registry(), run.ID)

	st := s.Registry().state(run.ID)
	if st == nil {
		t.Fatal("state missing")
	}
	for _, p := range []string{st.mergedCSV, st.dataYAML} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Artifact %s missing: %v", p, err)
		}
	}
	if filepath.Dir(st.mergedCSV) != st.workDir {
		t.Errorf("Merged CSV outside workdir: %s", st.mergedCSV)
	}
}

func TestReaper_SweepRemovesOldTerminalRuns(t *testing.T) {
	reg := NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	oldDir := t.TempDir()
	writeFile(t, oldDir, "result.csv", "url,status\n")
	finished := time.Now().Add(-2 * time.Hour)
	old := newRunState("old", oldDir, "", "", 1)
	old.detail.Status = domain.RunDone
	old.detail.FinishedAt = &finished
	old.resultCSV = filepath.Join(oldDir, "result.csv")
	reg.add(old)

	freshDir := t.TempDir()
	now := time.Now()
	fresh := newRunState("fresh", freshDir, "", "", 1)
	fresh.detail.Status = domain.RunDone
	fresh.detail.FinishedAt = &now
	reg.add(fresh)

	active := newRunState("active", t.TempDir(), "", "", 1)
	active.detail.Status = domain.RunRunning
	reg.add(active)

	reaper, err := NewReaper(reg, "*/30 * * * *", time.Hour, logger)
	if err != nil {
		t.Fatal(err)
	}
	reaper.Sweep()

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Errorf("Old workdir should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Errorf("Fresh workdir should survive: %v", err)
	}
	if path, _ := reg.ResultPath("old"); path != "" {
		t.Errorf("Reaped run should lose its result path, got %q", path)
	}
	if run, _ := reg.Get("old"); run.Success != 0 && run.Status != domain.RunDone {
		t.Errorf("Run metadata should survive reaping: %+v", run)
	}

	// Second sweep is a no-op on the already cleaned run
	reaper.Sweep()
}
