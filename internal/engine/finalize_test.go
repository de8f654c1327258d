package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/formfill/orchestrator/internal/domain"
)

func TestSummarizeResultCSV(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantSuccess int
		wantFailed  int
	}{
		{
			name:        "plain statuses",
			content:     "url,status\na,success\nb,failed\nc,success\n",
			wantSuccess: 2,
			wantFailed:  1,
		},
		{
			name:        "substring match",
			content:     "url,status\na,submit_success\nb,failure (timeout)\n",
			wantSuccess: 1,
			wantFailed:  1,
		},
		{
			name:        "unrecognized not counted",
			content:     "url,status\na,skipped\nb,success\n",
			wantSuccess: 1,
			wantFailed:  0,
		},
		{
			name:        "status column by header not position",
			content:     "status_detail,status,url\nnote,success,a\n",
			wantSuccess: 1,
			wantFailed:  0,
		},
		{
			name:        "no status column",
			content:     "url,result\na,success\n",
			wantSuccess: 0,
			wantFailed:  0,
		},
		{
			name:        "ragged rows skipped",
			content:     "url,detail,status\na\nb,x,failed\n",
			wantSuccess: 0,
			wantFailed:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "result.csv")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			success, failed, err := summarizeResultCSV(path)
			if err != nil {
				t.Fatal(err)
			}
			if success != tt.wantSuccess || failed != tt.wantFailed {
				t.Errorf("summarize = (%d, %d), want (%d, %d)",
					success, failed, tt.wantSuccess, tt.wantFailed)
			}
		})
	}
}

func TestFinalize_ResultFileOverridesStream(t *testing.T) {
	s := newTestSupervisor()
	dir := t.TempDir()
	st := newRunState("run1", dir, "", "", 4)
	s.registry.add(st)

	// Stream saw 2/2 but the authoritative file says 3/1
	st.applyResult("a", true, "", nil)
	st.applyResult("b", true, "", nil)
	st.applyResult("c", false, "", nil)
	st.applyResult("d", false, "", nil)

	content := "url,status\na,success\nb,success\nc,success\nd,failed\n"
	if err := os.WriteFile(filepath.Join(dir, "result.csv"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	s.finalize(st, 0)

	run := st.snapshot()
	if run.Success != 3 || run.Failed != 1 {
		t.Errorf("Counters = (%d, %d), want (3, 1)", run.Success, run.Failed)
	}
	if run.Status != domain.RunDone {
		t.Errorf("Status = %s, want done", run.Status)
	}
	if run.InProgress != 0 {
		t.Errorf("InProgress = %d, want 0", run.InProgress)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}

	path, ok := s.registry.ResultPath("run1")
	if !ok || path == "" {
		t.Errorf("ResultPath = (%q, %v), want recorded path", path, ok)
	}
}

func TestFinalize_MissingFileCleanExit(t *testing.T) {
	s := newTestSupervisor()
	st := newRunState("run1", t.TempDir(), "", "", 5)
	s.registry.add(st)

	s.finalize(st, 0)

	run := st.snapshot()
	if run.Success != 5 || run.Failed != 0 {
		t.Errorf("Counters = (%d, %d), want (5, 0)", run.Success, run.Failed)
	}
	if run.Status != domain.RunDone {
		t.Errorf("Status = %s, want done", run.Status)
	}
	if path, _ := s.registry.ResultPath("run1"); path != "" {
		t.Errorf("ResultPath should be empty without a result file, got %q", path)
	}
}

func TestFinalize_MissingFileNonZeroExit(t *testing.T) {
	s := newTestSupervisor()
	st := newRunState("run1", t.TempDir(), "", "", 5)
	s.registry.add(st)

	s.finalize(st, 3)

	run := st.snapshot()
	if run.Success != 0 || run.Failed != 5 {
		t.Errorf("Counters = (%d, %d), want (0, 5)", run.Success, run.Failed)
	}
	if run.Status != domain.RunFailed {
		t.Errorf("Status = %s, want failed", run.Status)
	}
	if run.LastError != "worker exited with code 3" {
		t.Errorf("LastError = %q", run.LastError)
	}
}

func TestFinalize_ResultFileWithNonZeroExit(t *testing.T) {
	s := newTestSupervisor()
	dir := t.TempDir()
	st := newRunState("run1", dir, "", "", 2)
	s.registry.add(st)

	content := "url,status\na,success\nb,failed\n"
	if err := os.WriteFile(filepath.Join(dir, "result.csv"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	s.finalize(st, 1)

	run := st.snapshot()
	if run.Success != 1 || run.Failed != 1 {
		t.Errorf("Counters = (%d, %d), want (1, 1)", run.Success, run.Failed)
	}
	if run.Status != domain.RunFailed {
		t.Errorf("Status = %s, want failed despite result file", run.Status)
	}
}
