package engine

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/formfill/orchestrator/internal/domain"
)

// finalize reconciles the run's counters with the worker's result file
// and moves the run to its terminal state. The result CSV is the
// authoritative record: when present and readable its tallies replace
// whatever the progress stream accumulated. Without it, the exit code
// decides and every row is attributed to one side.
func (s *Supervisor) finalize(st *runState, exitCode int) {
	resultCSV := filepath.Join(st.workDir, "result.csv")

	success, failed, err := summarizeResultCSV(resultCSV)
	fromFile := err == nil
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("result file unreadable", "run_id", st.id, "error", err)
	}

	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()

	if fromFile {
		st.detail.Success = success
		st.detail.Failed = failed
		st.resultCSV = resultCSV
	} else if exitCode == 0 {
		st.detail.Success = st.detail.Total
		st.detail.Failed = 0
	} else {
		st.detail.Success = 0
		st.detail.Failed = st.detail.Total
	}

	st.detail.InProgress = 0
	st.detail.FinishedAt = &now
	if exitCode == 0 {
		st.detail.Status = domain.RunDone
	} else {
		st.detail.Status = domain.RunFailed
		st.detail.LastError = fmt.Sprintf("worker exited with code %d", exitCode)
	}
}

// summarizeResultCSV tallies the status column of a worker result file.
// A cell containing "success" counts as success, one containing "fail"
// as failure; anything else is not counted. Rows shorter than the
// status column are skipped.
func summarizeResultCSV(path string) (success, failed int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return 0, 0, err
	}
	if len(records) < 1 {
		return 0, 0, nil
	}

	statusCol := -1
	for i, name := range records[0] {
		if strings.EqualFold(strings.TrimSpace(name), "status") {
			statusCol = i
			break
		}
	}
	if statusCol < 0 {
		return 0, 0, nil
	}

	for _, row := range records[1:] {
		if statusCol >= len(row) {
			continue
		}
		cell := strings.ToLower(row[statusCol])
		switch {
		case strings.Contains(cell, "success"):
			success++
		case strings.Contains(cell, "fail"):
			failed++
		}
	}
	return success, failed, nil
}
