package engine

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

const (
	scanBufInitial = 64 * 1024
	scanBufMax     = 1024 * 1024
)

// workerEvent is one line of the worker's NDJSON progress stream. Only
// the fields the orchestrator acts on are decoded; everything else on
// the line is ignored.
type workerEvent struct {
	Event      string `json:"event"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	Note       string `json:"note"`
	DurationMs *int64 `json:"duration_ms"`
}

// consumeStdout reads the worker's stdout line by line until EOF.
// Unparseable lines are dropped without affecting counters; workers are
// free to print debug noise between events.
func (s *Supervisor) consumeStdout(st *runState, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanBufInitial), scanBufMax)
	for scanner.Scan() {
		s.handleLine(st, scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("stdout stream error", "run_id", st.id, "error", err)
	}
}

func (s *Supervisor) handleLine(st *runState, line []byte) {
	var ev workerEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return
	}
	switch ev.Event {
	case "result":
		bucket, known := NormalizeStatus(ev.Status)
		if !known {
			s.logger.Debug("unknown result status counted as success",
				"run_id", st.id, "status", ev.Status, "url", ev.URL)
		}
		st.applyResult(ev.URL, bucket == "ok", ev.Note, ev.DurationMs)
		s.emit(st.snapshot())
	case "mapping":
		// Informational during full runs; preflight extracts these
		s.logger.Debug("mapping event", "run_id", st.id, "url", ev.URL)
	}
}

// NormalizeStatus folds a worker-reported status into the ok/ng
// buckets. Matching is case-insensitive and trims whitespace. Statuses
// outside both sets count as ok so an evolving worker vocabulary never
// stalls a run; the second return reports whether the status was
// recognized.
func NormalizeStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ok", "success", "done", "dry_run", "dryrun", "dry-run":
		return "ok", true
	case "ng", "fail", "failed", "error", "timeout":
		return "ng", true
	default:
		return "ok", false
	}
}

// collectStderr buffers the worker's stderr for diagnostics. It is
// never parsed, only kept for the failure log.
func (s *Supervisor) collectStderr(st *runState, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanBufInitial), scanBufMax)
	for scanner.Scan() {
		line := scanner.Text()
		st.mu.Lock()
		st.stderr = append(st.stderr, line)
		st.mu.Unlock()
		s.logger.Debug("worker stderr", "run_id", st.id, "line", line)
	}
}
