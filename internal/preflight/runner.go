// Package preflight executes a forced dry-run of the worker against a
// small sample so operators can inspect the discovered field mapping
// before committing to a full run.
package preflight

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/formfill/orchestrator/internal/config"
	"github.com/formfill/orchestrator/internal/domain"
	"github.com/formfill/orchestrator/internal/engine"
)

// Runner launches preflight worker invocations. Unlike full runs these
// are synchronous, bounded by the caller's context and leave nothing in
// the registry.
type Runner struct {
	engine      config.EngineConfig
	defaultArgs []string
	logger      *slog.Logger
}

// NewRunner creates a Runner; operator default arguments are sanitized
// the same way the supervisor does for full runs.
func NewRunner(engineCfg config.EngineConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine:      engineCfg,
		defaultArgs: engine.SanitizeDefaultArgs(engineCfg.DefaultArgs),
		logger:      logger,
	}
}

// mappingEvent is the preflight-relevant slice of the worker's NDJSON
// stream. Full runs only need result events; preflight reads the
// mapping reports.
type mappingEvent struct {
	Event    string             `json:"event"`
	URL      string             `json:"url"`
	Mapping  []domain.MappingHit `json:"mapping"`
	Warnings []string           `json:"warnings"`
}

// Check runs the worker in dry-run mode against the sample and returns
// one result per checked URL carrying the last mapping the worker
// reported, or an empty slice when no mapping event arrived. The work
// directory is removed before returning; preflight artifacts are never
// exported.
func (r *Runner) Check(ctx context.Context, req domain.PreflightRequest, datasetPaths []string) ([]domain.PreflightResult, error) {
	if r.engine.WorkRoot != "" {
		if err := os.MkdirAll(r.engine.WorkRoot, 0755); err != nil {
			return nil, fmt.Errorf("creating work root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(r.engine.WorkRoot, "preflight-")
	if err != nil {
		return nil, fmt.Errorf("creating workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	mergedCSV := filepath.Join(dir, "urls.csv")
	if err := engine.MergeCSVs(mergedCSV, datasetPaths); err != nil {
		return nil, err
	}
	dataYAML := filepath.Join(dir, "data.yaml")
	if err := engine.WriteDefaults(dataYAML, req.RunCreateRequest); err != nil {
		return nil, err
	}

	result := domain.PreflightResult{
		URL:      firstURL(mergedCSV),
		Mapping:  []domain.MappingHit{},
		Warnings: []string{},
	}
	sawMapping := false

	bin, preArgs := engine.WorkerCommand(r.engine)
	resultCSV := filepath.Join(dir, "result.csv")
	args := append(preArgs, engine.PreflightArgs(req, mergedCSV, dataYAML, resultCSV, r.defaultArgs)...)

	cmd := exec.CommandContext(ctx, bin, args...)
	if r.engine.Workdir != "" {
		cmd.Dir = r.engine.Workdir
	}
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	r.logger.Info("preflight started", "pid", cmd.Process.Pid, "sample", req.SampleCount)

	g := new(errgroup.Group)
	g.Go(func() error {
		sawMapping = r.scanMapping(stdout, &result)
		return nil
	})
	g.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("waiting for worker: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if exitCode != 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("preflight exited with code %d", exitCode))
	}
	r.logger.Info("preflight finished", "exit_code", exitCode,
		"mapped", sawMapping, "warnings", len(result.Warnings))
	if !sawMapping {
		return []domain.PreflightResult{}, nil
	}
	return []domain.PreflightResult{result}, nil
}

// scanMapping keeps the last mapping event, reporting whether one was
// seen at all; the worker may refine its report as the page loads.
// Hits are heuristic guesses regardless of what the worker claims, so
// method and confidence are normalized to the fixed candidate values.
func (r *Runner) scanMapping(in io.Reader, result *domain.PreflightResult) bool {
	saw := false
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev mappingEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Event != "mapping" {
			continue
		}
		saw = true
		if ev.URL != "" {
			result.URL = ev.URL
		}
		if ev.Mapping != nil {
			for i := range ev.Mapping {
				ev.Mapping[i].Method = "candidate"
				ev.Mapping[i].Confidence = 0.8
			}
			result.Mapping = ev.Mapping
		}
		result.Warnings = append(result.Warnings, ev.Warnings...)
	}
	return saw
}

// firstURL returns the first data row's form_url cell, or the first
// cell when no such column exists. Best effort, an unreadable file
// yields an empty URL.
func firstURL(mergedCSV string) string {
	f, err := os.Open(mergedCSV)
	if err != nil {
		return ""
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return ""
	}
	col := 0
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "form_url") {
			col = i
			break
		}
	}
	row, err := reader.Read()
	if err != nil || col >= len(row) {
		return ""
	}
	return row[col]
}
