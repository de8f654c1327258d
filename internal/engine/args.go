package engine

import (
	"strconv"
	"strings"

	"github.com/formfill/orchestrator/internal/config"
	"github.com/formfill/orchestrator/internal/domain"
)

// WorkerCommand splits the configured invocation string into the
// executable and its leading arguments. Supports multi-token commands
// like "py -3". The entry-point module, when set, is passed as -m.
func WorkerCommand(cfg config.EngineConfig) (string, []string) {
	fields := strings.Fields(cfg.Command)
	if len(fields) == 0 {
		fields = []string{"python"}
	}
	args := append([]string{}, fields[1:]...)
	if cfg.Entry != "" {
		args = append(args, "-m", cfg.Entry)
	}
	return fields[0], args
}

// SanitizeDefaultArgs tokenizes operator-supplied default arguments and
// strips --dry-run, --no-submit and --limit N tokens. Per-run flags for
// these safety-relevant options always win over global defaults; the
// stripping is deliberately asymmetric and removes only those three.
func SanitizeDefaultArgs(raw string) []string {
	fields := strings.Fields(raw)
	var out []string
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "--dry-run", "--no-submit":
			continue
		case "--limit":
			// Only strip when followed by a count, mirroring --limit N
			if i+1 < len(fields) {
				if _, err := strconv.Atoi(fields[i+1]); err == nil {
					i++
					continue
				}
			}
		}
		out = append(out, fields[i])
	}
	return out
}

// RunArgs builds the deterministic argument vector for a full run.
// Operator defaults (already sanitized) are appended last.
func RunArgs(req domain.RunCreateRequest, mergedCSV, dataYAML, resultCSV string, defaults []string) []string {
	args := []string{
		"--csv", mergedCSV,
		"--data", dataYAML,
		"--concurrency", strconv.Itoa(req.Config.Concurrency),
		"--timeout", strconv.Itoa(req.Config.TimeoutSec),
	}
	if req.Config.DryRun {
		args = append(args, "--dry-run", "--no-submit")
	}
	if req.Config.ShowBrowser {
		args = append(args, "--show-browser")
	}
	if req.Config.Captcha != "" && req.Config.Captcha != domain.CaptchaNone {
		args = append(args, "--captcha-api", string(req.Config.Captcha))
	}
	// Fixed output path so the result is always found, and JSON lines
	// so progress arrives per completed row.
	args = append(args, "--output", resultCSV, "--emit-json")
	args = append(args, defaults...)
	return args
}

// PreflightArgs builds the argument vector for a preflight check.
// Dry-run, no-submit and the sample limit are forced regardless of the
// caller's config.
func PreflightArgs(req domain.PreflightRequest, mergedCSV, dataYAML, resultCSV string, defaults []string) []string {
	limit := req.SampleCount
	if limit < 1 {
		limit = 1
	}
	args := []string{
		"--csv", mergedCSV,
		"--data", dataYAML,
		"--limit", strconv.Itoa(limit),
		"--dry-run", "--no-submit", "--emit-json",
		"--output", resultCSV,
	}
	if req.Config.ShowBrowser {
		args = append(args, "--show-browser")
	}
	if req.Config.Captcha != "" && req.Config.Captcha != domain.CaptchaNone {
		args = append(args, "--captcha-api", string(req.Config.Captcha))
	}
	if req.Config.Concurrency > 0 {
		args = append(args, "--concurrency", strconv.Itoa(req.Config.Concurrency))
	}
	if req.Config.TimeoutSec > 0 {
		args = append(args, "--timeout", strconv.Itoa(req.Config.TimeoutSec))
	}
	args = append(args, defaults...)
	return args
}
