package engine

import (
	"reflect"
	"testing"

	"github.com/formfill/orchestrator/internal/config"
	"github.com/formfill/orchestrator/internal/domain"
)

func TestWorkerCommand(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.EngineConfig
		wantBin  string
		wantArgs []string
	}{
		{
			name:     "simple command with entry",
			cfg:      config.EngineConfig{Command: "python", Entry: "form_filler.cli"},
			wantBin:  "python",
			wantArgs: []string{"-m", "form_filler.cli"},
		},
		{
			name:     "multi token command",
			cfg:      config.EngineConfig{Command: "py -3", Entry: "form_filler.cli"},
			wantBin:  "py",
			wantArgs: []string{"-3", "-m", "form_filler.cli"},
		},
		{
			name:     "no entry",
			cfg:      config.EngineConfig{Command: "/usr/local/bin/filler"},
			wantBin:  "/usr/local/bin/filler",
			wantArgs: []string{},
		},
		{
			name:     "empty falls back to python",
			cfg:      config.EngineConfig{Command: "", Entry: "form_filler.cli"},
			wantBin:  "python",
			wantArgs: []string{"-m", "form_filler.cli"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin, args := WorkerCommand(tt.cfg)
			if bin != tt.wantBin {
				t.Errorf("bin = %q, want %q", bin, tt.wantBin)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestSanitizeDefaultArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"keeps unrelated flags", "--verbose --retries 3", []string{"--verbose", "--retries", "3"}},
		{"strips dry run", "--dry-run --verbose", []string{"--verbose"}},
		{"strips no submit", "--no-submit", nil},
		{"strips limit with count", "--limit 5 --verbose", []string{"--verbose"}},
		{"keeps bare limit", "--limit --verbose", []string{"--limit", "--verbose"}},
		{"keeps limit with non numeric", "--limit abc", []string{"--limit", "abc"}},
		{"strips all three", "--dry-run --no-submit --limit 10", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeDefaultArgs(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SanitizeDefaultArgs(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRunArgs(t *testing.T) {
	req := domain.RunCreateRequest{
		Config: domain.RunConfig{
			DryRun:      true,
			Concurrency: 3,
			TimeoutSec:  20,
			ShowBrowser: true,
			Captcha:     domain.CaptchaTwoCaptcha,
		},
	}
	got := RunArgs(req, "/w/urls.csv", "/w/data.yaml", "/w/result.csv", []string{"--verbose"})
	want := []string{
		"--csv", "/w/urls.csv",
		"--data", "/w/data.yaml",
		"--concurrency", "3",
		"--timeout", "20",
		"--dry-run", "--no-submit",
		"--show-browser",
		"--captcha-api", "twocaptcha",
		"--output", "/w/result.csv",
		"--emit-json",
		"--verbose",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RunArgs mismatch:\ngot:  %v\nwant: %v", got, want)
	}
}

func TestRunArgs_MinimalConfig(t *testing.T) {
	req := domain.RunCreateRequest{
		Config: domain.RunConfig{Concurrency: 1, TimeoutSec: 30},
	}
	got := RunArgs(req, "/w/urls.csv", "/w/data.yaml", "/w/result.csv", nil)
	want := []string{
		"--csv", "/w/urls.csv",
		"--data", "/w/data.yaml",
		"--concurrency", "1",
		"--timeout", "30",
		"--output", "/w/result.csv",
		"--emit-json",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RunArgs mismatch:\ngot:  %v\nwant: %v", got, want)
	}
}

func TestPreflightArgs_ForcesDryRunAndLimit(t *testing.T) {
	req := domain.PreflightRequest{
		RunCreateRequest: domain.RunCreateRequest{
			Config: domain.RunConfig{DryRun: false, Concurrency: 2, TimeoutSec: 15},
		},
		SampleCount: 0,
	}
	got := PreflightArgs(req, "/w/urls.csv", "/w/data.yaml", "/w/result.csv", []string{"--verbose"})
	want := []string{
		"--csv", "/w/urls.csv",
		"--data", "/w/data.yaml",
		"--limit", "1",
		"--dry-run", "--no-submit", "--emit-json",
		"--output", "/w/result.csv",
		"--concurrency", "2",
		"--timeout", "15",
		"--verbose",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PreflightArgs mismatch:\ngot:  %v\nwant: %v", got, want)
	}
}
