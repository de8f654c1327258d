package domain

import "fmt"

// CaptchaProvider identifies the external captcha-solving service the
// worker should use, or "none" to disable solving.
type CaptchaProvider string

const (
	CaptchaNone        CaptchaProvider = "none"
	CaptchaTwoCaptcha  CaptchaProvider = "twocaptcha"
	CaptchaAntiCaptcha CaptchaProvider = "anticaptcha"
	CaptchaCapSolver   CaptchaProvider = "capsolver"
)

// Template holds the message body filled into contact forms
type Template struct {
	Body string `json:"body"`
}

// Profile holds the sender identity filled into contact forms.
// All fields except the first three are optional.
type Profile struct {
	LastName   string `json:"lastName"`
	FirstName  string `json:"firstName"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Department string `json:"department,omitempty"`
	Website    string `json:"website,omitempty"`
	Address    string `json:"address,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// RunConfig holds per-run worker tuning
type RunConfig struct {
	DryRun      bool            `json:"dryRun"`
	Concurrency int             `json:"concurrency"`
	TimeoutSec  int             `json:"timeoutSec"`
	ShowBrowser bool            `json:"showBrowser"`
	Captcha     CaptchaProvider `json:"captchaProvider"`
}

// RunCreateRequest is the request body for starting a run
type RunCreateRequest struct {
	DatasetIDs []string  `json:"datasetIds"`
	Template   Template  `json:"template"`
	Profile    Profile   `json:"profile"`
	Config     RunConfig `json:"config"`
}

// Validate checks the bounded fields of a run request.
// DatasetIDs emptiness is checked by the dataset resolver, not here.
func (r *RunCreateRequest) Validate() error {
	if r.Config.Concurrency < 1 || r.Config.Concurrency > 8 {
		return fmt.Errorf("concurrency must be between 1 and 8, got %d", r.Config.Concurrency)
	}
	if r.Config.TimeoutSec < 5 || r.Config.TimeoutSec > 60 {
		return fmt.Errorf("timeoutSec must be between 5 and 60, got %d", r.Config.TimeoutSec)
	}
	switch r.Config.Captcha {
	case "", CaptchaNone, CaptchaTwoCaptcha, CaptchaAntiCaptcha, CaptchaCapSolver:
	default:
		return fmt.Errorf("unknown captcha provider %q", r.Config.Captcha)
	}
	return nil
}

// PreflightRequest is a run request plus a sample size; preflight always
// executes dry-run regardless of Config.DryRun.
type PreflightRequest struct {
	RunCreateRequest
	SampleCount int `json:"sampleCount,omitempty"`
}

// MappingHit is one field-mapping discovery reported by the worker
type MappingHit struct {
	Key        string  `json:"key"`
	Selector   string  `json:"selector"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// PreflightResult is the outcome of a single-sample dry-run check
type PreflightResult struct {
	URL      string       `json:"url"`
	Mapping  []MappingHit `json:"mapping"`
	Warnings []string     `json:"warnings"`
}
