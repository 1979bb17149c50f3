package stores

import (
	"time"
)

// LoadRecord is one recorded configuration load.
type LoadRecord struct {
	ID     string `json:"id"`
	Source string `json:"source"`

	// Code is the parse error code, "check_failed" when a checker failed,
	// or empty for a successful load.
	Code string `json:"code,omitempty"`

	Error *string `json:"error,omitempty"`

	// Blocked is set when the load failed or a checker reported an
	// error-severity finding.
	Blocked bool `json:"blocked"`

	// Sources lists every file read, top-level first.
	Sources []string `json:"sources"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`

	DiagnosticCount int `json:"diagnostic_count"`
	FindingCount    int `json:"finding_count"`

	// Diagnostics and Findings are only filled by GetLoad.
	Diagnostics []DiagnosticRecord `json:"diagnostics,omitempty"`
	Findings    []FindingRecord    `json:"findings,omitempty"`
}

// DiagnosticRecord is a parse diagnostic of a recorded load.
type DiagnosticRecord struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// FindingRecord is a checker finding of a recorded load.
type FindingRecord struct {
	Checker  string `json:"checker"`
	Rule     string `json:"rule,omitempty"`
	Path     string `json:"path,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// LoadFilter narrows ListLoads. Zero fields match everything.
type LoadFilter struct {
	Source      string
	FailedOnly  bool
	BlockedOnly bool
}
