package models

import (
	"fmt"
)

// ChangeKind classifies a single line inside a diff hunk
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeContext ChangeKind = "context"
)

// ChangeLine is one line of a hunk. SourceLineNo is nil for added lines and
// TargetLineNo is nil for removed lines.
type ChangeLine struct {
	Kind         ChangeKind `json:"type"`
	Content      string     `json:"content"`
	SourceLineNo *int       `json:"source_line_no"`
	TargetLineNo *int       `json:"target_line_no"`
}

// Hunk represents a single contiguous block of changes within a file
type Hunk struct {
	Header string       `json:"hunk_header"`
	Lines  []ChangeLine `json:"lines"`
}

// FileChange represents one file touched by a pull request
type FileChange struct {
	SourcePath string `json:"source_file"`
	TargetPath string `json:"target_file"`
	IsNew      bool   `json:"is_new_file"`
	IsDeleted  bool   `json:"is_deleted_file"`
	IsRenamed  bool   `json:"is_renamed_file"`
	Hunks      []Hunk `json:"hunks"`
}

// StructuredDiff is the ordered list of non-binary file changes of a diff.
// It is passed verbatim to the analyzer.
type StructuredDiff []FileChange

// Stats returns the number of added and removed lines in the file.
func (f FileChange) Stats() (added, removed int) {
	for _, hunk := range f.Hunks {
		for _, line := range hunk.Lines {
			switch line.Kind {
			case ChangeAdded:
				added++
			case ChangeRemoved:
				removed++
			}
		}
	}
	return added, removed
}

// LineCount returns the total number of hunk lines across all files
func (d StructuredDiff) LineCount() int {
	n := 0
	for _, f := range d {
		for _, h := range f.Hunks {
			n += len(h.Lines)
		}
	}
	return n
}

// ReportSchemaVersion is stamped on every AnalysisReport. Cached reports
// carrying another version are treated as misses.
const ReportSchemaVersion = 1

// IssueSeverity is the issue type the analyzer uses for critical findings
type IssueSeverity string

const SeverityCritical IssueSeverity = "critical"

// Issue is a single finding in a file
type Issue struct {
	Type        string `json:"type"`
	Line        int    `json:"line"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// FileAnalysis groups the issues found in one file
type FileAnalysis struct {
	Name   string  `json:"name"`
	Issues []Issue `json:"issues"`
}

// Summary aggregates the findings across all files
type Summary struct {
	TotalFiles     int `json:"total_files"`
	TotalIssues    int `json:"total_issues"`
	CriticalIssues int `json:"critical_issues"`
}

// AnalysisReport is the analyzer output for one pull request revision
type AnalysisReport struct {
	SchemaVersion int            `json:"schema_version"`
	Files         []FileAnalysis `json:"files"`
	Summary       Summary        `json:"summary"`
}

// Validate checks the report invariants: matching totals, non-negative
// counters and the current schema version.
func (r *AnalysisReport) Validate() error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	if r.SchemaVersion != ReportSchemaVersion {
		return fmt.Errorf("unsupported report schema version %d (want %d)", r.SchemaVersion, ReportSchemaVersion)
	}
	if r.Files == nil {
		return fmt.Errorf("report has no files list")
	}
	if r.Summary.TotalFiles < 0 || r.Summary.TotalIssues < 0 || r.Summary.CriticalIssues < 0 {
		return fmt.Errorf("report summary has negative counters")
	}
	if r.Summary.TotalFiles != len(r.Files) {
		return fmt.Errorf("summary.total_files=%d but report lists %d files", r.Summary.TotalFiles, len(r.Files))
	}
	issues := 0
	for _, f := range r.Files {
		issues += len(f.Issues)
	}
	if r.Summary.TotalIssues != issues {
		return fmt.Errorf("summary.total_issues=%d but report lists %d issues", r.Summary.TotalIssues, issues)
	}
	if r.Summary.CriticalIssues > r.Summary.TotalIssues {
		return fmt.Errorf("summary.critical_issues=%d exceeds total_issues=%d", r.Summary.CriticalIssues, r.Summary.TotalIssues)
	}
	return nil
}

// Normalize stamps the schema version and recomputes the summary totals
// from the file list. The critical issue count reported by the analyzer is
// kept when it is plausible; otherwise it is recounted from issue types.
func (r *AnalysisReport) Normalize() {
	r.SchemaVersion = ReportSchemaVersion
	if r.Files == nil {
		r.Files = []FileAnalysis{}
	}

	issues, critical := 0, 0
	for i := range r.Files {
		if r.Files[i].Issues == nil {
			r.Files[i].Issues = []Issue{}
		}
		for _, issue := range r.Files[i].Issues {
			issues++
			if IssueSeverity(issue.Type) == SeverityCritical {
				critical++
			}
		}
	}

	r.Summary.TotalFiles = len(r.Files)
	r.Summary.TotalIssues = issues
	if r.Summary.CriticalIssues < 0 || r.Summary.CriticalIssues > issues {
		r.Summary.CriticalIssues = critical
	}
}
