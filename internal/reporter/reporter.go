// Package reporter renders actor records as HTML reports and bundles the
// generated artifacts for handoff.
package reporter

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iyulab/actor-profiler/internal/audit"
	"github.com/iyulab/actor-profiler/internal/profile"
)

//go:embed templates/*.tmpl
var templates embed.FS

// ReportData is the complete data model passed to the HTML template.
type ReportData struct {
	// Header
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"version"`
	RequestID   string    `json:"request_id,omitempty"`

	Record  profile.Record `json:"record"`
	Summary Summary        `json:"summary"`

	// Audit is set only right after generation; stored records have none.
	Audit *audit.Log `json:"audit,omitempty"`
}

// NewReportData fills the summary for rec.
func NewReportData(rec profile.Record, log *audit.Log, version string) ReportData {
	data := ReportData{
		GeneratedAt: time.Now().UTC(),
		Version:     version,
		Record:      rec,
		Summary:     Summarize(rec),
		Audit:       log,
	}
	if log != nil {
		data.RequestID = log.RequestID
	}
	return data
}

// Reporter generates HTML reports from actor records.
type Reporter struct {
	tmpl *template.Template
}

// New creates a Reporter with the embedded HTML template.
func New() (*Reporter, error) {
	funcMap := template.FuncMap{
		"severityClass": func(sev profile.Severity) string {
			switch sev {
			case profile.SeverityCritical:
				return "sev-critical"
			case profile.SeverityHigh:
				return "sev-high"
			case profile.SeverityLow:
				return "sev-low"
			default:
				return "sev-medium"
			}
		},
		"tierClass": func(tier string) string {
			return "tier-" + tier
		},
		"evidenceKind": EvidenceKind,
		"isLink": func(s string) bool {
			return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
		},
		"ms": func(d time.Duration) string {
			return fmt.Sprintf("%d ms", d.Milliseconds())
		},
		"join": strings.Join,
	}

	tmpl, err := template.New("report.html.tmpl").Funcs(funcMap).ParseFS(templates, "templates/report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	return &Reporter{tmpl: tmpl}, nil
}

// Render writes the HTML report to w.
func (r *Reporter) Render(w io.Writer, data ReportData) error {
	if err := r.tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// GenerateString renders the HTML template to a string.
func (r *Reporter) GenerateString(data ReportData) (string, error) {
	var buf strings.Builder
	if err := r.Render(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Generate renders the HTML report and writes it to the output directory.
func (r *Reporter) Generate(data ReportData, outputDir string) (string, error) {
	reportPath := filepath.Join(outputDir, "report.html")
	f, err := os.Create(reportPath)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if err := r.Render(f, data); err != nil {
		return "", err
	}

	return reportPath, nil
}
