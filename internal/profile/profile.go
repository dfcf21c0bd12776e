// Package profile defines the threat actor record produced by the generation pipeline.
package profile

import (
	"regexp"
	"strings"
)

// Severity is an ordered vulnerability rank.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Severities lists the valid ranks from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity maps a free-form rating onto the fixed set.
// Unknown values return false.
func ParseSeverity(s string) (Severity, bool) {
	v := Severity(strings.ToUpper(strings.TrimSpace(s)))
	for _, sev := range Severities {
		if v == sev {
			return sev, true
		}
	}
	return "", false
}

// Rank returns 0 for CRITICAL through 3 for LOW, and 4 for anything else.
func (s Severity) Rank() int {
	for i, sev := range Severities {
		if s == sev {
			return i
		}
	}
	return len(Severities)
}

var cvePattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// ValidCVE reports whether id matches the CVE identifier pattern.
func ValidCVE(id string) bool {
	return cvePattern.MatchString(id)
}

// NVDDetailURL returns the canonical NVD page for a CVE.
func NVDDetailURL(id string) string {
	return "https://nvd.nist.gov/vuln/detail/" + id
}

// Record is the reconciled profile of a single threat actor.
type Record struct {
	Name            string          `json:"name"`
	FirstSeen       string          `json:"first_seen"`
	Aliases         []string        `json:"aliases"`
	Narrative       Narrative       `json:"narrative"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Sources         []Source        `json:"sources"`
}

// Narrative is the three-part description of the actor.
type Narrative struct {
	Summary        string `json:"summary"`
	Campaigns      string `json:"campaigns"`
	RecentActivity string `json:"recent_activity"`
}

// Vulnerability is a CVE the actor is known to exploit.
type Vulnerability struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Evidence    string   `json:"evidence"`
}

// Source is a piece of supporting evidence.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Clone returns a deep copy so pipeline stages never share slices.
func (r Record) Clone() Record {
	out := r
	out.Aliases = append([]string(nil), r.Aliases...)
	out.Vulnerabilities = append([]Vulnerability(nil), r.Vulnerabilities...)
	out.Sources = append([]Source(nil), r.Sources...)
	return out
}

// VulnerabilityIDs returns the IDs in list order.
func (r Record) VulnerabilityIDs() []string {
	ids := make([]string, 0, len(r.Vulnerabilities))
	for _, v := range r.Vulnerabilities {
		ids = append(ids, v.ID)
	}
	return ids
}

// SourceKey is the deduplication key for a source URL.
func SourceKey(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
