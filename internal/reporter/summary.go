package reporter

import (
	"sort"
	"strings"

	"github.com/iyulab/actor-profiler/internal/profile"
	"github.com/iyulab/actor-profiler/internal/sources"
)

// Evidence kinds shown next to each vulnerability.
const (
	EvidenceNVD      = "nvd"
	EvidenceOverride = "override"
	EvidenceModel    = "model"
	EvidenceLink     = "link"
)

// SeverityCounts tallies vulnerabilities by severity.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Total returns the number of vulnerabilities counted.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

// SourceRow is one source with its whitelist tier.
type SourceRow struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Tier   string `json:"tier"`
	Search bool   `json:"search"`
}

// Summary is the at-a-glance view of a record rendered above the details.
type Summary struct {
	// Vulnerabilities is the record's list ordered from CRITICAL to LOW.
	Vulnerabilities []profile.Vulnerability `json:"vulnerabilities"`

	Severities     SeverityCounts `json:"severities"`
	Evidence       map[string]int `json:"evidence"`
	Sources        []SourceRow    `json:"sources"`
	AuthorityCount int            `json:"authority_count"`
	SearchOnly     bool           `json:"search_only"` // every source is a search fallback
}

// Summarize computes the report summary for rec.
func Summarize(rec profile.Record) Summary {
	s := Summary{Evidence: map[string]int{}}

	s.Vulnerabilities = append([]profile.Vulnerability(nil), rec.Vulnerabilities...)
	sort.SliceStable(s.Vulnerabilities, func(i, j int) bool {
		return s.Vulnerabilities[i].Severity.Rank() < s.Vulnerabilities[j].Severity.Rank()
	})

	for _, v := range rec.Vulnerabilities {
		switch v.Severity {
		case profile.SeverityCritical:
			s.Severities.Critical++
		case profile.SeverityHigh:
			s.Severities.High++
		case profile.SeverityLow:
			s.Severities.Low++
		default:
			s.Severities.Medium++
		}
		s.Evidence[EvidenceKind(v.Evidence)]++
	}

	searchCount := 0
	for _, src := range rec.Sources {
		row := SourceRow{Title: src.Title, URL: src.URL, Search: sources.IsSearchQuery(src.URL)}
		tier := sources.Classify(src.URL)
		row.Tier = tier.String()
		if row.Search {
			searchCount++
			row.Tier = "search"
		} else if tier == sources.TierAuthority {
			s.AuthorityCount++
		}
		s.Sources = append(s.Sources, row)
	}
	s.SearchOnly = len(rec.Sources) > 0 && searchCount == len(rec.Sources)
	return s
}

// EvidenceKind classifies a vulnerability evidence value.
func EvidenceKind(evidence string) string {
	switch {
	case evidence == "override-registry":
		return EvidenceOverride
	case evidence == "" || evidence == "model-asserted":
		return EvidenceModel
	case strings.HasPrefix(evidence, "https://nvd.nist.gov/"):
		return EvidenceNVD
	default:
		return EvidenceLink
	}
}
