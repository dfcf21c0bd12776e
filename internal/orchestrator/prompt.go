package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iyulab/actor-profiler/internal/reference"
)

// ResearchSystemPrompt is the analyst persona for the grounded research call.
const ResearchSystemPrompt = `You are a senior cyber threat intelligence analyst. You write research notes on a single threat actor for an intelligence record that will be reviewed by other analysts.

ATTRIBUTION DISCIPLINE:
- Separate CONFIRMED direct attribution from OVERLAP, CONTESTED or SUSPECTED attribution. Label every claim that is not confirmed.
- NEVER attribute to this actor a fact that belongs to a different but related actor, a parent organisation, a subgroup, or a shared tool.
- Alternate names must be names under which THIS actor is tracked. Do not list malware, tools, or other actors as alternate names.

EVIDENCE:
- Use web search. Prefer government advisories, MITRE ATT&CK, NVD, and vendor threat research.
- Cite the page each fact came from.
- Only list CVE identifiers you can tie to this actor through a source. Do not guess.

OUTPUT:
Write plain-text notes with these headings: Identity, First Observed, Alternate Names, Origin and Summary, Campaign History, Recent Activity, Exploited Vulnerabilities (ID, description, severity, source), Sources (title and URL).`

// StructureSystemPrompt constrains the structuring call to the research notes.
const StructureSystemPrompt = `You convert threat intelligence research notes into a structured record.

RULES:
- Use ONLY facts present in the research notes and the context below. Do not add names, CVEs, dates or URLs that are not there.
- If the notes mark an alternate name as overlap, contested or suspected, leave it out.
- severity must be one of CRITICAL, HIGH, MEDIUM, LOW.
- evidence is the URL that supports the vulnerability, or an empty string.
- Every field is required. Use empty strings and empty arrays when the notes have nothing.`

// CompletionSystemPrompt asks the model to close truncated output.
const CompletionSystemPrompt = `You repair JSON that was cut off because the output limit was reached. Return the complete JSON object only. Keep every value that is already present exactly as written. Close open strings, arrays and objects. Do not invent new data: drop an element that cannot be finished from what is present.`

// Document is user-supplied text attached to a request.
type Document struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// seed is the context shared by both stages.
type seed struct {
	KnownCVEs    []string
	ApprovedURLs []string
	Documents    []Document
	Reference    *reference.Entry
}

func (s seed) String() string {
	var b strings.Builder
	if s.Reference != nil {
		fmt.Fprintf(&b, "REFERENCE CATALOG ENTRY: %s (%s)", s.Reference.Name, s.Reference.ID)
		if len(s.Reference.Aliases) > 0 {
			fmt.Fprintf(&b, ", also tracked as %s", strings.Join(s.Reference.Aliases, ", "))
		}
		b.WriteString("\n\n")
	}
	if len(s.KnownCVEs) > 0 {
		b.WriteString("VERIFIED VULNERABILITIES (must be acknowledged):\n")
		for _, id := range s.KnownCVEs {
			fmt.Fprintf(&b, "- %s\n", id)
		}
		b.WriteString("\n")
	}
	if len(s.ApprovedURLs) > 0 {
		b.WriteString("ANALYST-APPROVED SOURCES:\n")
		for _, u := range s.ApprovedURLs {
			fmt.Fprintf(&b, "- %s\n", u)
		}
		b.WriteString("\n")
	}
	for _, d := range s.Documents {
		fmt.Fprintf(&b, "=== DOCUMENT: %s ===\n%s\n=== END DOCUMENT ===\n\n", d.Name, d.Text)
	}
	return strings.TrimSpace(b.String())
}

// BuildResearchPrompt creates the research-call prompt for an actor.
func BuildResearchPrompt(name string, s seed) string {
	p := fmt.Sprintf("Research the threat actor %q.", name)
	if ctx := s.String(); ctx != "" {
		p += "\n\nCONTEXT:\n" + ctx
	}
	return p
}

// BuildStructurePrompt creates the structuring-call prompt from research notes.
func BuildStructurePrompt(name, notes string, s seed) string {
	p := fmt.Sprintf("Build the record for %q from these research notes.\n\n=== RESEARCH NOTES ===\n%s\n=== END NOTES ===", name, notes)
	if ctx := s.String(); ctx != "" {
		p += "\n\nCONTEXT:\n" + ctx
	}
	return p
}

// BuildCompletionPrompt wraps partial JSON for the completion call.
func BuildCompletionPrompt(partial string) string {
	return "Complete this truncated JSON:\n\n" + partial
}

// capText truncates s to at most max runes.
func capText(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
