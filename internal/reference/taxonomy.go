// Package reference caches the MITRE ATT&CK taxonomy of intrusion sets and the
// tools and malware they use.
package reference

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iyulab/actor-profiler/internal/naming"
)

// Entry is one intrusion set.
type Entry struct {
	ID        string   `json:"id"` // ATT&CK group ID, e.g. G0016
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
	FirstSeen string   `json:"first_seen"` // year the group was first documented
	URL       string   `json:"url"`
}

// Taxonomy is an immutable snapshot of the catalog.
type Taxonomy struct {
	Entries []Entry

	owners map[string]int    // normalized name or alias -> index into Entries
	tools  map[string]string // normalized tool/malware name -> display name
}

// Empty returns a taxonomy with no entries.
func Empty() *Taxonomy {
	return &Taxonomy{owners: map[string]int{}, tools: map[string]string{}}
}

// NewTaxonomy indexes entries and tool names. Later entries never steal a
// name already owned by an earlier one.
func NewTaxonomy(entries []Entry, tools []string) *Taxonomy {
	t := Empty()
	t.Entries = entries
	for i, e := range entries {
		for _, n := range append([]string{e.Name}, e.Aliases...) {
			k := naming.Normalize(n)
			if k == "" {
				continue
			}
			if _, taken := t.owners[k]; !taken {
				t.owners[k] = i
			}
		}
	}
	for _, n := range tools {
		if k := naming.Normalize(n); k != "" {
			t.tools[k] = n
		}
	}
	return t
}

// Lookup finds the entry whose name or alias normalizes to the same key as name.
func (t *Taxonomy) Lookup(name string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	i, ok := t.owners[naming.Normalize(name)]
	if !ok {
		return Entry{}, false
	}
	return t.Entries[i], true
}

// Owner returns the canonical name of the entry that owns name.
func (t *Taxonomy) Owner(name string) (string, bool) {
	e, ok := t.Lookup(name)
	return e.Name, ok
}

// IsTool reports whether name is a catalogued tool or malware family.
func (t *Taxonomy) IsTool(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.tools[naming.Normalize(name)]
	return ok
}

// Len returns the number of intrusion sets.
func (t *Taxonomy) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

// ToolCount returns the number of catalogued tool and malware names.
func (t *Taxonomy) ToolCount() int {
	if t == nil {
		return 0
	}
	return len(t.tools)
}

// --- STIX parsing ---

type stixBundle struct {
	Objects []stixObject `json:"objects"`
}

type stixObject struct {
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	Aliases      []string  `json:"aliases"`
	MitreAliases []string  `json:"x_mitre_aliases"`
	Created      time.Time `json:"created"`
	FirstSeen    time.Time `json:"first_seen"`
	Revoked      bool      `json:"revoked"`
	Deprecated   bool      `json:"x_mitre_deprecated"`
	ExternalRefs []stixRef `json:"external_references"`
}

type stixRef struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// ParseSTIX reads an ATT&CK STIX 2.x bundle. Revoked and deprecated objects
// are skipped.
func ParseSTIX(r io.Reader) (*Taxonomy, error) {
	var bundle stixBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode stix bundle: %w", err)
	}

	var entries []Entry
	var tools []string
	for _, o := range bundle.Objects {
		if o.Revoked || o.Deprecated || strings.TrimSpace(o.Name) == "" {
			continue
		}
		switch o.Type {
		case "intrusion-set":
			e := Entry{Name: o.Name, Aliases: o.Aliases}
			for _, ref := range o.ExternalRefs {
				if ref.SourceName == "mitre-attack" {
					e.ID = ref.ExternalID
					e.URL = ref.URL
					break
				}
			}
			switch {
			case !o.FirstSeen.IsZero():
				e.FirstSeen = fmt.Sprintf("%d", o.FirstSeen.Year())
			case !o.Created.IsZero():
				e.FirstSeen = fmt.Sprintf("%d", o.Created.Year())
			}
			entries = append(entries, e)
		case "tool", "malware":
			tools = append(tools, o.Name)
			tools = append(tools, o.MitreAliases...)
		}
	}
	return NewTaxonomy(entries, tools), nil
}
