// Package override holds hand-verified ground truth that takes precedence over
// anything the model generates.
package override

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iyulab/actor-profiler/internal/naming"
	"github.com/iyulab/actor-profiler/internal/profile"
)

//go:embed overrides.yaml
var builtin []byte

// Record is the hand-verified data for one actor.
type Record struct {
	Name             string          `yaml:"name"`
	FirstSeen        string          `yaml:"first_seen"`
	Aliases          []string        `yaml:"aliases"`
	ReplaceAliases   bool            `yaml:"replace_aliases"`
	ForbiddenAliases []string        `yaml:"forbidden_aliases"`
	Vulnerabilities  []Vulnerability `yaml:"vulnerabilities"`
	Sources          []Source        `yaml:"sources"`
}

// Vulnerability is an override CVE. Empty fields fall back to model output.
type Vulnerability struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
	Evidence    string `yaml:"evidence"`
}

// Source is an override evidence link.
type Source struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

// Key is the normalized lookup key of the record.
func (r Record) Key() string {
	return naming.Normalize(r.Name)
}

// ProfileSources converts the override sources.
func (r Record) ProfileSources() []profile.Source {
	out := make([]profile.Source, 0, len(r.Sources))
	for _, s := range r.Sources {
		out = append(out, profile.Source{Title: s.Title, URL: s.URL})
	}
	return out
}

// Forbids reports whether name is on the forbidden alias list.
func (r Record) Forbids(name string) bool {
	for _, f := range r.ForbiddenAliases {
		if naming.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// Registry is read-only after Load.
type Registry struct {
	records map[string]Record
	keys    []string
}

// Load parses the built-in table and, if extraPath is set, merges the operator
// file over it. Operator entries replace built-in entries with the same key.
func Load(extraPath string) (*Registry, error) {
	reg, err := Parse(builtin)
	if err != nil {
		return nil, fmt.Errorf("built-in overrides: %w", err)
	}
	if extraPath == "" {
		return reg, nil
	}

	data, err := os.ReadFile(extraPath)
	if err != nil {
		return nil, fmt.Errorf("read overrides %s: %w", extraPath, err)
	}
	extra, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse overrides %s: %w", extraPath, err)
	}
	for k, r := range extra.records {
		reg.records[k] = r
	}
	reg.index()
	return reg, nil
}

// Parse builds a Registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var list []Record
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}

	reg := &Registry{records: make(map[string]Record, len(list))}
	for i, r := range list {
		r.Name = strings.TrimSpace(r.Name)
		if r.Key() == "" {
			return nil, fmt.Errorf("entry %d: name is required", i)
		}
		for j, v := range r.Vulnerabilities {
			if !profile.ValidCVE(v.ID) {
				return nil, fmt.Errorf("entry %q: vulnerability %d: invalid id %q", r.Name, j, v.ID)
			}
			if v.Severity != "" {
				if _, ok := profile.ParseSeverity(v.Severity); !ok {
					return nil, fmt.Errorf("entry %q: %s: invalid severity %q", r.Name, v.ID, v.Severity)
				}
			}
		}
		reg.records[r.Key()] = r
	}
	reg.index()
	return reg, nil
}

func (reg *Registry) index() {
	reg.keys = reg.keys[:0]
	for k := range reg.records {
		reg.keys = append(reg.keys, k)
	}
	sort.Strings(reg.keys)
}

// Lookup resolves name to an override record using naming.ResolveKey.
func (reg *Registry) Lookup(name string) (Record, bool) {
	if reg == nil {
		return Record{}, false
	}
	key, ok := naming.ResolveKey(name, reg.keys)
	if !ok {
		return Record{}, false
	}
	return reg.records[key], true
}

// All returns every record sorted by key.
func (reg *Registry) All() []Record {
	if reg == nil {
		return nil
	}
	out := make([]Record, 0, len(reg.keys))
	for _, k := range reg.keys {
		out = append(out, reg.records[k])
	}
	return out
}

// Len returns the number of records.
func (reg *Registry) Len() int {
	if reg == nil {
		return 0
	}
	return len(reg.records)
}
