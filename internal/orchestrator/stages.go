package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/llm"
	"github.com/iyulab/actor-profiler/internal/naming"
	"github.com/iyulab/actor-profiler/internal/override"
	"github.com/iyulab/actor-profiler/internal/profile"
	"github.com/iyulab/actor-profiler/internal/reference"
	"github.com/iyulab/actor-profiler/internal/sources"
)

// OverrideEvidence tags vulnerabilities that came from the override registry
// without their own evidence URL.
const OverrideEvidence = "override-registry"

// ModelEvidence tags vulnerabilities only the model vouches for.
const ModelEvidence = "model-asserted"

// run is the per-request state shared by the stages.
type run struct {
	name   string
	logger *zap.Logger

	tax         *reference.Taxonomy
	ref         *reference.Entry
	override    override.Record
	hasOverride bool

	approved  []string
	grounding []llm.Source
	origins   map[string]sources.Origin // SourceKey -> origin of prepended sources

	aliasesReplaced bool
	vulnsReplaced   bool
}

// stage is one reconciliation step. An error leaves the record unchanged.
type stage struct {
	label string
	run   func(ctx context.Context, rec profile.Record, r *run) (profile.Record, string, error)
}

func (g *Generator) defaultStages() []stage {
	return []stage{
		{"Override merge", g.mergeOverride},
		{"Alias reconciliation", g.reconcileAliases},
		{"Vulnerability reconciliation", g.reconcileVulnerabilities},
		{"Source validation", g.validateSources},
		{"Minimum-evidence backstop", g.backstop},
		{"Finalize", g.finalize},
	}
}

func (g *Generator) mergeOverride(_ context.Context, rec profile.Record, r *run) (profile.Record, string, error) {
	if !r.hasOverride {
		if len(r.approved) == 0 {
			return rec, "no override entry", nil
		}
		prepended := make([]profile.Source, 0, len(r.approved)+len(rec.Sources))
		for _, u := range r.approved {
			prepended = append(prepended, profile.Source{Title: "Analyst-approved source", URL: u})
			r.origins[profile.SourceKey(u)] = sources.OriginApproved
		}
		rec.Sources = append(prepended, rec.Sources...)
		return rec, fmt.Sprintf("no override entry; %d approved URLs placed first", len(r.approved)), nil
	}

	ov := r.override
	var notes []string

	if len(ov.Vulnerabilities) > 0 {
		modelByID := make(map[string]profile.Vulnerability, len(rec.Vulnerabilities))
		for _, v := range rec.Vulnerabilities {
			modelByID[v.ID] = v
		}
		replaced := make([]profile.Vulnerability, 0, len(ov.Vulnerabilities))
		for _, verified := range ov.Vulnerabilities {
			model := modelByID[verified.ID]
			v := profile.Vulnerability{ID: verified.ID, Description: verified.Description, Evidence: verified.Evidence}
			if v.Description == "" {
				v.Description = model.Description
			}
			if sev, ok := profile.ParseSeverity(verified.Severity); ok {
				v.Severity = sev
			} else if model.Severity != "" {
				v.Severity = model.Severity
			} else {
				v.Severity = profile.SeverityMedium
			}
			if v.Evidence == "" {
				v.Evidence = OverrideEvidence
			}
			replaced = append(replaced, v)
		}
		notes = append(notes, fmt.Sprintf("vulnerabilities replaced (%d model → %d verified)", len(rec.Vulnerabilities), len(replaced)))
		rec.Vulnerabilities = replaced
		r.vulnsReplaced = true
	}

	if ov.FirstSeen != "" && ov.FirstSeen != rec.FirstSeen {
		notes = append(notes, fmt.Sprintf("first seen %q → %q", rec.FirstSeen, ov.FirstSeen))
		rec.FirstSeen = ov.FirstSeen
	}

	var registry []string
	if r.ref != nil {
		registry = append([]string{r.ref.Name}, r.ref.Aliases...)
	}
	if ov.ReplaceAliases {
		rec.Aliases = mergeNames(rec.Name, ov.Aliases, registry)
		r.aliasesReplaced = true
		notes = append(notes, "aliases replaced by verified list")
	} else {
		rec.Aliases = mergeNames(rec.Name, rec.Aliases, ov.Aliases, registry)
	}

	var removed []string
	kept := rec.Aliases[:0]
	for _, a := range rec.Aliases {
		if ov.Forbids(a) {
			removed = append(removed, a)
			continue
		}
		kept = append(kept, a)
	}
	rec.Aliases = kept
	if len(removed) > 0 {
		notes = append(notes, "forbidden aliases removed: "+strings.Join(removed, ", "))
	}

	if len(ov.Sources) > 0 {
		trusted := ov.ProfileSources()
		for _, s := range trusted {
			r.origins[profile.SourceKey(s.URL)] = sources.OriginRegistry
		}
		rec.Sources = append(trusted, rec.Sources...)
		notes = append(notes, fmt.Sprintf("%d verified sources placed first", len(trusted)))
	}

	if len(notes) == 0 {
		return rec, "override matched; nothing to change", nil
	}
	return rec, strings.Join(notes, "; "), nil
}

func (g *Generator) reconcileAliases(_ context.Context, rec profile.Record, r *run) (profile.Record, string, error) {
	if r.aliasesReplaced {
		return rec, "skipped: override supplied the alias list", nil
	}

	known := map[string]struct{}{}
	var knownList []string
	addKnown := func(names ...string) {
		for _, n := range names {
			known[naming.Normalize(n)] = struct{}{}
			knownList = append(knownList, n)
		}
	}
	if r.hasOverride {
		addKnown(r.override.Name)
		addKnown(r.override.Aliases...)
	}
	if r.ref != nil {
		addKnown(r.ref.Name)
		addKnown(r.ref.Aliases...)
	}

	var candidates []string
	for _, a := range rec.Aliases {
		if _, ok := known[naming.Normalize(a)]; !ok {
			candidates = append(candidates, a)
		}
	}
	res := g.deps.Aliases.Reconcile(rec.Name, candidates, knownList, r.tax)

	rejected := make(map[string]struct{}, len(res.Rejected))
	for _, rj := range res.Rejected {
		rejected[naming.Normalize(rj.Name)] = struct{}{}
	}
	kept := make([]string, 0, len(rec.Aliases))
	for _, a := range rec.Aliases {
		if _, drop := rejected[naming.Normalize(a)]; !drop {
			kept = append(kept, a)
		}
	}
	rec.Aliases = kept

	if len(res.Rejected) == 0 {
		return rec, fmt.Sprintf("%d aliases kept (%d unverified)", len(kept), len(res.Unverified)), nil
	}
	parts := make([]string, 0, len(res.Rejected))
	for _, rj := range res.Rejected {
		p := fmt.Sprintf("%s (%s", rj.Name, rj.Reason)
		if rj.Owner != "" {
			p += ": " + rj.Owner
		}
		parts = append(parts, p+")")
	}
	r.logger.Info("aliases rejected", zap.Strings("rejected", parts))
	return rec, fmt.Sprintf("%d aliases kept (%d unverified); rejected %s",
		len(kept), len(res.Unverified), strings.Join(parts, ", ")), nil
}

func (g *Generator) reconcileVulnerabilities(ctx context.Context, rec profile.Record, r *run) (profile.Record, string, error) {
	if r.vulnsReplaced {
		return rec, "skipped: override supplied the vulnerability list", nil
	}
	if g.deps.Vulns == nil {
		return rec, "skipped: no vulnerability authority configured", nil
	}
	if err := ctx.Err(); err != nil {
		return rec, "", err
	}

	kept, rejected := g.deps.Vulns.Reconcile(ctx, rec.Name, rec.Vulnerabilities)
	rec.Vulnerabilities = kept
	if len(rejected) == 0 {
		return rec, fmt.Sprintf("%d vulnerabilities kept", len(kept)), nil
	}
	parts := make([]string, 0, len(rejected))
	for _, rj := range rejected {
		parts = append(parts, fmt.Sprintf("%s (%s)", rj.ID, rj.Reason))
	}
	return rec, fmt.Sprintf("%d vulnerabilities kept; rejected %s", len(kept), strings.Join(parts, ", ")), nil
}

func (g *Generator) validateSources(_ context.Context, rec profile.Record, r *run) (profile.Record, string, error) {
	var candidates []sources.Candidate
	for _, u := range r.approved {
		candidates = append(candidates, sources.Candidate{Title: "Analyst-approved source", URL: u, Origin: sources.OriginApproved})
	}
	for _, s := range r.grounding {
		candidates = append(candidates, sources.Candidate{Title: s.Title, URL: s.URL, Origin: sources.OriginGrounding})
	}
	for _, s := range rec.Sources {
		origin, ok := r.origins[profile.SourceKey(s.URL)]
		if !ok {
			origin = sources.OriginModel
		}
		candidates = append(candidates, sources.Candidate{Title: s.Title, URL: s.URL, Origin: origin})
	}
	// Catalog link after the override sources; ordering is by origin, stable.
	if r.ref != nil && r.ref.URL != "" {
		candidates = append(candidates, sources.Candidate{Title: "MITRE ATT&CK: " + r.ref.Name, URL: r.ref.URL, Origin: sources.OriginRegistry})
	}

	before := len(rec.Sources)
	rec.Sources = g.deps.Sources.Assemble(candidates)
	return rec, fmt.Sprintf("%d candidates (%d from the model) → %d sources",
		len(candidates), before, len(rec.Sources)), nil
}

func (g *Generator) backstop(_ context.Context, rec profile.Record, _ *run) (profile.Record, string, error) {
	var added int
	rec.Sources, added = sources.Backstop(rec.Name, rec.Sources, g.settings.MinSources)
	if added == 0 {
		return rec, fmt.Sprintf("%d sources meet the floor of %d", len(rec.Sources), g.settings.MinSources), nil
	}
	return rec, fmt.Sprintf("added %d fallback sources to reach %d", added, len(rec.Sources)), nil
}

func (g *Generator) finalize(_ context.Context, rec profile.Record, r *run) (profile.Record, string, error) {
	var notes []string

	rec.Aliases = mergeNames(rec.Name, rec.Aliases)

	filled := 0
	for i, v := range rec.Vulnerabilities {
		if v.Evidence != "" {
			continue
		}
		if profile.ValidCVE(v.ID) {
			v.Evidence = profile.NVDDetailURL(v.ID)
		} else {
			v.Evidence = ModelEvidence
		}
		rec.Vulnerabilities[i] = v
		filled++
	}
	if filled > 0 {
		notes = append(notes, fmt.Sprintf("evidence filled for %d vulnerabilities", filled))
	}

	if rec.FirstSeen == "" && r.ref != nil && r.ref.FirstSeen != "" {
		rec.FirstSeen = r.ref.FirstSeen
		notes = append(notes, "first seen taken from the reference catalog")
	}

	if len(notes) == 0 {
		return rec, "record complete", nil
	}
	return rec, strings.Join(notes, "; "), nil
}

// mergeNames unions name lists case-insensitively, first spelling wins, and
// drops the canonical name.
func mergeNames(canonical string, lists ...[]string) []string {
	seen := map[string]struct{}{naming.Normalize(canonical): {}}
	out := []string{}
	for _, list := range lists {
		for _, n := range list {
			n = strings.TrimSpace(n)
			k := naming.Normalize(n)
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
