// Package alias decides which model-asserted alternate names belong to an actor.
package alias

import (
	"regexp"
	"strings"

	"github.com/iyulab/actor-profiler/internal/naming"
	"github.com/iyulab/actor-profiler/internal/reference"
)

// Reasons recorded on a Rejection.
const (
	ReasonQualifier = "relationship qualifier"
	ReasonTool      = "tool or malware name"
	ReasonOwned     = "attributed to another actor"
)

// qualifierPattern matches parenthetical or bracketed relationship hints such
// as "(overlap)" or "[possibly related]". Annotations like "(previously
// tracked as X)" are not relationship hints and pass through.
var qualifierPattern = regexp.MustCompile(`(?i)[(\[][^)\]]*\b(overlap\w*|related|possib\w*|suspect\w*|linked|assoc\w*|affiliat\w*|subgroup|sub-group|contested|disputed)\b[^)\]]*[)\]]`)

// extraTools covers families not yet catalogued in ATT&CK.
var extraTools = []string{
	"Brute Ratel", "Brute Ratel C4", "Sliver", "Havoc", "Nighthawk", "Mythic",
	"Latrodectus", "PikaBot", "DarkGate", "Lumma Stealer", "LummaC2",
	"IcedID", "BumbleBee", "SystemBC", "AsyncRAT", "Remcos",
}

// Rejection records a dropped name. Owner is set for ReasonOwned.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Owner  string `json:"owner,omitempty"`
}

// Result is the outcome of one reconciliation.
type Result struct {
	Accepted   []string
	Unverified []string // accepted but absent from the taxonomy
	Rejected   []Rejection
}

// Reconciler is stateless apart from its tool supplement.
type Reconciler struct {
	extra map[string]struct{}
}

// New creates a Reconciler with the built-in tool supplement plus any extras.
func New(extraToolNames ...string) *Reconciler {
	r := &Reconciler{extra: make(map[string]struct{})}
	for _, n := range append(append([]string(nil), extraTools...), extraToolNames...) {
		if k := naming.Normalize(n); k != "" {
			r.extra[k] = struct{}{}
		}
	}
	return r
}

// Reconcile filters candidates. known holds names already established as this
// actor's (override and registry aliases); canonical is always known. A nil
// taxonomy behaves as an empty one.
func (r *Reconciler) Reconcile(canonical string, candidates, known []string, tax *reference.Taxonomy) Result {
	knownSet := map[string]struct{}{naming.Normalize(canonical): {}}
	for _, n := range known {
		knownSet[naming.Normalize(n)] = struct{}{}
	}
	if owner, ok := tax.Owner(canonical); ok {
		knownSet[naming.Normalize(owner)] = struct{}{}
	}

	var res Result
	for _, name := range candidates {
		name = strings.TrimSpace(name)
		key := naming.Normalize(name)
		if key == "" {
			continue
		}

		switch {
		case qualifierPattern.MatchString(name):
			res.Rejected = append(res.Rejected, Rejection{Name: name, Reason: ReasonQualifier})
		case r.isTool(key, name, tax):
			res.Rejected = append(res.Rejected, Rejection{Name: name, Reason: ReasonTool})
		default:
			owner, found := tax.Owner(name)
			if !found {
				res.Accepted = append(res.Accepted, name)
				res.Unverified = append(res.Unverified, name)
				continue
			}
			if _, ours := knownSet[naming.Normalize(owner)]; !ours {
				res.Rejected = append(res.Rejected, Rejection{Name: name, Reason: ReasonOwned, Owner: owner})
				continue
			}
			res.Accepted = append(res.Accepted, name)
		}
	}
	return res
}

func (r *Reconciler) isTool(key, name string, tax *reference.Taxonomy) bool {
	if _, ok := r.extra[key]; ok {
		return true
	}
	return tax.IsTool(name)
}
