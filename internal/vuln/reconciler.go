package vuln

import (
	"context"

	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/logging"
	"github.com/iyulab/actor-profiler/internal/profile"
)

// DefaultMaxChecks bounds how many entries are sent to the authority per record.
const DefaultMaxChecks = 10

// Checker is satisfied by *Verifier.
type Checker interface {
	Lookup(ctx context.Context, id string) (Lookup, error)
}

// Rejection explains why an entry was dropped.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Reconciler confirms, corrects or rejects model-asserted vulnerabilities.
type Reconciler struct {
	checker   Checker
	maxChecks int
	logger    *zap.Logger
}

// NewReconciler creates a Reconciler. maxChecks <= 0 uses DefaultMaxChecks.
func NewReconciler(checker Checker, maxChecks int, logger *zap.Logger) *Reconciler {
	if maxChecks <= 0 {
		maxChecks = DefaultMaxChecks
	}
	return &Reconciler{checker: checker, maxChecks: maxChecks, logger: logging.OrNop(logger)}
}

// Reconcile checks the first maxChecks entries; the rest pass through
// unchecked. Entries the authority cannot answer for are kept unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, entity string, vulns []profile.Vulnerability) ([]profile.Vulnerability, []Rejection) {
	kept := make([]profile.Vulnerability, 0, len(vulns))
	var rejected []Rejection

	for i, v := range vulns {
		if i >= r.maxChecks {
			kept = append(kept, v)
			continue
		}
		if !profile.ValidCVE(v.ID) {
			rejected = append(rejected, Rejection{ID: v.ID, Reason: "malformed identifier"})
			continue
		}

		res, err := r.checker.Lookup(ctx, v.ID)
		switch {
		case err != nil || res.Status == Unavailable:
			r.logger.Warn("vulnerability lookup unavailable, keeping entry",
				zap.String("entity", entity), zap.String("cve", v.ID), zap.Error(err))
			kept = append(kept, v)
		case res.Status == NotFound:
			rejected = append(rejected, Rejection{ID: v.ID, Reason: "not found in NVD"})
		default:
			if res.Severity != "" {
				v.Severity = res.Severity
			}
			if v.Evidence == "" {
				v.Evidence = profile.NVDDetailURL(v.ID)
			}
			kept = append(kept, v)
		}
	}

	if len(rejected) > 0 {
		r.logger.Info("vulnerabilities rejected",
			zap.String("entity", entity), zap.Int("count", len(rejected)))
	}
	return kept, rejected
}
