// Package orchestrator runs the research → structure → reconcile pipeline that
// turns an actor name into a validated intelligence record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/alias"
	"github.com/iyulab/actor-profiler/internal/audit"
	"github.com/iyulab/actor-profiler/internal/llm"
	"github.com/iyulab/actor-profiler/internal/logging"
	"github.com/iyulab/actor-profiler/internal/metrics"
	"github.com/iyulab/actor-profiler/internal/override"
	"github.com/iyulab/actor-profiler/internal/profile"
	"github.com/iyulab/actor-profiler/internal/reference"
	"github.com/iyulab/actor-profiler/internal/sources"
	"github.com/iyulab/actor-profiler/internal/vuln"
)

var tracer = otel.Tracer("github.com/iyulab/actor-profiler/internal/orchestrator")

var (
	// ErrNoResearch means the research call returned no usable text.
	ErrNoResearch = errors.New("research call produced no text")
	// ErrUnparseable means every structuring recovery tier failed.
	ErrUnparseable = errors.New("structured output could not be parsed")
	// ErrEmptyName means the request named no actor.
	ErrEmptyName = errors.New("actor name is required")
)

// Request is one generation request.
type Request struct {
	Name         string
	ApprovedURLs []string
	Documents    []Document
}

// Result is the reconciled record plus the audit trail that explains it.
type Result struct {
	RequestID string         `json:"request_id"`
	Record    profile.Record `json:"record"`
	Audit     audit.Log      `json:"audit"`
}

// TaxonomySource yields the current reference taxonomy. *reference.Cache
// satisfies it.
type TaxonomySource interface {
	Snapshot(ctx context.Context) (*reference.Taxonomy, error)
}

// Settings are the tunables of one Generator.
type Settings struct {
	ResearchMaxTokens  int
	StructureMaxTokens int
	RetryMaxTokens     int
	Temperature        float64
	CallTimeout        time.Duration
	MinSources         int
	MaxDocumentChars   int
}

func (s *Settings) applyDefaults() {
	if s.ResearchMaxTokens <= 0 {
		s.ResearchMaxTokens = 8192
	}
	if s.StructureMaxTokens <= 0 {
		s.StructureMaxTokens = 4096
	}
	if s.RetryMaxTokens <= 0 {
		s.RetryMaxTokens = 8192
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 90 * time.Second
	}
	if s.MinSources <= 0 || s.MinSources > sources.DefaultMinSources {
		s.MinSources = sources.DefaultMinSources
	}
	if s.MaxDocumentChars <= 0 {
		s.MaxDocumentChars = 20000
	}
}

// Deps are the collaborators of a Generator. Provider is required; nil
// Taxonomy and Vulns disable those lookups, other nil fields get defaults.
type Deps struct {
	Provider  llm.Provider
	Taxonomy  TaxonomySource
	Overrides *override.Registry
	Aliases   *alias.Reconciler
	Vulns     *vuln.Reconciler
	Sources   *sources.Validator
	Logger    *zap.Logger
	Metrics   *metrics.Collector
}

// Generator is safe for concurrent use; all per-request state lives in run.
type Generator struct {
	deps     Deps
	settings Settings
	logger   *zap.Logger
	metrics  *metrics.Collector
	stages   []stage

	now   func() time.Time
	newID func() string
}

// New creates a Generator.
func New(deps Deps, settings Settings) *Generator {
	settings.applyDefaults()
	if deps.Aliases == nil {
		deps.Aliases = alias.New()
	}
	if deps.Sources == nil {
		deps.Sources = sources.NewValidator(sources.WithLogger(deps.Logger), sources.WithMetrics(deps.Metrics))
	}
	g := &Generator{
		deps:     deps,
		settings: settings,
		logger:   logging.OrNop(deps.Logger),
		metrics:  deps.Metrics,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	g.stages = g.defaultStages()
	return g
}

// Generate runs the whole pipeline for one actor. It returns either a fully
// reconciled record or a terminal error; never a partial record.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrEmptyName
	}

	requestID := g.newID()
	ctx, span := tracer.Start(ctx, "profile.Generate",
		trace.WithAttributes(
			attribute.String("actor.name", name),
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()

	logger := g.logger.With(zap.String("request_id", requestID), zap.String("actor", name))
	start := g.now()

	res, err := g.generate(ctx, name, requestID, req, logger)
	g.metrics.ObserveStage("total", g.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.metrics.CountGeneration(outcome(err))
		logger.Error("generation failed", zap.Error(err))
		return nil, err
	}

	g.metrics.CountGeneration("ok")
	logger.Info("generation complete",
		zap.Int("aliases", len(res.Record.Aliases)),
		zap.Int("vulnerabilities", len(res.Record.Vulnerabilities)),
		zap.Int("sources", len(res.Record.Sources)),
		zap.Duration("duration", res.Audit.TotalDuration))
	return res, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrNoResearch):
		return "no_research"
	case errors.Is(err, ErrUnparseable):
		return "unparseable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func (g *Generator) generate(ctx context.Context, name, requestID string, req Request, logger *zap.Logger) (*Result, error) {
	b := audit.NewBuilder(requestID, audit.WithClock(g.now), audit.WithGroundingFilter(sources.IsEphemeral))
	r := &run{name: name, logger: logger, origins: make(map[string]sources.Origin)}

	// Reference lookup. A failed refresh still yields a usable taxonomy.
	r.tax = reference.Empty()
	if g.deps.Taxonomy != nil {
		tax, err := g.deps.Taxonomy.Snapshot(ctx)
		if tax != nil {
			r.tax = tax
		}
		if err != nil {
			logger.Warn("reference taxonomy unavailable", zap.Error(err))
			b.Failed("Reference lookup", err)
		}
	}
	if e, ok := r.tax.Lookup(name); ok {
		r.ref = &e
		b.Stepf("Reference lookup", "matched %s (%s) with %d catalogued names", e.Name, e.ID, len(e.Aliases))
	} else {
		b.Stepf("Reference lookup", "no catalog entry among %d intrusion sets", r.tax.Len())
	}

	if ov, ok := g.deps.Overrides.Lookup(name); ok {
		r.override, r.hasOverride = ov, true
		b.Stepf("Override registry", "matched %s: %d verified vulnerabilities, %d sources",
			ov.Name, len(ov.Vulnerabilities), len(ov.Sources))
	} else {
		b.Step("Override registry", "no entry")
	}

	s := seed{Reference: r.ref}
	if r.hasOverride {
		for _, v := range r.override.Vulnerabilities {
			s.KnownCVEs = append(s.KnownCVEs, v.ID)
		}
	}
	for _, u := range req.ApprovedURLs {
		if u = strings.TrimSpace(u); u != "" {
			s.ApprovedURLs = append(s.ApprovedURLs, u)
			r.approved = append(r.approved, u)
		}
	}
	b.AddApproved(s.ApprovedURLs...)
	if r.ref != nil && r.ref.URL != "" {
		b.AddApproved(r.ref.URL)
	}
	for _, d := range req.Documents {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		s.Documents = append(s.Documents, Document{Name: d.Name, Text: capText(d.Text, g.settings.MaxDocumentChars)})
		b.AddDocument(d.Name)
	}

	// Stage 1: research.
	logger.Debug("research started", zap.Int("documents", len(s.Documents)), zap.Int("approved_urls", len(s.ApprovedURLs)))
	research, err := g.call(ctx, "research", llm.Request{
		System:      ResearchSystemPrompt,
		Prompt:      BuildResearchPrompt(name, s),
		Grounding:   true,
		MaxTokens:   g.settings.ResearchMaxTokens,
		Temperature: g.settings.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("research: %w", err)
	}
	notes := strings.TrimSpace(research.Text)
	if notes == "" {
		return nil, ErrNoResearch
	}
	r.grounding = research.Sources
	for _, src := range research.Sources {
		b.AddGrounding(src.URL)
	}
	desc := fmt.Sprintf("%d characters of notes, %d grounding sources", len(notes), len(research.Sources))
	if research.Truncated {
		desc += " (notes hit the token limit)"
	}
	b.Step("Research", desc)

	// Stage 2: structuring with the recovery ladder.
	rec, tier, err := g.structure(ctx, BuildStructurePrompt(name, notes, s))
	if err != nil {
		return nil, err
	}
	b.Step("Structuring", tierDescription(tier))

	rec.Name = canonicalName(name, rec.Name, r)
	r.name = rec.Name

	// Reconciliation: left-to-right reduction, non-fatal per stage.
	for _, st := range g.stages {
		rec = g.runStage(ctx, st, rec, r, b)
	}

	return &Result{RequestID: requestID, Record: rec, Audit: b.Finish()}, nil
}

// canonicalName prefers the override spelling, then the model's, then the
// requested name.
func canonicalName(requested, modelName string, r *run) string {
	switch {
	case r.hasOverride:
		return r.override.Name
	case modelName != "":
		return modelName
	default:
		return requested
	}
}

func (g *Generator) runStage(ctx context.Context, st stage, rec profile.Record, r *run, b *audit.Builder) profile.Record {
	ctx, span := tracer.Start(ctx, "profile.stage", trace.WithAttributes(attribute.String("stage", st.label)))
	defer span.End()

	start := g.now()
	out, desc, err := st.run(ctx, rec.Clone(), r)
	g.metrics.ObserveStage(st.label, g.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("stage failed, output left unchanged", zap.String("stage", st.label), zap.Error(err))
		b.Failed(st.label, err)
		return rec
	}
	b.Step(st.label, desc)
	return out
}

// call performs one model call under its own timeout.
func (g *Generator) call(ctx context.Context, purpose string, req llm.Request) (llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.settings.CallTimeout)
	defer cancel()

	start := g.now()
	resp, err := g.deps.Provider.Generate(ctx, req)
	g.metrics.ObserveStage("model_"+purpose, g.now().Sub(start))
	switch {
	case err != nil:
		g.metrics.CountModelCall(purpose, "error")
	case resp.Truncated:
		g.metrics.CountModelCall(purpose, "truncated")
	default:
		g.metrics.CountModelCall(purpose, "ok")
	}
	return resp, err
}
