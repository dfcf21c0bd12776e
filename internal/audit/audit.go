// Package audit records every transformation the pipeline applies to a record
// so operators can see why the final record looks the way it does.
package audit

import (
	"fmt"
	"strings"
	"time"
)

// Step is one pipeline stage as seen by the operator.
type Step struct {
	Label       string        `json:"label"`
	Description string        `json:"description"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Failed      bool          `json:"failed,omitempty"`
}

// Log is the per-request audit trail. It is never persisted.
type Log struct {
	RequestID     string        `json:"request_id"`
	Steps         []Step        `json:"steps"`
	GroundingURLs []string      `json:"grounding_urls"`
	ApprovedURLs  []string      `json:"approved_urls"`
	Documents     []string      `json:"documents"`
	TotalDuration time.Duration `json:"total_duration_ns"`
}

// Builder accumulates a Log. The zero value is not usable; call NewBuilder.
// A Builder is owned by a single request and is not safe for concurrent use.
type Builder struct {
	now      func() time.Time
	start    time.Time
	last     time.Time
	log      Log
	seen     map[string]map[string]bool
	excluded func(string) bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithGroundingFilter drops grounding URLs for which exclude returns true.
func WithGroundingFilter(exclude func(string) bool) Option {
	return func(b *Builder) { b.excluded = exclude }
}

// NewBuilder starts the clock for a new request.
func NewBuilder(requestID string, opts ...Option) *Builder {
	b := &Builder{
		now:  time.Now,
		seen: make(map[string]map[string]bool),
	}
	for _, o := range opts {
		o(b)
	}
	b.start = b.now()
	b.last = b.start
	b.log.RequestID = requestID
	return b
}

// Step records a stage with the time elapsed since the previous step.
func (b *Builder) Step(label, description string) {
	b.append(label, description, false)
}

// Stepf is Step with a formatted description.
func (b *Builder) Stepf(label, format string, args ...any) {
	b.append(label, fmt.Sprintf(format, args...), false)
}

// Failed records a non-fatal stage failure. The stage output is left unchanged.
func (b *Builder) Failed(label string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	b.append(label, fmt.Sprintf("failed: %s; output left unchanged", msg), true)
}

func (b *Builder) append(label, description string, failed bool) {
	now := b.now()
	b.log.Steps = append(b.log.Steps, Step{
		Label:       label,
		Description: description,
		Elapsed:     now.Sub(b.last),
		Failed:      failed,
	})
	b.last = now
}

// AddGrounding records URLs the model consulted, skipping excluded ones.
func (b *Builder) AddGrounding(urls ...string) {
	for _, u := range urls {
		if b.excluded != nil && b.excluded(u) {
			continue
		}
		b.add("grounding", &b.log.GroundingURLs, u)
	}
}

// AddApproved records approved or reference URLs.
func (b *Builder) AddApproved(urls ...string) {
	for _, u := range urls {
		b.add("approved", &b.log.ApprovedURLs, u)
	}
}

// AddDocument records an ingested document name.
func (b *Builder) AddDocument(names ...string) {
	for _, n := range names {
		b.add("documents", &b.log.Documents, n)
	}
}

func (b *Builder) add(bucket string, list *[]string, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	set := b.seen[bucket]
	if set == nil {
		set = make(map[string]bool)
		b.seen[bucket] = set
	}
	if set[v] {
		return
	}
	set[v] = true
	*list = append(*list, v)
}

// Finish returns a copy of the log with the total duration filled in.
// The builder can keep accumulating afterwards.
func (b *Builder) Finish() Log {
	out := b.log
	out.Steps = append([]Step(nil), b.log.Steps...)
	out.GroundingURLs = append([]string(nil), b.log.GroundingURLs...)
	out.ApprovedURLs = append([]string(nil), b.log.ApprovedURLs...)
	out.Documents = append([]string(nil), b.log.Documents...)
	out.TotalDuration = b.now().Sub(b.start)
	return out
}
