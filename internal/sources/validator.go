package sources

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iyulab/actor-profiler/internal/logging"
	"github.com/iyulab/actor-profiler/internal/metrics"
	"github.com/iyulab/actor-profiler/internal/profile"
)

const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultMinSources   = 3
)

// Origin says where a candidate URL came from. Assembly keeps this order.
type Origin int

const (
	OriginApproved Origin = iota
	OriginRegistry
	OriginGrounding
	OriginModel
)

func (o Origin) String() string {
	switch o {
	case OriginApproved:
		return "approved"
	case OriginRegistry:
		return "registry"
	case OriginGrounding:
		return "grounding"
	default:
		return "model"
	}
}

// Candidate is a URL proposed for the source list.
type Candidate struct {
	Title  string
	URL    string
	Origin Origin
}

// Validator filters and probes sources.
type Validator struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option configures a Validator.
type Option func(*Validator)

// WithHTTPClient replaces the probe client.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) { v.client = c }
}

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a Validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{client: &http.Client{}, timeout: DefaultProbeTimeout}
	for _, o := range opts {
		o(v)
	}
	v.logger = logging.OrNop(v.logger)
	return v
}

// Assemble merges candidates without any network access. Approved, registry
// and grounding URLs are trusted; model URLs survive only when whitelisted.
// Search-query URLs are appended only while fewer than DefaultMinSources other
// URLs remain.
func (v *Validator) Assemble(candidates []Candidate) []profile.Source {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Origin < ordered[j].Origin })

	var main, search []profile.Source
	for _, c := range ordered {
		src, ok := clean(c.Title, c.URL)
		if !ok {
			continue
		}
		if IsSearchQuery(src.URL) {
			search = append(search, src)
			continue
		}
		if c.Origin == OriginModel && !IsWhitelisted(src.URL) {
			v.logger.Debug("dropping unlisted model source", zap.String("url", src.URL))
			continue
		}
		main = append(main, src)
	}
	return merge(main, search)
}

// Validate is the standalone liveness path. Whitelisted URLs are accepted
// without a request; every other non-search URL is probed concurrently and
// dropped if it is not live. Input order is preserved.
func (v *Validator) Validate(ctx context.Context, srcs []profile.Source) []profile.Source {
	type slot struct {
		src  profile.Source
		live bool
	}
	var slots []*slot
	var search []profile.Source

	// Every probe gets its own goroutine so a hung host only costs its own timeout.
	g := new(errgroup.Group)
	for _, s := range srcs {
		src, ok := clean(s.Title, s.URL)
		if !ok {
			continue
		}
		if IsSearchQuery(src.URL) {
			search = append(search, src)
			continue
		}
		sl := &slot{src: src}
		slots = append(slots, sl)
		if IsWhitelisted(src.URL) {
			sl.live = true
			v.metrics.CountProbe("whitelisted")
			continue
		}
		g.Go(func() error {
			sl.live = v.Probe(ctx, sl.src.URL)
			return nil
		})
	}
	_ = g.Wait()

	var main []profile.Source
	for _, sl := range slots {
		if sl.live {
			main = append(main, sl.src)
		}
	}
	return merge(main, search)
}

// Probe reports whether u answers with a status below 400. HEAD is tried
// first; a network error or a 405/501 falls back to a one-byte ranged GET.
func (v *Validator) Probe(ctx context.Context, u string) bool {
	status, err := v.request(ctx, http.MethodHead, u)
	if err == nil && status != http.StatusMethodNotAllowed && status != http.StatusNotImplemented {
		return v.record(u, status < 400, "head")
	}

	status, err = v.request(ctx, http.MethodGet, u)
	if err != nil {
		v.logger.Debug("probe failed", zap.String("url", u), zap.Error(err))
		return v.record(u, false, "get")
	}
	return v.record(u, status < 400, "get")
}

func (v *Validator) record(u string, live bool, method string) bool {
	result := "dead"
	if live {
		result = "live"
	}
	v.metrics.CountProbe(result)
	v.logger.Debug("probe", zap.String("url", u), zap.String("method", method), zap.Bool("live", live))
	return live
}

func (v *Validator) request(ctx context.Context, method, u string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "actor-profiler/1.0 (+source-check)")
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Backstop appends deterministic fallbacks until srcs has at least min
// entries. It returns the new list and how many were added. min is capped at
// DefaultMinSources: the three fallbacks can always reach that floor, and a
// higher one would leave search URLs that merge drops on the next pass.
func Backstop(name string, srcs []profile.Source, min int) ([]profile.Source, int) {
	if min <= 0 || min > DefaultMinSources {
		min = DefaultMinSources
	}
	fallbacks := []profile.Source{
		{Title: "Malpedia: " + name, URL: MalpediaActorURL(name)},
		{Title: "Web search: " + name + " threat actor", URL: SearchURL(name + " threat actor")},
		{Title: "Web search: " + name + " cybersecurity advisory", URL: SearchURL(name + " cybersecurity advisory")},
	}

	out := append([]profile.Source(nil), srcs...)
	seen := make(map[string]struct{}, len(out))
	for _, s := range out {
		seen[profile.SourceKey(s.URL)] = struct{}{}
	}
	added := 0
	for _, f := range fallbacks {
		if len(out) >= min {
			break
		}
		if _, dup := seen[profile.SourceKey(f.URL)]; dup {
			continue
		}
		seen[profile.SourceKey(f.URL)] = struct{}{}
		out = append(out, f)
		added++
	}
	return out, added
}

// clean trims the candidate and rejects malformed or ephemeral URLs.
func clean(title, u string) (profile.Source, bool) {
	u = strings.TrimSpace(u)
	parsed, ok := parseHTTP(u)
	if !ok || IsEphemeral(u) {
		return profile.Source{}, false
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = parsed.Hostname()
	}
	return profile.Source{Title: title, URL: u}, true
}

// merge dedupes main by normalized URL and appends search URLs only while the
// non-search count is below the floor.
func merge(main, search []profile.Source) []profile.Source {
	seen := make(map[string]struct{})
	out := make([]profile.Source, 0, len(main))
	for _, s := range main {
		k := profile.SourceKey(s.URL)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	if len(out) >= DefaultMinSources {
		return out
	}
	for _, s := range search {
		k := profile.SourceKey(s.URL)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
