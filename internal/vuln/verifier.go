// Package vuln confirms vulnerability identifiers against the NVD CVE API.
package vuln

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iyulab/actor-profiler/internal/logging"
	"github.com/iyulab/actor-profiler/internal/metrics"
	"github.com/iyulab/actor-profiler/internal/profile"
)

const (
	DefaultEndpoint    = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	DefaultMinInterval = 6500 * time.Millisecond
	DefaultTimeout     = 10 * time.Second
)

// Status is the outcome of one lookup.
type Status int

const (
	// Unavailable means the authority could not answer. Callers keep the entry.
	Unavailable Status = iota
	Found
	NotFound
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "unavailable"
	}
}

// Lookup is the result of verifying one identifier.
type Lookup struct {
	ID       string
	Status   Status
	Severity profile.Severity // empty when NVD carries no rating
}

// Options configures a Verifier. Zero values take the defaults.
type Options struct {
	Endpoint    string
	APIKey      string
	MinInterval time.Duration
	Timeout     time.Duration
	Client      *http.Client
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

// Verifier serializes calls to the authority process-wide. One Verifier should
// be shared by every request.
type Verifier struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	metrics  *metrics.Collector
}

var errUpstream = errors.New("nvd upstream error")

// NewVerifier creates a Verifier.
func NewVerifier(opts Options) *Verifier {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	logger := logging.OrNop(opts.Logger)

	return &Verifier{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		client:   opts.Client,
		limiter:  rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "nvd",
			MaxRequests: 1,
			Interval:    5 * time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Lookup verifies one identifier. The returned error explains an Unavailable
// status and is nil otherwise. Waiting for the rate limiter does not count
// against the per-call timeout.
func (v *Verifier) Lookup(ctx context.Context, id string) (Lookup, error) {
	res := Lookup{ID: id, Status: Unavailable}

	if err := v.limiter.Wait(ctx); err != nil {
		v.metrics.CountNVDLookup(res.Status.String())
		return res, fmt.Errorf("wait for rate limiter: %w", err)
	}

	out, err := v.breaker.Execute(func() (interface{}, error) {
		return v.fetch(ctx, id)
	})
	if err != nil {
		v.metrics.CountNVDLookup(res.Status.String())
		return res, err
	}

	res = out.(Lookup)
	v.metrics.CountNVDLookup(res.Status.String())
	return res, nil
}

func (v *Verifier) fetch(ctx context.Context, id string) (Lookup, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"?cveId="+url.QueryEscape(id), nil)
	if err != nil {
		return Lookup{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("apiKey", v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return Lookup{}, fmt.Errorf("nvd request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Lookup{}, fmt.Errorf("%w: status %d", errUpstream, resp.StatusCode)
	}

	var body nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Lookup{}, fmt.Errorf("decode nvd response: %w", err)
	}

	if body.TotalResults == 0 || len(body.Vulnerabilities) == 0 {
		return Lookup{ID: id, Status: NotFound}, nil
	}
	return Lookup{ID: id, Status: Found, Severity: body.Vulnerabilities[0].CVE.Metrics.severity()}, nil
}

type nvdResponse struct {
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE struct {
			ID      string     `json:"id"`
			Metrics nvdMetrics `json:"metrics"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

type cvssV3 struct {
	CVSSData struct {
		BaseSeverity string `json:"baseSeverity"`
	} `json:"cvssData"`
}

type nvdMetrics struct {
	V31 []cvssV3 `json:"cvssMetricV31"`
	V30 []cvssV3 `json:"cvssMetricV30"`
	V2  []struct {
		BaseSeverity string `json:"baseSeverity"`
	} `json:"cvssMetricV2"`
}

// severity prefers CVSS v3.1, then v3.0, then v2.
func (m nvdMetrics) severity() profile.Severity {
	var candidates []string
	for _, x := range m.V31 {
		candidates = append(candidates, x.CVSSData.BaseSeverity)
	}
	for _, x := range m.V30 {
		candidates = append(candidates, x.CVSSData.BaseSeverity)
	}
	for _, x := range m.V2 {
		candidates = append(candidates, x.BaseSeverity)
	}
	for _, c := range candidates {
		if s, ok := profile.ParseSeverity(c); ok {
			return s
		}
	}
	return ""
}
