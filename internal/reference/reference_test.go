package reference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/actor-profiler/internal/metrics"
)

const bundle = `{
  "type": "bundle",
  "objects": [
    {
      "type": "intrusion-set",
      "name": "APT28",
      "aliases": ["APT28", "Fancy Bear", "Sofacy", "STRONTIUM"],
      "created": "2017-05-31T21:31:48.664Z",
      "first_seen": "2004-01-01T00:00:00.000Z",
      "external_references": [
        {"source_name": "mitre-attack", "external_id": "G0007", "url": "https://attack.mitre.org/groups/G0007"}
      ]
    },
    {
      "type": "intrusion-set",
      "name": "APT29",
      "aliases": ["APT29", "Cozy Bear", "The Dukes", "NOBELIUM"],
      "created": "2017-05-31T21:31:52.748Z",
      "external_references": [
        {"source_name": "mitre-attack", "external_id": "G0016", "url": "https://attack.mitre.org/groups/G0016"}
      ]
    },
    {"type": "intrusion-set", "name": "Old Group", "revoked": true},
    {"type": "intrusion-set", "name": "Retired Group", "x_mitre_deprecated": true},
    {"type": "malware", "name": "Cobalt Strike", "x_mitre_aliases": ["Cobalt Strike", "BEACON"]},
    {"type": "tool", "name": "Mimikatz"},
    {"type": "attack-pattern", "name": "Phishing"}
  ]
}`

func TestParseSTIX(t *testing.T) {
	tax, err := ParseSTIX(strings.NewReader(bundle))
	require.NoError(t, err)
	assert.Equal(t, 2, tax.Len())

	e, ok := tax.Lookup("fancy bear")
	require.True(t, ok)
	assert.Equal(t, "APT28", e.Name)
	assert.Equal(t, "G0007", e.ID)
	assert.Equal(t, "2004", e.FirstSeen)
	assert.Equal(t, "https://attack.mitre.org/groups/G0007", e.URL)

	e, ok = tax.Lookup("APT-29")
	require.True(t, ok)
	assert.Equal(t, "2017", e.FirstSeen, "falls back to created year")

	owner, ok := tax.Owner("NOBELIUM")
	require.True(t, ok)
	assert.Equal(t, "APT29", owner)

	_, ok = tax.Lookup("Old Group")
	assert.False(t, ok)
	_, ok = tax.Lookup("Retired Group")
	assert.False(t, ok)

	assert.True(t, tax.IsTool("beacon"))
	assert.True(t, tax.IsTool("Mimikatz"))
	assert.False(t, tax.IsTool("Phishing"))
}

func TestParseSTIX_Invalid(t *testing.T) {
	_, err := ParseSTIX(strings.NewReader("{not json"))
	assert.Error(t, err)
}

func TestNewTaxonomy_FirstOwnerWins(t *testing.T) {
	tax := NewTaxonomy([]Entry{
		{Name: "Alpha", Aliases: []string{"Shared"}},
		{Name: "Beta", Aliases: []string{"shared"}},
	}, nil)
	owner, ok := tax.Owner("SHARED")
	require.True(t, ok)
	assert.Equal(t, "Alpha", owner)
}

func TestNilTaxonomy(t *testing.T) {
	var tax *Taxonomy
	_, ok := tax.Lookup("x")
	assert.False(t, ok)
	assert.False(t, tax.IsTool("x"))
	assert.Zero(t, tax.Len())
	assert.Zero(t, tax.ToolCount())
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCache_TTLAndStale(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var calls atomic.Int32
	var fail atomic.Bool

	fetcher := FetcherFunc(func(ctx context.Context) (*Taxonomy, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("upstream down")
		}
		return NewTaxonomy([]Entry{{Name: "APT29"}}, nil), nil
	})
	m := metrics.New("test")
	c := NewCache(fetcher, DefaultTTL, WithClock(clock.Now), WithMetrics(m))
	ctx := context.Background()

	tax, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tax.Len())
	assert.EqualValues(t, 1, calls.Load())

	clock.Advance(23 * time.Hour)
	_, err = c.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "fresh snapshot served from cache")

	clock.Advance(2 * time.Hour)
	fail.Store(true)
	tax, err = c.Snapshot(ctx)
	assert.Error(t, err)
	require.NotNil(t, tax)
	assert.Equal(t, 1, tax.Len(), "stale taxonomy served on failure")
	assert.EqualValues(t, 2, calls.Load())

	fail.Store(false)
	_, err = c.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load(), "failed refresh does not reset the clock")
	assert.Equal(t, clock.Now(), c.FetchedAt())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReferenceRefresh.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReferenceRefresh.WithLabelValues("error")))
}

func TestCache_NeverLoaded(t *testing.T) {
	c := NewCache(FetcherFunc(func(ctx context.Context) (*Taxonomy, error) {
		return nil, errors.New("offline")
	}), time.Hour)

	tax, err := c.Snapshot(context.Background())
	assert.Error(t, err)
	require.NotNil(t, tax)
	assert.Zero(t, tax.Len())
	assert.True(t, c.FetchedAt().IsZero())
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(bundle))
	}))
	defer srv.Close()

	tax, err := NewHTTPFetcher(srv.URL, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, tax.Len())
}

func TestHTTPFetcher_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.URL, time.Second).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
