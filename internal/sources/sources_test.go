package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/actor-profiler/internal/metrics"
	"github.com/iyulab/actor-profiler/internal/profile"
)

func urls(srcs []profile.Source) []string {
	out := make([]string, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, s.URL)
	}
	return out
}

func TestIsEphemeral(t *testing.T) {
	for _, u := range []string{
		"https://vertexaisearch.cloud.google.com/grounding-api-redirect/AbC123",
		"https://www.google.com/url?q=https://example.com",
		"https://t.co/xyz",
		"https://bit.ly/3abc",
		"https://nam02.safelinks.protection.outlook.com/?url=x",
	} {
		assert.True(t, IsEphemeral(u), u)
	}
	assert.False(t, IsEphemeral("https://attack.mitre.org/groups/G0016/"))
}

func TestIsSearchQuery(t *testing.T) {
	assert.True(t, IsSearchQuery(SearchURL("APT29 threat actor")))
	assert.True(t, IsSearchQuery("https://www.bing.com/search?q=apt29"))
	assert.False(t, IsSearchQuery("https://www.google.com/search"))
	assert.False(t, IsSearchQuery("https://attack.mitre.org/groups/G0016/"))
}

func TestClassify(t *testing.T) {
	tests := map[string]Tier{
		"https://attack.mitre.org/groups/G0016/":                                      TierAuthority,
		"https://www.cisa.gov/news-events/cybersecurity-advisories/aa21-116a":         TierAuthority,
		"https://www.microsoft.com/en-us/security/blog/2024/01/25/midnight-blizzard/": TierVendor,
		"https://en.wikipedia.org/wiki/Cozy_Bear":                                     TierPress,
		"https://attack.mitre.org/":                                                   NotListed,
		"https://random-blog.example/apt29":                                           NotListed,
		"ftp://attack.mitre.org/groups/G0016/":                                        NotListed,
	}
	for u, want := range tests {
		assert.Equal(t, want, Classify(u), u)
	}
}

func TestAssemble(t *testing.T) {
	v := NewValidator()
	out := v.Assemble([]Candidate{
		{Title: "model wiki", URL: "https://en.wikipedia.org/wiki/Cozy_Bear", Origin: OriginModel},
		{Title: "model blog", URL: "https://random-blog.example/apt29", Origin: OriginModel},
		{Title: "grounding", URL: "https://random-blog.example/grounded", Origin: OriginGrounding},
		{Title: "redirect", URL: "https://vertexaisearch.cloud.google.com/grounding-api-redirect/x", Origin: OriginGrounding},
		{Title: "mitre", URL: "https://attack.mitre.org/groups/G0016/", Origin: OriginRegistry},
		{Title: "approved", URL: "https://intel.example/report", Origin: OriginApproved},
		{Title: "mitre dup", URL: "https://attack.mitre.org/groups/G0016", Origin: OriginModel},
		{Title: "search", URL: SearchURL("APT29"), Origin: OriginModel},
		{Title: "bad", URL: "not a url", Origin: OriginApproved},
	})

	assert.Equal(t, []string{
		"https://intel.example/report",
		"https://attack.mitre.org/groups/G0016/",
		"https://random-blog.example/grounded",
		"https://en.wikipedia.org/wiki/Cozy_Bear",
	}, urls(out))
}

func TestAssemble_SearchOnlyBelowFloor(t *testing.T) {
	v := NewValidator()
	out := v.Assemble([]Candidate{
		{URL: SearchURL("APT29"), Origin: OriginModel},
		{URL: "https://attack.mitre.org/groups/G0016/", Origin: OriginRegistry},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "attack.mitre.org", out[0].Title, "empty title falls back to host")
	assert.True(t, IsSearchQuery(out[1].URL))
}

func TestAssemble_TrailingSlashDuplicate(t *testing.T) {
	out := NewValidator().Assemble([]Candidate{
		{Title: "first", URL: "https://intel.example/report/", Origin: OriginApproved},
		{Title: "second", URL: "https://intel.example/report", Origin: OriginGrounding},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Title)
}

func asCandidates(srcs []profile.Source, origin Origin) []Candidate {
	out := make([]Candidate, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, Candidate{Title: s.Title, URL: s.URL, Origin: origin})
	}
	return out
}

func TestAssemble_Idempotent(t *testing.T) {
	v := NewValidator()
	once := v.Assemble([]Candidate{
		{Title: "a", URL: "https://intel.example/a", Origin: OriginApproved},
		{Title: "redirect", URL: "https://t.co/abc", Origin: OriginGrounding},
		{Title: "g", URL: "https://intel.example/a/", Origin: OriginGrounding},
		{Title: "s", URL: SearchURL("x"), Origin: OriginModel},
	})
	twice := v.Assemble(asCandidates(once, OriginRegistry))
	assert.Equal(t, once, twice)
	for _, u := range urls(twice) {
		assert.False(t, IsEphemeral(u))
	}
}

func TestProbe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ok.Close()

	noHead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Range") != "bytes=0-0" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer noHead.Close()

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	redirect := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, ok.URL, http.StatusMovedPermanently)
	}))
	defer redirect.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	v := NewValidator(WithProbeTimeout(time.Second))
	ctx := context.Background()
	assert.True(t, v.Probe(ctx, ok.URL))
	assert.True(t, v.Probe(ctx, noHead.URL))
	assert.True(t, v.Probe(ctx, redirect.URL))
	assert.False(t, v.Probe(ctx, missing.URL))
	assert.False(t, v.Probe(ctx, closedURL))
}

func TestValidate(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/dead") {
			w.WriteHeader(http.StatusGone)
		}
	}))
	defer live.Close()

	m := metrics.New("test")
	v := NewValidator(WithProbeTimeout(time.Second), WithMetrics(m))
	out := v.Validate(context.Background(), []profile.Source{
		{Title: "dead", URL: live.URL + "/dead"},
		{Title: "mitre", URL: "https://attack.mitre.org/groups/G0016/"},
		{Title: "live", URL: live.URL + "/live"},
		{Title: "search", URL: SearchURL("APT29")},
		{Title: "redirect", URL: "https://bit.ly/abc"},
		{Title: "nvd", URL: "https://nvd.nist.gov/vuln/detail/CVE-2018-13379"},
	})

	assert.Equal(t, []string{
		"https://attack.mitre.org/groups/G0016/",
		live.URL + "/live",
		"https://nvd.nist.gov/vuln/detail/CVE-2018-13379",
	}, urls(out))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProbeResults.WithLabelValues("whitelisted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbeResults.WithLabelValues("dead")))
}

func TestValidate_HungHostsDoNotQueue(t *testing.T) {
	release := make(chan struct{})
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/live") {
			return
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer hung.Close()
	defer close(release)

	var in []profile.Source
	for i := 0; i < 16; i++ {
		in = append(in, profile.Source{URL: fmt.Sprintf("%s/hung/%d", hung.URL, i)})
	}
	in = append(in, profile.Source{Title: "live", URL: hung.URL + "/live"})

	// A hung URL costs one HEAD and one GET timeout. Probes that waited for
	// a free slot would need several of those windows.
	v := NewValidator(WithProbeTimeout(300 * time.Millisecond))
	start := time.Now()
	out := v.Validate(context.Background(), in)
	elapsed := time.Since(start)

	assert.Equal(t, []string{hung.URL + "/live"}, urls(out))
	assert.Less(t, elapsed, 1100*time.Millisecond)
}

func TestBackstop(t *testing.T) {
	out, added := Backstop("Cozy Bear", nil, 3)
	assert.Equal(t, 3, added)
	require.Len(t, out, 3)
	assert.Equal(t, "https://malpedia.caad.fkie.fraunhofer.de/actor/cozy_bear", out[0].URL)

	existing := []profile.Source{
		{Title: "m", URL: "https://malpedia.caad.fkie.fraunhofer.de/actor/cozy_bear/"},
		{Title: "x", URL: "https://intel.example/x"},
	}
	out, added = Backstop("Cozy Bear", existing, 3)
	assert.Equal(t, 1, added)
	require.Len(t, out, 3)
	assert.Equal(t, SearchURL("Cozy Bear threat actor"), out[2].URL)

	out, added = Backstop("Cozy Bear", out, 3)
	assert.Zero(t, added)
	assert.Len(t, out, 3)
}

func TestBackstop_FloorAboveFallbacksIsCapped(t *testing.T) {
	existing := []profile.Source{{Title: "ATT&CK", URL: "https://attack.mitre.org/groups/G0016/"}}
	for _, min := range []int{5, 10} {
		out, added := Backstop("APT29", existing, min)
		assert.Equal(t, 2, added)
		require.Len(t, out, DefaultMinSources)

		again := NewValidator().Assemble(asCandidates(out, OriginRegistry))
		assert.Equal(t, out, again)
	}
}
