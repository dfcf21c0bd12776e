// Package sources assembles, filters and probes evidence URLs.
package sources

import (
	"net/url"
	"regexp"
	"strings"
)

// ephemeralPatterns match redirect and tracking URLs that expire or hide
// their destination. They are dropped whatever their origin.
var ephemeralPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://vertexaisearch\.cloud\.google\.com/grounding-api-redirect/`),
	regexp.MustCompile(`^https?://(www\.)?google\.[a-z.]+/url\?`),
	regexp.MustCompile(`^https?://(www\.)?bing\.com/ck/`),
	regexp.MustCompile(`^https?://t\.co/`),
	regexp.MustCompile(`^https?://(www\.)?bit\.ly/`),
	regexp.MustCompile(`^https?://(www\.)?tinyurl\.com/`),
	regexp.MustCompile(`^https?://lnkd\.in/`),
	regexp.MustCompile(`^https?://ow\.ly/`),
	regexp.MustCompile(`^https?://l\.facebook\.com/`),
	regexp.MustCompile(`^https?://[a-z0-9.-]*safelinks\.protection\.outlook\.com/`),
	regexp.MustCompile(`^https?://urldefense\.(com|proofpoint\.com)/`),
	regexp.MustCompile(`^https?://(www\.)?duckduckgo\.com/l/`),
}

// IsEphemeral reports whether u is a redirect or tracking URL.
func IsEphemeral(u string) bool {
	u = strings.ToLower(strings.TrimSpace(u))
	for _, p := range ephemeralPatterns {
		if p.MatchString(u) {
			return true
		}
	}
	return false
}

// IsSearchQuery reports whether u is a generic web-search results page.
func IsSearchQuery(u string) bool {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	q := parsed.Query()
	switch {
	case strings.HasPrefix(host, "google.") && parsed.Path == "/search":
		return q.Get("q") != ""
	case host == "bing.com" && parsed.Path == "/search":
		return q.Get("q") != ""
	case host == "duckduckgo.com" || host == "html.duckduckgo.com":
		return q.Get("q") != ""
	case host == "search.yahoo.com":
		return q.Get("p") != ""
	}
	return false
}

// Tier ranks whitelisted hosts. Lower is more authoritative.
type Tier int

const (
	NotListed Tier = iota
	TierAuthority
	TierVendor
	TierPress
)

func (t Tier) String() string {
	switch t {
	case TierAuthority:
		return "authority"
	case TierVendor:
		return "vendor"
	case TierPress:
		return "press"
	default:
		return "unlisted"
	}
}

type rule struct {
	host       string // exact host or parent domain
	pathPrefix string
	tier       Tier
}

// whitelist holds structurally stable domains and paths. It is never probed.
var whitelist = []rule{
	{"attack.mitre.org", "/groups/", TierAuthority},
	{"attack.mitre.org", "/software/", TierAuthority},
	{"attack.mitre.org", "/campaigns/", TierAuthority},
	{"nvd.nist.gov", "/vuln/detail/", TierAuthority},
	{"cisa.gov", "/news-events/cybersecurity-advisories/", TierAuthority},
	{"cisa.gov", "/known-exploited-vulnerabilities", TierAuthority},
	{"cve.org", "/CVERecord", TierAuthority},
	{"malpedia.caad.fkie.fraunhofer.de", "/actor/", TierAuthority},
	{"malpedia.caad.fkie.fraunhofer.de", "/details/", TierAuthority},
	{"ncsc.gov.uk", "/", TierAuthority},

	{"microsoft.com", "/en-us/security/blog/", TierVendor},
	{"cloud.google.com", "/blog/topics/threat-intelligence/", TierVendor},
	{"mandiant.com", "/resources/blog/", TierVendor},
	{"crowdstrike.com", "/blog/", TierVendor},
	{"unit42.paloaltonetworks.com", "/", TierVendor},
	{"blog.talosintelligence.com", "/", TierVendor},
	{"securelist.com", "/", TierVendor},
	{"welivesecurity.com", "/", TierVendor},
	{"symantec-enterprise-blogs.security.com", "/", TierVendor},
	{"proofpoint.com", "/us/blog/threat-insight/", TierVendor},
	{"sentinelone.com", "/labs/", TierVendor},
	{"secureworks.com", "/research/", TierVendor},
	{"recordedfuture.com", "/research/", TierVendor},

	{"therecord.media", "/", TierPress},
	{"bleepingcomputer.com", "/news/security/", TierPress},
	{"thehackernews.com", "/", TierPress},
	{"securityweek.com", "/", TierPress},
	{"darkreading.com", "/", TierPress},
	{"krebsonsecurity.com", "/", TierPress},
	{"en.wikipedia.org", "/wiki/", TierPress},
}

// Classify returns the whitelist tier of u, or NotListed.
func Classify(u string) Tier {
	parsed, ok := parseHTTP(u)
	if !ok {
		return NotListed
	}
	host := strings.ToLower(parsed.Hostname())
	for _, r := range whitelist {
		if host != r.host && !strings.HasSuffix(host, "."+r.host) {
			continue
		}
		if strings.HasPrefix(parsed.Path, r.pathPrefix) {
			return r.tier
		}
	}
	return NotListed
}

// IsWhitelisted reports whether u is on any tier of the whitelist.
func IsWhitelisted(u string) bool {
	return Classify(u) != NotListed
}

func parseHTTP(u string) (*url.URL, bool) {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil || parsed.Host == "" {
		return nil, false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, false
	}
	return parsed, true
}

// SearchURL builds a web-search query URL.
func SearchURL(query string) string {
	return "https://www.google.com/search?q=" + url.QueryEscape(query)
}

// MalpediaActorURL builds the Malpedia actor page for name.
func MalpediaActorURL(name string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "_"), "_")
	return "https://malpedia.caad.fkie.fraunhofer.de/actor/" + slug
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)
